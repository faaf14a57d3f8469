// Package combo 将每条源记录展开为其次诊断的全部子组合。
//
// 对每条源记录：先原样写出源行，再按掩码 0..2^k-1 递增写出组合行。
// 掩码第 j 位（自左向右的第 j 个已填充次诊断槽）为 1 表示保留该槽，
// 为 0 表示置空；DIAG_01 恒不变。组合行的 PROVSPNO 改写为
// `<源标识>|Combination|<序号>`，序号由 Generator 实例持有，自 1 起全程递增。
package combo

import (
	"context"
	"fmt"

	"spellcombo/pkg/contract"
)

// MaxSecondary 为单行可展开的次诊断数量上限；超过时只写源行。
const MaxSecondary = 20

// ShortRowPolicy: 字段数少于表头的源行的处理方式。
type ShortRowPolicy string

const (
	// ShortRowsPad 以空字段补齐后照常写出与展开（默认）。
	ShortRowsPad ShortRowPolicy = "pad"
	// ShortRowsSkip 整行丢弃。
	ShortRowsSkip ShortRowPolicy = "skip"
)

// ParseShortRows 解析策略名；空串视为默认 pad。
func ParseShortRows(s string) (ShortRowPolicy, error) {
	switch ShortRowPolicy(s) {
	case "", ShortRowsPad:
		return ShortRowsPad, nil
	case ShortRowsSkip:
		return ShortRowsSkip, nil
	default:
		return "", fmt.Errorf("%w: short_rows must be pad or skip, got %q", contract.ErrInvalidInput, s)
	}
}

// Stats 为运行统计（仅观测用途）。
type Stats struct {
	Source       uint64 // 已写出的源行
	Combinations uint64 // 已写出的组合行
	Capped       uint64 // 次诊断超过上限、未展开的源行
	Malformed    uint64 // 因字段数不符而丢弃的行
}

// Options 为 Generator 的可选配置。
type Options struct {
	ShortRows ShortRowPolicy
}

// EmitFunc 接收一行输出。fields 在返回后会被复用，调用方不得持有。
type EmitFunc func(fields []string) error

// Generator 持有列布局与全程序号。非并发安全。
type Generator struct {
	layout  contract.Layout
	short   ShortRowPolicy
	ordinal uint64
	stats   Stats

	buf  []string
	slot []int
}

// New 创建 Generator。序号从 1 开始。
func New(layout contract.Layout, opts Options) *Generator {
	short := opts.ShortRows
	if short == "" {
		short = ShortRowsPad
	}
	return &Generator{
		layout: layout,
		short:  short,
		buf:    make([]string, layout.Width()),
	}
}

// Stats 返回当前统计快照。
func (g *Generator) Stats() Stats { return g.stats }

// LastOrdinal 返回最近一次分配的序号；尚未分配时为 0。
func (g *Generator) LastOrdinal() uint64 { return g.ordinal }

// Expand 写出 rec 的源行及其全部组合行。
//
// 行级缺陷以包装后的哨兵错误返回，调用方记录后继续：
//   - 字段多于表头，或短行且策略为 skip：不写出任何行，返回 ErrRowMalformed；
//   - 次诊断数超过 MaxSecondary：仅写出源行，返回 ErrTooManySecondary。
//
// 其他错误（emit 失败、ctx 取消）为致命错误。
func (g *Generator) Expand(ctx context.Context, rec contract.Record, emit EmitFunc) error {
	width := g.layout.Width()
	n := len(rec.Fields)
	if n > width {
		g.stats.Malformed++
		return fmt.Errorf("%w: line %d has %d fields, header has %d", contract.ErrRowMalformed, rec.Line, n, width)
	}
	if n < width && g.short == ShortRowsSkip {
		g.stats.Malformed++
		return fmt.Errorf("%w: line %d has %d fields, header has %d", contract.ErrRowMalformed, rec.Line, n, width)
	}

	// 源行：短行补齐空字段
	row := g.buf[:width]
	copy(row, rec.Fields)
	for i := n; i < width; i++ {
		row[i] = ""
	}
	if err := emit(row); err != nil {
		return err
	}
	g.stats.Source++

	g.slot = g.layout.AppendSecondary(g.slot[:0], row)
	k := len(g.slot)
	if k > MaxSecondary {
		g.stats.Capped++
		return fmt.Errorf("%w: line %d has %d secondary codes (max %d)", contract.ErrTooManySecondary, rec.Line, k, MaxSecondary)
	}

	root := row[g.layout.Spell]
	codes := make([]string, k)
	for j, i := range g.slot {
		codes[j] = row[i]
	}
	total := uint64(1) << uint(k)
	for mask := uint64(0); mask < total; mask++ {
		// 大 k 时按块检查取消
		if mask&4095 == 4095 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for j, i := range g.slot {
			if mask&(1<<uint(j)) != 0 {
				row[i] = codes[j]
			} else {
				row[i] = ""
			}
		}
		g.ordinal++
		row[g.layout.Spell] = contract.AnnotateSpell(root, g.ordinal)
		if err := emit(row); err != nil {
			return err
		}
		g.stats.Combinations++
	}
	return nil
}
