package minimal

import (
	"context"
	"fmt"

	"spellcombo/pkg/contract"
)

// FilterStats 为第二遍统计（仅观测用途）。
type FilterStats struct {
	Total     uint64
	Written   uint64
	Skipped   uint64 // 占用数大于最小值
	Malformed uint64
	Orphan    uint64 // 根不在病程表中
}

// Trace 为单行判定的观测点：PROVSPNO 原值、root、占用数、表中最小值（found=false 表示缺失）。
type Trace func(line int64, id, root string, occupancy, min int, found, kept bool)

// Filter 依据已完成的病程表判定行去留。表只读。
type Filter struct {
	layout contract.Layout
	table  contract.SpellTable
	trace  Trace
	stats  FilterStats
}

// NewFilter 创建第二遍过滤器；trace 可为 nil。
func NewFilter(layout contract.Layout, table contract.SpellTable, trace Trace) *Filter {
	return &Filter{layout: layout, table: table, trace: trace}
}

// Stats 返回当前统计快照。
func (f *Filter) Stats() FilterStats { return f.stats }

// Keep 判定 rec 是否保留。短行返回 ErrRowMalformed（不保留）；
// 表查询失败为致命错误。
func (f *Filter) Keep(ctx context.Context, rec contract.Record) (bool, error) {
	f.stats.Total++
	if len(rec.Fields) < f.layout.Width() {
		f.stats.Malformed++
		return false, fmt.Errorf("%w: line %d has %d fields, header has %d",
			contract.ErrRowMalformed, rec.Line, len(rec.Fields), f.layout.Width())
	}
	id := f.layout.SpellID(rec.Fields)
	root := contract.SpellRoot(id)
	occ := f.layout.Occupancy(rec.Fields)
	min, found, err := f.table.Min(ctx, root)
	if err != nil {
		return false, fmt.Errorf("lookup %q: %w", root, err)
	}
	kept := found && occ == min
	switch {
	case !found:
		f.stats.Orphan++
	case kept:
		f.stats.Written++
	default:
		f.stats.Skipped++
	}
	if f.trace != nil {
		f.trace(rec.Line, id, root, occ, min, found, kept)
	}
	return kept, nil
}
