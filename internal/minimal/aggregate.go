// Package minimal 实现两遍式最小代表行筛选：
// 第一遍（Aggregator）按病程根汇总最小诊断占用数，
// 第二遍（Filter）只保留占用数等于该根最小值的行。
package minimal

import (
	"context"
	"errors"
	"fmt"

	"spellcombo/pkg/contract"
)

// AggregateStats 为第一遍统计（仅观测用途）。
type AggregateStats struct {
	Rows      uint64 // 已计入病程表的行
	Malformed uint64 // 短行，跳过且不计入
	Unstored  uint64 // 病程表已满、根未被存储的行
}

// Aggregator 将行流汇总到 SpellTable。非并发安全。
type Aggregator struct {
	layout contract.Layout
	table  contract.SpellTable
	stats  AggregateStats
	full   bool
}

// NewAggregator 创建第一遍汇总器；table 由调用方持有并负责 Close。
func NewAggregator(layout contract.Layout, table contract.SpellTable) *Aggregator {
	return &Aggregator{layout: layout, table: table}
}

// Stats 返回当前统计快照。
func (a *Aggregator) Stats() AggregateStats { return a.stats }

// Full 报告病程表是否曾拒绝新根。
func (a *Aggregator) Full() bool { return a.full }

// Observe 计入一行：短行返回 ErrRowMalformed（跳过）；
// 表满时新根返回 ErrCapacity（不存储）。二者均为非致命错误。
func (a *Aggregator) Observe(ctx context.Context, rec contract.Record) error {
	if len(rec.Fields) < a.layout.Width() {
		a.stats.Malformed++
		return fmt.Errorf("%w: line %d has %d fields, header has %d",
			contract.ErrRowMalformed, rec.Line, len(rec.Fields), a.layout.Width())
	}
	root := contract.SpellRoot(a.layout.SpellID(rec.Fields))
	occ := a.layout.Occupancy(rec.Fields)
	if err := a.table.Observe(ctx, root, occ); err != nil {
		if errors.Is(err, contract.ErrCapacity) {
			a.full = true
			a.stats.Unstored++
			return fmt.Errorf("line %d root %q: %w", rec.Line, root, err)
		}
		return err
	}
	a.stats.Rows++
	return nil
}
