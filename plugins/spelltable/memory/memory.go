package memory

import (
	"context"

	"spellcombo/pkg/contract"
)

// Options 为内存病程表的可选配置。
type Options struct {
	// MaxRoots: 可容纳的不同病程根数量上限；0 表示不限制。
	MaxRoots int `json:"max_roots"`
}

// Table 基于 map 的 SpellTable 实现，单 goroutine 使用。
type Table struct {
	m   map[string]int
	max int
}

var _ contract.SpellTable = (*Table)(nil)

// New 创建内存表。opts 可为 nil。
func New(opts *Options) (*Table, error) {
	t := &Table{m: make(map[string]int)}
	if opts != nil {
		if opts.MaxRoots < 0 {
			return nil, contract.ErrInvalidInput
		}
		t.max = opts.MaxRoots
	}
	return t, nil
}

func (t *Table) Observe(ctx context.Context, root string, occupancy int) error {
	cur, ok := t.m[root]
	if ok {
		if occupancy < cur {
			t.m[root] = occupancy
		}
		return nil
	}
	if t.max > 0 && len(t.m) >= t.max {
		return contract.ErrCapacity
	}
	t.m[root] = occupancy
	return nil
}

func (t *Table) Min(ctx context.Context, root string) (int, bool, error) {
	v, ok := t.m[root]
	return v, ok, nil
}

func (t *Table) Len() int { return len(t.m) }

func (t *Table) Close() error {
	t.m = nil
	return nil
}
