package contract

import "context"

// SpellTable: 病程根 → 最小诊断占用数的映射（单次运行私有）。
// 约束：
//  1. 第一遍只写（Observe），第二遍只读（Min）；
//  2. Observe 对已存在的根仅在新值严格更小时替换；
//  3. 容量满时新根返回 ErrCapacity 且不写入，已存在的根照常更新；
//  4. Close 释放全部资源，不跨运行持久化。
type SpellTable interface {
	Observe(ctx context.Context, root string, occupancy int) error
	Min(ctx context.Context, root string) (occupancy int, ok bool, err error)
	Len() int
	Close() error
}
