// Package sqlite 提供基于临时 SQLite 文件的 SpellTable，
// 适用于病程根数量超出内存承受范围的输入。
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"spellcombo/pkg/contract"
)

// Options 为 SQLite 病程表的可选配置。
type Options struct {
	// Dir: 临时数据库所在目录；为空使用系统临时目录。
	Dir string `json:"dir,omitempty"`
	// MaxRoots: 不同病程根数量上限；0 表示不限制。
	MaxRoots int `json:"max_roots"`
	// CacheKiB: SQLite 页缓存大小（KiB）；<=0 使用 8192。
	CacheKiB int `json:"cache_kib,omitempty"`
}

const schema = `CREATE TABLE IF NOT EXISTS spell_min (
	root TEXT PRIMARY KEY,
	occupancy INTEGER NOT NULL
) WITHOUT ROWID`

// Table 为单次运行私有的 SQLite 表；Close 时删除数据库文件。
type Table struct {
	db     *sql.DB
	path   string
	max    int
	n      int
	upsert *sql.Stmt
	lookup *sql.Stmt
}

var _ contract.SpellTable = (*Table)(nil)

// New 创建临时数据库并建表。
func New(opts *Options) (*Table, error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.MaxRoots < 0 {
		return nil, contract.ErrInvalidInput
	}
	f, err := os.CreateTemp(opts.Dir, "spellcombo-*.db")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	_ = f.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	// 单连接：表仅被一个 goroutine 使用，且避免多连接下的锁竞争
	db.SetMaxOpenConns(1)
	t := &Table{db: db, path: path, max: opts.MaxRoots}
	if err := t.init(opts); err != nil {
		_ = t.Close()
		return nil, err
	}
	return t, nil
}

func (t *Table) init(opts *Options) error {
	cache := opts.CacheKiB
	if cache <= 0 {
		cache = 8192
	}
	pragmas := []string{
		"PRAGMA journal_mode=OFF",
		"PRAGMA synchronous=OFF",
		fmt.Sprintf("PRAGMA cache_size=-%d", cache),
	}
	for _, p := range pragmas {
		if _, err := t.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite %s: %w", p, err)
		}
	}
	if _, err := t.db.Exec(schema); err != nil {
		return err
	}
	var err error
	t.upsert, err = t.db.Prepare(`INSERT INTO spell_min(root, occupancy) VALUES(?, ?)
		ON CONFLICT(root) DO UPDATE SET occupancy = MIN(occupancy, excluded.occupancy)`)
	if err != nil {
		return err
	}
	t.lookup, err = t.db.Prepare(`SELECT occupancy FROM spell_min WHERE root = ?`)
	return err
}


func (t *Table) Observe(ctx context.Context, root string, occupancy int) error {
	_, exists, err := t.Min(ctx, root)
	if err != nil {
		return err
	}
	if !exists && t.max > 0 && t.n >= t.max {
		return contract.ErrCapacity
	}
	if _, err := t.upsert.ExecContext(ctx, root, occupancy); err != nil {
		return err
	}
	if !exists {
		t.n++
	}
	return nil
}

func (t *Table) Min(ctx context.Context, root string) (int, bool, error) {
	var v int
	err := t.lookup.QueryRowContext(ctx, root).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (t *Table) Len() int { return t.n }

// Close 关闭连接并删除数据库文件（含可能的 -journal 残留）。
func (t *Table) Close() error {
	var errs []error
	for _, s := range []*sql.Stmt{t.upsert, t.lookup} {
		if s != nil {
			errs = append(errs, s.Close())
		}
	}
	if t.db != nil {
		errs = append(errs, t.db.Close())
		t.db = nil
	}
	for _, p := range []string{t.path, t.path + "-journal"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
