package pipeline

import (
	"context"
	"fmt"
	"io"
	"slices"

	"spellcombo/pkg/contract"
)

// Replay 向第二遍重新交付第一遍已汇总的行集。
type Replay interface {
	// Keep 在第一遍登记已接受的行。
	Keep(rec contract.Record)
	// Open 返回第二遍的行源；调用方负责 Close。
	Open(ctx context.Context) (contract.RowScanner, io.Closer, error)
}

// memoryReplay 缓存全部已接受行。
type memoryReplay struct {
	header []string
	raw    []string
	rows   []contract.Record
}

func newMemoryReplay(scan contract.RowScanner) *memoryReplay {
	return &memoryReplay{header: scan.Header(), raw: scan.RawHeader()}
}

func (m *memoryReplay) Keep(rec contract.Record) { m.rows = append(m.rows, rec) }

func (m *memoryReplay) Open(ctx context.Context) (contract.RowScanner, io.Closer, error) {
	return &sliceScanner{header: m.header, raw: m.raw, rows: m.rows}, io.NopCloser(nil), nil
}

type sliceScanner struct {
	header []string
	raw    []string
	rows   []contract.Record
	i      int
}

func (s *sliceScanner) Header() []string    { return s.header }
func (s *sliceScanner) RawHeader() []string { return s.raw }

func (s *sliceScanner) Next() (contract.Record, error) {
	if s.i >= len(s.rows) {
		return contract.Record{}, io.EOF
	}
	r := s.rows[s.i]
	s.i++
	return r, nil
}

// reopenReplay 重新打开同一输入；表头必须与第一遍一致。
type reopenReplay struct {
	comp   Components
	path   string
	header []string
}

func (r *reopenReplay) Keep(contract.Record) {}

func (r *reopenReplay) Open(ctx context.Context) (contract.RowScanner, io.Closer, error) {
	src, err := openSource(ctx, r.comp, r.path)
	if err != nil {
		return nil, nil, fmt.Errorf("reopen: %w", err)
	}
	if !slices.Equal(src.scan.Header(), r.header) {
		_ = src.Close()
		return nil, nil, fmt.Errorf("%w: input header changed between passes", contract.ErrInvariantViolation)
	}
	return src.scan, src, nil
}

// newReplay 按模式构造重放；STDIN 输入强制 memory。
func newReplay(mode ReplayMode, comp Components, path string, scan contract.RowScanner) (Replay, ReplayMode) {
	if mode == ReplayReopen && path != "-" {
		return &reopenReplay{comp: comp, path: path, header: scan.Header()}, ReplayReopen
	}
	return newMemoryReplay(scan), ReplayMemory
}
