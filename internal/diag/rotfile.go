package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	defaultRotateBytes = 10 << 20
	defaultKeep        = 5
	rotatedPattern     = "spellcombo-2*.log"
)

// RotatingFile 是按大小轮转的日志落点，供 zap core 使用。
// 当前文件恒为 DefaultLogFile；超限后改名为 spellcombo-<UTC 时间戳>.log，
// 仅保留最近 keep 个历史文件。
type RotatingFile struct {
	dir      string
	maxBytes int64
	keep     int

	mu   sync.Mutex
	f    *os.File
	size int64
}

var _ zapcore.WriteSyncer = (*RotatingFile)(nil)

// NewRotatingFile 不立即建目录，首次写入时才打开文件。maxBytes/keep 非正取默认。
func NewRotatingFile(dir string, maxBytes int64, keep int) *RotatingFile {
	if maxBytes <= 0 {
		maxBytes = defaultRotateBytes
	}
	if keep <= 0 {
		keep = defaultKeep
	}
	return &RotatingFile{dir: dir, maxBytes: maxBytes, keep: keep}
}

func (r *RotatingFile) current() string { return filepath.Join(r.dir, DefaultLogFile) }

// Write 接收完整的一条记录；空文件上的超长记录不触发轮转。
func (r *RotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		if err := r.open(); err != nil {
			return 0, err
		}
	}
	if r.size > 0 && r.size+int64(len(p)) > r.maxBytes {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := r.f.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *RotatingFile) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	return r.f.Sync()
}

func (r *RotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

func (r *RotatingFile) open() error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(r.current(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	r.f, r.size = f, 0
	if st, err := f.Stat(); err == nil {
		r.size = st.Size()
	}
	return nil
}

// rotate 要求持锁。纳秒时间戳避免同秒覆盖，且字典序即时间序。
func (r *RotatingFile) rotate() error {
	if r.f != nil {
		_ = r.f.Close()
		r.f = nil
	}
	ts := time.Now().UTC().Format("20060102-150405.000000000")
	dst := filepath.Join(r.dir, fmt.Sprintf("spellcombo-%s.log", ts))
	if err := os.Rename(r.current(), dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotate log: %w", err)
	}
	r.prune()
	return r.open()
}

// prune 删除超出保留数的最旧历史文件；失败忽略。
func (r *RotatingFile) prune() {
	old, err := filepath.Glob(filepath.Join(r.dir, rotatedPattern))
	if err != nil || len(old) <= r.keep {
		return
	}
	sort.Strings(old)
	for _, p := range old[:len(old)-r.keep] {
		_ = os.Remove(p)
	}
}
