package filesystem

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"spellcombo/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// OutputDir: 可选输出根目录。为空时 ArtifactID 即目标路径；
	// 非空时 ArtifactID 视为相对路径并映射到该目录下（越界校验）。
	OutputDir string `json:"output_dir,omitempty"`
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。
	// 默认值：true。未提供该字段时采用原子写；显式 false 可关闭。
	Atomic *bool `json:"atomic,omitempty"`
	// Flat: 仅在 OutputDir 非空时生效，只保留文件名。
	// 默认 true；当为 nil 时采用默认 true；显式 false 覆盖。
	Flat *bool `json:"flat,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用实现/平台默认。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用实现默认。
	BufSize int `json:"buf_size,omitempty"`
}

type FS struct {
	root    string
	atomic  bool
	flat    bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
	stdout  io.Writer
}

// New 创建文件系统 Writer 实现。opts 可为 nil。
func New(opts *Options) (*FS, error) {
	if opts == nil {
		opts = &Options{}
	}
	bsz := opts.BufSize
	if bsz <= 0 {
		bsz = 64 * 1024
	}
	pf := opts.PermFile
	if pf == 0 {
		pf = 0o644
	}
	pd := opts.PermDir
	if pd == 0 {
		pd = 0o755
	}
	flat := true
	if opts.Flat != nil {
		flat = *opts.Flat
	}
	atomic := true
	if opts.Atomic != nil {
		atomic = *opts.Atomic
	}
	return &FS{
		root:    strings.TrimSpace(opts.OutputDir),
		atomic:  atomic,
		flat:    flat,
		permF:   pf,
		permD:   pd,
		bufSize: bsz,
		stdout:  os.Stdout,
	}, nil
}

var _ contract.Writer = (*FS)(nil)

// Create 打开 id 对应的目标。"-" 表示 STDOUT（Commit/Abort 仅刷新缓冲）。
// 原子模式下内容先写入同目录临时文件，Commit 时替换目标，Abort 时删除。
func (w *FS) Create(ctx context.Context, id contract.ArtifactID) (contract.Artifact, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if strings.TrimSpace(string(id)) == "-" {
		return &stdArtifact{bw: bufio.NewWriterSize(w.stdout, w.bufSize)}, nil
	}
	dest, err := w.mapPath(id)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return nil, err
	}
	if w.atomic {
		return w.createAtomic(ctx, dest)
	}
	return w.createOverwrite(ctx, dest)
}

// mapPath: Clean + Join + 越界校验。
func (w *FS) mapPath(id contract.ArtifactID) (string, error) {
	rel := filepath.Clean(string(id))
	if rel == "." || rel == "" {
		return "", contract.ErrPathInvalid
	}
	if w.root == "" {
		return rel, nil
	}
	// Flat 优先：若扁平化，则仅保留文件名并在此后校验名称合法
	if w.flat {
		rel = filepath.Base(rel)
		if rel == "." || rel == ".." || rel == "" || rel == string(filepath.Separator) {
			return "", contract.ErrPathInvalid
		}
		return filepath.Join(w.root, rel), nil
	}
	// 非扁平：禁止绝对路径、父级逃逸、Windows 卷名
	if filepath.IsAbs(rel) {
		return "", contract.ErrPathInvalid
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", contract.ErrPathInvalid
	}
	if vol := filepath.VolumeName(rel); vol != "" {
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, rel), nil
}

func (w *FS) createOverwrite(ctx context.Context, dest string) (contract.Artifact, error) {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	if err != nil {
		return nil, err
	}
	return &fileArtifact{ctx: ctx, f: f, bw: bufio.NewWriterSize(f, w.bufSize), dest: dest}, nil
}

func (w *FS) createAtomic(ctx context.Context, dest string) (contract.Artifact, error) {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return nil, err
	}
	// 目标权限：尽量与期望一致
	_ = os.Chmod(tmp.Name(), w.permF)
	return &fileArtifact{
		ctx:     ctx,
		f:       tmp,
		bw:      bufio.NewWriterSize(tmp, w.bufSize),
		dest:    dest,
		tmpPath: tmp.Name(),
	}, nil
}

// errClosed: Commit/Abort 之后再写入。
var errClosed = errors.New("artifact closed")

// fileArtifact: 文件目标。tmpPath 非空表示原子模式。
type fileArtifact struct {
	ctx     context.Context
	f       *os.File
	bw      *bufio.Writer
	dest    string
	tmpPath string
	once    sync.Once
	done    bool
}

func (a *fileArtifact) Write(p []byte) (int, error) {
	if a.done {
		return 0, errClosed
	}
	select {
	case <-a.ctx.Done():
		return 0, a.ctx.Err()
	default:
	}
	return a.bw.Write(p)
}

// Commit 刷新并使目标可见。
func (a *fileArtifact) Commit() error {
	var err error
	a.once.Do(func() {
		a.done = true
		err = a.commit()
	})
	return err
}

func (a *fileArtifact) commit() error {
	if err := a.bw.Flush(); err != nil {
		a.discard()
		return err
	}
	if a.tmpPath == "" {
		return a.f.Close()
	}
	if err := a.f.Sync(); err != nil {
		a.discard()
		return err
	}
	if err := a.f.Close(); err != nil {
		_ = os.Remove(a.tmpPath)
		return err
	}
	// 平台特定的原子替换（或最佳努力）：
	if err := osReplace(a.tmpPath, a.dest); err != nil {
		_ = os.Remove(a.tmpPath)
		return err
	}
	// 最佳努力：在部分平台同步父目录，提升崩溃安全性
	_ = syncDir(filepath.Dir(a.dest))
	return nil
}

// Abort 丢弃内容。原子模式删除临时文件；非原子模式保留已写部分。
func (a *fileArtifact) Abort() error {
	a.once.Do(func() {
		a.done = true
		if a.tmpPath == "" {
			_ = a.bw.Flush()
			_ = a.f.Close()
			return
		}
		a.discard()
	})
	return nil
}

func (a *fileArtifact) discard() {
	_ = a.f.Close()
	if a.tmpPath != "" {
		_ = os.Remove(a.tmpPath)
	}
}

// stdArtifact: STDOUT 目标，不关闭进程 STDOUT。
type stdArtifact struct {
	bw   *bufio.Writer
	once sync.Once
}

func (a *stdArtifact) Write(p []byte) (int, error) { return a.bw.Write(p) }

func (a *stdArtifact) Commit() error {
	var err error
	a.once.Do(func() { err = a.bw.Flush() })
	return err
}

func (a *stdArtifact) Abort() error {
	// 已输出的内容无法撤回，仅刷新
	return a.Commit()
}
