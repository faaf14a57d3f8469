package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"spellcombo/pkg/contract"
)

// Options 为 FileSystem Reader 的可选配置（最小必要）。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// Encoding: 输入字符集，解码为 UTF-8 后交给编解码层。
	// 支持 "" / "utf-8"（原样）、"latin1"（iso-8859-1）、"windows-1252"、
	// "utf-16"（按 BOM 判定，缺省 LE）、"utf-16le"、"utf-16be"。
	Encoding string `json:"encoding"`
}

// FileSystem 实现基于文件系统与 STDIN 的 Reader。
type FileSystem struct {
	bufSize int
	enc     encoding.Encoding // nil 表示原样
	stdin   io.Reader
}

var _ contract.Reader = (*FileSystem)(nil)

// New 创建 FileSystem Reader。未知字符集返回 ErrInvalidInput。
func New(opts *Options) (*FileSystem, error) {
	const defaultBuf = 64 * 1024
	r := &FileSystem{bufSize: defaultBuf, stdin: os.Stdin}
	if opts == nil {
		return r, nil
	}
	if opts.BufSize > 0 {
		r.bufSize = opts.BufSize
	}
	enc, err := lookupEncoding(opts.Encoding)
	if err != nil {
		return nil, err
	}
	r.enc = enc
	return r, nil
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "latin1", "iso-8859-1":
		return charmap.ISO8859_1, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	case "utf-16":
		return unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM), nil
	case "utf-16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), nil
	case "utf-16be":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), nil
	default:
		return nil, fmt.Errorf("%w: unsupported encoding %q", contract.ErrInvalidInput, name)
	}
}

// Open 打开单个输入；"-" 表示 STDIN（关闭时不关闭进程 STDIN）。
// 仅接受常规文件（允许指向常规文件的符号链接）；目录等返回 ErrInvalidInput。
func (r *FileSystem) Open(ctx context.Context, path string) (contract.FileID, io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return "", nil, ctx.Err()
	default:
	}
	if strings.TrimSpace(path) == "-" {
		return contract.FileID("stdin"), r.wrap(io.NopCloser(r.stdin)), nil
	}
	// Stat 跟随符号链接，失效链接在此报错
	info, err := os.Stat(path)
	if err != nil {
		return "", nil, err
	}
	if !info.Mode().IsRegular() {
		return "", nil, fmt.Errorf("%w: %s is not a regular file", contract.ErrInvalidInput, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	return contract.NormalizeFileID(path), r.wrap(f), nil
}

func (r *FileSystem) wrap(rc io.ReadCloser) io.ReadCloser {
	var src io.Reader = rc
	if r.enc != nil {
		src = transform.NewReader(rc, r.enc.NewDecoder())
	}
	return newBufferedCloser(src, rc, r.bufSize)
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(r io.Reader, c io.Closer, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(r, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
