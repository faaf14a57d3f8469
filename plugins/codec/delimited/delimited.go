package delimited

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"spellcombo/pkg/contract"
)

// Options 为分隔文本编解码的可选配置（最小必要）。
type Options struct {
	// Delimiter: 单字符分隔符。默认 ","。
	Delimiter string `json:"delimiter"`
	// MaxLineBytes: 单行最大字节数。0 表示不限制。
	MaxLineBytes int `json:"max_line_bytes"`
	// NormalizeHeader: 表头列名去 BOM、NFKC 归一并去首尾空白。
	// 默认 true；显式 false 关闭（列名按字面匹配）。
	NormalizeHeader *bool `json:"normalize_header,omitempty"`
	// BufSize: 读写缓冲区大小；<=0 使用默认 64KiB。
	BufSize int `json:"buf_size,omitempty"`
}

// Codec 实现按字面分隔符拆分/拼接的行编解码，不处理引号。
type Codec struct {
	delim      string
	maxBytes   int
	normHeader bool
	bufSize    int
}

var _ contract.Codec = (*Codec)(nil)

const bom = "\uFEFF"

// New 创建 Codec。分隔符必须为单个非换行字符。
func New(opts *Options) (*Codec, error) {
	c := &Codec{delim: ",", normHeader: true, bufSize: 64 * 1024}
	if opts == nil {
		return c, nil
	}
	if opts.Delimiter != "" {
		if utf8.RuneCountInString(opts.Delimiter) != 1 || strings.ContainsAny(opts.Delimiter, "\r\n") {
			return nil, fmt.Errorf("%w: delimiter %q must be a single character", contract.ErrInvalidInput, opts.Delimiter)
		}
		c.delim = opts.Delimiter
	}
	if opts.MaxLineBytes > 0 {
		c.maxBytes = opts.MaxLineBytes
	}
	if opts.NormalizeHeader != nil {
		c.normHeader = *opts.NormalizeHeader
	}
	if opts.BufSize > 0 {
		c.bufSize = opts.BufSize
	}
	return c, nil
}

// Scan 读取表头并返回数据行扫描器。输入为空时报错（缺少表头）。
func (c *Codec) Scan(ctx context.Context, fileID contract.FileID, r io.Reader) (contract.RowScanner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &scanner{ctx: ctx, codec: c, br: bufio.NewReaderSize(r, c.bufSize)}
	line, eof, err := s.readLine()
	if err != nil {
		return nil, err
	}
	if eof && line == "" {
		return nil, fmt.Errorf("%w: %s: empty input, header missing", contract.ErrInvalidInput, fileID)
	}
	s.line = 1
	s.raw = strings.Split(line, c.delim)
	s.header = make([]string, len(s.raw))
	for i, name := range s.raw {
		if c.normHeader {
			name = normalizeName(name, i == 0)
		}
		s.header[i] = name
	}
	s.done = eof
	return s, nil
}

// normalizeName: 去 BOM（仅首列）、NFKC 归一、去首尾空白。
func normalizeName(s string, first bool) string {
	if first {
		s = strings.TrimPrefix(s, bom)
	}
	return strings.TrimSpace(norm.NFKC.String(s))
}

type scanner struct {
	ctx    context.Context
	codec  *Codec
	br     *bufio.Reader
	raw    []string
	header []string
	line   int64
	done   bool
}

func (s *scanner) Header() []string    { return s.header }
func (s *scanner) RawHeader() []string { return s.raw }

// Next 返回下一条非空数据行；流结束返回 io.EOF。
func (s *scanner) Next() (contract.Record, error) {
	for !s.done {
		// 每 1024 行检查一次取消，避免逐行开销
		if s.line&1023 == 0 {
			if err := s.ctx.Err(); err != nil {
				return contract.Record{}, err
			}
		}
		line, eof, err := s.readLine()
		if err != nil {
			return contract.Record{}, err
		}
		s.done = eof
		if eof && line == "" {
			break
		}
		s.line++
		if line == "" { // 跳过空行
			continue
		}
		return contract.Record{Line: s.line, Fields: strings.Split(line, s.codec.delim)}, nil
	}
	return contract.Record{}, io.EOF
}

// readLine 读取一行并去掉行尾 LF/CRLF。eof=true 表示流已结束（line 可能非空）。
func (s *scanner) readLine() (line string, eof bool, err error) {
	line, err = s.br.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", false, err
		}
		eof = true
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	if s.codec.maxBytes > 0 && len(line) > s.codec.maxBytes {
		return "", false, fmt.Errorf("%w: line %d exceeds %d bytes", contract.ErrRowMalformed, s.line+1, s.codec.maxBytes)
	}
	return line, eof, nil
}

// Encoder 返回带缓冲的行编码器。
func (c *Codec) Encoder(w io.Writer) contract.RowEncoder {
	return &encoder{bw: bufio.NewWriterSize(w, c.bufSize), delim: c.delim}
}

type encoder struct {
	bw    *bufio.Writer
	delim string
}

func (e *encoder) WriteRow(fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if _, err := e.bw.WriteString(e.delim); err != nil {
				return err
			}
		}
		if _, err := e.bw.WriteString(f); err != nil {
			return err
		}
	}
	return e.bw.WriteByte('\n')
}

func (e *encoder) Flush() error { return e.bw.Flush() }
