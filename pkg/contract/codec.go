package contract

import (
	"context"
	"io"
)

// RowScanner: 只读顺序拉取数据行。Next 在流结束时返回 io.EOF。
// Next 返回的 Fields 归调用方所有，扫描器不复用。
type RowScanner interface {
	// Header 返回规范化后的表头列名（用于列查找）。
	Header() []string
	// RawHeader 返回表头原样字段（用于原样写出）。
	RawHeader() []string
	Next() (Record, error)
}

// RowEncoder: 将字段序列编码为一行输出。调用方在结束时 Flush。
type RowEncoder interface {
	WriteRow(fields []string) error
	Flush() error
}

// Codec: 分隔文本的行编解码。
// 约束：
// 1) 不跨文件合并；首行必须为表头；
// 2) 行号严格递增；仅做 CRLF→LF 的最小归一；
// 3) 不处理引号/转义（分隔符按字面拆分）；
// 4) 无内部并发。
type Codec interface {
	Scan(ctx context.Context, fileID FileID, r io.Reader) (RowScanner, error)
	Encoder(w io.Writer) RowEncoder
}
