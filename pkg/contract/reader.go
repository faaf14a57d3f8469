package contract

import (
	"context"
	"io"
)

// Reader: 输入源抽象（文件或 STDIN）。
// 约束：
// 1) 每次 Open 返回独立的字节流，调用方负责 Close；
// 2) FileID 稳定且去平台差异化；
// 3) 允许做字符集解码（输出 UTF-8），不做业务解析；
// 4) 同一 path 多次 Open 必须产出相同内容（第二遍重放依赖此约束），STDIN 除外。
type Reader interface {
	Open(ctx context.Context, path string) (FileID, io.ReadCloser, error)
}
