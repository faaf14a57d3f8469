package contract

import (
	"context"
	"io"
)

// ArtifactID: 与 FileID 等价的输出工件标识（语义别名）。
type ArtifactID = FileID

// Artifact: 一次性写出的目标；Commit 使内容可见，Abort 丢弃。
// Commit/Abort 只能调用其一，之后的调用为 no-op。
type Artifact interface {
	io.Writer
	Commit() error
	Abort() error
}

// Writer: 将结果以流式方式持久化到目标介质。
// 约束：
//  1. 同一 ArtifactID 单写者；
//  2. 流式写入，按字节透传，不读取/修改业务内容；
//  3. 失败的运行不得留下部分写出的目标文件（原子模式下）；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Create(ctx context.Context, id ArtifactID) (Artifact, error)
}
