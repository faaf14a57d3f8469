package diag

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"syscall"

	"spellcombo/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeConfig    Code = "config"
	CodeRow       Code = "row"
	CodeCapacity  Code = "capacity"
	CodeInvariant Code = "invariant"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
)

// Classify 将错误归为最小分类。
// 说明：仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrMissingColumn) ||
		errors.Is(err, contract.ErrEmptyDiagBlock) ||
		errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrPathInvalid) {
		return CodeConfig
	}
	if errors.Is(err, contract.ErrRowMalformed) || errors.Is(err, contract.ErrTooManySecondary) {
		return CodeRow
	}
	if errors.Is(err, contract.ErrCapacity) {
		return CodeCapacity
	}
	if errors.Is(err, contract.ErrInvariantViolation) {
		return CodeInvariant
	}
	// I/O
	var perr *fs.PathError
	var lerr *os.LinkError
	var errno syscall.Errno
	if errors.As(err, &perr) || errors.As(err, &lerr) || errors.As(err, &errno) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrShortWrite) {
		return CodeIO
	}
	return CodeUnknown
}
