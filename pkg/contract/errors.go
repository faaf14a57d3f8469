package contract

import "errors"

// 配置/表头类致命错误。
var (
	// ErrMissingColumn: 表头缺少必需列（PROVSPNO 或 DIAG_01）。
	ErrMissingColumn = errors.New("missing required column")
	// ErrEmptyDiagBlock: 自 DIAG_01 起不存在任何诊断列。
	ErrEmptyDiagBlock = errors.New("empty diagnosis block")
	// ErrInvalidInput: 输入参数或选项非法。
	ErrInvalidInput = errors.New("invalid input")
	// ErrPathInvalid: 目标标识映射为无效/越界路径。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)

// 行级缺陷（跳过并继续，不重试）。
var (
	// ErrRowMalformed: 数据行字段数与表头不符。
	ErrRowMalformed = errors.New("row malformed")
	// ErrTooManySecondary: 次诊断数量超过组合上限。
	ErrTooManySecondary = errors.New("too many secondary diagnoses")
)

// ErrCapacity: 表容量已满，新键不再接收（已存条目不受影响）。
var ErrCapacity = errors.New("capacity reached")
