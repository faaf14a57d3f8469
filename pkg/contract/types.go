package contract

// FileID: 逻辑输入标识（通常为路径，需规范化，跨平台一致）。
type FileID string

// Record: 单行数据记录（不含表头）。
// 约束：
// - Line 为源文件中的 1 起物理行号（表头为第 1 行），仅用于诊断；
// - Fields 为按分隔符拆分后的原样字段，不去空白、不解引号；
// - 字段数可能少于/多于表头，是否接受由各阶段策略决定。
type Record struct {
	Line   int64
	Fields []string
}
