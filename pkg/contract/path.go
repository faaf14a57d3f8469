package contract

import (
	"path"
	"strings"
)

// NormalizeFileID 规范化路径，统一为跨平台稳定的 FileID。
// 规则：
// - 使用正斜杠分隔符
// - 清理多余分隔符与路径片段（.、..）
// - 保留相对/绝对语义，不做隐式绝对化
func NormalizeFileID(p string) FileID {
	return FileID(path.Clean(strings.ReplaceAll(p, "\\", "/")))
}

// DefaultOutputPath 推导默认输出路径：a.csv → a_v2.csv，无扩展名时追加 _v2。
// 仅当扩展名前存在基名时才视为扩展名（".csv" → ".csv_v2"）。
func DefaultOutputPath(input string) string {
	dir, base := splitLast(input)
	dot := strings.LastIndexByte(base, '.')
	if dot <= 0 {
		return dir + base + "_v2"
	}
	return dir + base[:dot] + "_v2" + base[dot:]
}

func splitLast(p string) (dir, base string) {
	i := strings.LastIndexAny(p, "/\\")
	if i < 0 {
		return "", p
	}
	return p[:i+1], p[i+1:]
}
