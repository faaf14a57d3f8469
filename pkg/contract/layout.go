package contract

import (
	"fmt"
	"strconv"
	"strings"
)

// 必需列名与标识格式。
const (
	ColumnSpell       = "PROVSPNO"
	ColumnPrimaryDiag = "DIAG_01"
	DiagPrefix        = "DIAG_"

	spellSep       = "|"
	combinationTag = "Combination"
)

// Layout: 由表头一次性构建的列索引（只读）。
// 诊断槽为从 DIAG_01 起、列名持续以 DIAG_ 开头的连续区间 [DiagFrom, DiagTo]。
type Layout struct {
	Columns  []string
	Spell    int
	DiagFrom int
	DiagTo   int
}

// NewLayout 解析表头。缺少 PROVSPNO/DIAG_01 或诊断区为空时返回配置错误。
// 列名重复时以首次出现为准。
func NewLayout(header []string) (Layout, error) {
	l := Layout{
		Columns:  append([]string(nil), header...),
		Spell:    -1,
		DiagFrom: -1,
		DiagTo:   -1,
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}
	var ok bool
	if l.Spell, ok = index[ColumnSpell]; !ok {
		return Layout{}, fmt.Errorf("%w: %s", ErrMissingColumn, ColumnSpell)
	}
	if l.DiagFrom, ok = index[ColumnPrimaryDiag]; !ok {
		return Layout{}, fmt.Errorf("%w: %s", ErrMissingColumn, ColumnPrimaryDiag)
	}
	for i := l.DiagFrom; i < len(header) && strings.HasPrefix(header[i], DiagPrefix); i++ {
		l.DiagTo = i
	}
	if l.DiagTo < l.DiagFrom {
		return Layout{}, ErrEmptyDiagBlock
	}
	return l, nil
}

// Width 返回表头字段数。
func (l Layout) Width() int { return len(l.Columns) }

// DiagSlots 返回诊断槽数量（含主诊断）。
func (l Layout) DiagSlots() int { return l.DiagTo - l.DiagFrom + 1 }

// Field 返回第 i 个字段；短行缺失的尾部字段视为空串。
func (l Layout) Field(fields []string, i int) string {
	if i < 0 || i >= len(fields) {
		return ""
	}
	return fields[i]
}

// SpellID 返回行的 PROVSPNO 原值。
func (l Layout) SpellID(fields []string) string { return l.Field(fields, l.Spell) }

// Occupancy 统计 DIAG_01..DIAG_last 中非空单元格数量。
func (l Layout) Occupancy(fields []string) int {
	n := 0
	for i := l.DiagFrom; i <= l.DiagTo; i++ {
		if l.Field(fields, i) != "" {
			n++
		}
	}
	return n
}

// AppendSecondary 按列序将已填充的次诊断槽位置（不含 DIAG_01）追加到 dst。
func (l Layout) AppendSecondary(dst []int, fields []string) []int {
	for i := l.DiagFrom + 1; i <= l.DiagTo; i++ {
		if l.Field(fields, i) != "" {
			dst = append(dst, i)
		}
	}
	return dst
}

// SpellRoot 返回标识首个 '|' 之前的部分；无 '|' 时返回原串。
func SpellRoot(id string) string {
	if i := strings.Index(id, spellSep); i >= 0 {
		return id[:i]
	}
	return id
}

// AnnotateSpell 生成 root|Combination|<ordinal>。root 原样使用，不再提取。
func AnnotateSpell(root string, ordinal uint64) string {
	var b strings.Builder
	b.Grow(len(root) + len(combinationTag) + 2 + 20)
	b.WriteString(root)
	b.WriteString(spellSep)
	b.WriteString(combinationTag)
	b.WriteString(spellSep)
	b.WriteString(strconv.FormatUint(ordinal, 10))
	return b.String()
}

// ParseAnnotation 解析注释形式的标识；非注释形式返回 ok=false。
func ParseAnnotation(id string) (root string, ordinal uint64, ok bool) {
	parts := strings.Split(id, spellSep)
	if len(parts) != 3 || parts[1] != combinationTag {
		return "", 0, false
	}
	n, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil || n == 0 {
		return "", 0, false
	}
	return parts[0], n, true
}
