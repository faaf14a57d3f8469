package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// 文件键使用 snake_case；未知字段在解析期失败。
type Config struct {
	// Input 为输入路径，"-" 表示 STDIN。通常由 CLI 位置参数给出。
	Input string `json:"input"`
	// Output 为输出路径；空表示输入旁的 <base>_v2<ext>（STDIN 输入时为 STDOUT）。
	Output string `json:"output"`
	// Delimiter 单字符分隔符；非空时覆盖 options.codec.delimiter。
	Delimiter string `json:"delimiter"`
	// Replay: minimal 第二遍行源（memory|reopen）。
	Replay string `json:"replay"`
	// ShortRows: combos 短行策略（pad|skip）。
	ShortRows string `json:"short_rows"`
	// Debug: minimal 逐行追踪。
	Debug   bool    `json:"debug"`
	Logging Logging `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 日志等级与目录；文件名与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
	Dir   string `json:"dir"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader     string `json:"reader"`
	Codec      string `json:"codec"`
	Writer     string `json:"writer"`
	SpellTable string `json:"spell_table"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader     json.RawMessage `json:"reader,omitempty"`
	Codec      json.RawMessage `json:"codec,omitempty"`
	Writer     json.RawMessage `json:"writer,omitempty"`
	SpellTable json.RawMessage `json:"spell_table,omitempty"`
}
