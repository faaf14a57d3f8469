package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"spellcombo/pkg/contract"
)

// EnvPrefix 为环境变量覆盖前缀。
const EnvPrefix = "SPELLCOMBO_"

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	return Config{
		Replay:    "memory",
		ShortRows: "pad",
		Logging:   Logging{Level: "info", Dir: "logs"},
		Components: Components{
			Reader:     "fs",
			Codec:      "delimited",
			Writer:     "fs",
			SpellTable: "memory",
		},
	}
}

// LoadFile 按扩展名解析配置文件：.yaml/.yml 走 YAML，其余按 JSON。
func LoadFile(path string) (Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(path, nil)
	default:
		return LoadJSON(path, nil)
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: config: %w", contract.ErrInvalidInput, err)
	}
	return cfg, nil
}

// LoadYAML 解析 YAML 配置：先转为通用树再经严格 JSON 解码，
// 使两种格式共享同一套字段名与未知字段规则。
func LoadYAML(path string, raw []byte) (Config, error) {
	if len(raw) == 0 {
		if path == "" {
			return Config{}, errors.New("no config source provided")
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		raw = b
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return Config{}, fmt.Errorf("%w: config: %w", contract.ErrInvalidInput, err)
	}
	if tree == nil {
		return Config{}, nil
	}
	js, err := json.Marshal(tree)
	if err != nil {
		return Config{}, fmt.Errorf("%w: config: %w", contract.ErrInvalidInput, err)
	}
	return LoadJSON("", js)
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if s := strings.TrimSpace(over.Input); s != "" {
		out.Input = s
	}
	if s := strings.TrimSpace(over.Output); s != "" {
		out.Output = s
	}
	// 分隔符可能是空白类字符（如制表符），不做 TrimSpace
	if over.Delimiter != "" {
		out.Delimiter = over.Delimiter
	}
	if s := strings.TrimSpace(over.Replay); s != "" {
		out.Replay = s
	}
	if s := strings.TrimSpace(over.ShortRows); s != "" {
		out.ShortRows = s
	}
	// Debug 只能被打开
	if over.Debug {
		out.Debug = true
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if s := strings.TrimSpace(over.Logging.Dir); s != "" {
		out.Logging.Dir = s
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Codec != "" {
		out.Components.Codec = over.Components.Codec
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}
	if over.Components.SpellTable != "" {
		out.Components.SpellTable = over.Components.SpellTable
	}

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Codec) > 0 {
		out.Options.Codec = cloneRaw(over.Options.Codec)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	if len(over.Options.SpellTable) > 0 {
		out.Options.SpellTable = cloneRaw(over.Options.SpellTable)
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 SPELLCOMBO_；集合之外的键忽略。
// 支持：INPUT, OUTPUT, DELIMITER, REPLAY, SHORT_ROWS, DEBUG, LOG_LEVEL, LOG_DIR,
// COMPONENTS_{READER,CODEC,WRITER,SPELL_TABLE} 以及 OPTIONS_{...}_JSON（原样 JSON）。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := strings.TrimPrefix(kv[:eq], EnvPrefix)
		val := kv[eq+1:]
		switch key {
		case "INPUT":
			over.Input = strings.TrimSpace(val)
		case "OUTPUT":
			over.Output = strings.TrimSpace(val)
		case "DELIMITER":
			over.Delimiter = val
		case "REPLAY":
			over.Replay = strings.TrimSpace(val)
		case "SHORT_ROWS":
			over.ShortRows = strings.TrimSpace(val)
		case "DEBUG":
			if strings.TrimSpace(val) == "" {
				continue
			}
			b, err := strconv.ParseBool(strings.TrimSpace(val))
			if err != nil {
				return over, fmt.Errorf("%w: %sDEBUG=%q", contract.ErrInvalidInput, EnvPrefix, val)
			}
			over.Debug = b
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "LOG_DIR":
			over.Logging.Dir = strings.TrimSpace(val)
		case "COMPONENTS_READER":
			over.Components.Reader = strings.TrimSpace(val)
		case "COMPONENTS_CODEC":
			over.Components.Codec = strings.TrimSpace(val)
		case "COMPONENTS_WRITER":
			over.Components.Writer = strings.TrimSpace(val)
		case "COMPONENTS_SPELL_TABLE":
			over.Components.SpellTable = strings.TrimSpace(val)
		case "OPTIONS_READER_JSON", "OPTIONS_CODEC_JSON", "OPTIONS_WRITER_JSON", "OPTIONS_SPELL_TABLE_JSON":
			// 空值视为未设置，避免清空文件配置
			if strings.TrimSpace(val) == "" {
				continue
			}
			if !json.Valid([]byte(val)) {
				return over, fmt.Errorf("%w: %s%s is not valid JSON", contract.ErrInvalidInput, EnvPrefix, key)
			}
			raw := json.RawMessage(val)
			switch key {
			case "OPTIONS_READER_JSON":
				over.Options.Reader = raw
			case "OPTIONS_CODEC_JSON":
				over.Options.Codec = raw
			case "OPTIONS_WRITER_JSON":
				over.Options.Writer = raw
			default:
				over.Options.SpellTable = raw
			}
		}
	}
	return over, nil
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
