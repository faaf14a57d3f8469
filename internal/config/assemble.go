package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"spellcombo/internal/combo"
	"spellcombo/internal/diag"
	"spellcombo/internal/pipeline"
	"spellcombo/pkg/contract"
	"spellcombo/pkg/registry"
)

// Validate 对最小必要边界做静态校验。错误均包装 contract.ErrInvalidInput。
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Input) == "" {
		return invalid("input not set")
	}
	if cfg.Delimiter != "" {
		if utf8.RuneCountInString(cfg.Delimiter) != 1 || strings.ContainsAny(cfg.Delimiter, "\r\n") {
			return invalid("delimiter %q must be a single character", cfg.Delimiter)
		}
	}
	if _, err := pipeline.ParseReplay(cfg.Replay); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := combo.ParseShortRows(cfg.ShortRows); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" {
		if _, ok := diag.ParseLevel(lv); !ok {
			return invalid("logging.level %q must be debug|info|warn|error", lv)
		}
	}
	d := Defaults().Components
	if name := effName(cfg.Components.Reader, d.Reader); registry.Reader[name] == nil {
		return invalid("reader %q not registered", name)
	}
	if name := effName(cfg.Components.Codec, d.Codec); registry.Codec[name] == nil {
		return invalid("codec %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Writer); registry.Writer[name] == nil {
		return invalid("writer %q not registered", name)
	}
	if name := effName(cfg.Components.SpellTable, d.SpellTable); registry.SpellTable[name] == nil {
		return invalid("spell_table %q not registered", name)
	}
	return nil
}

// Assemble 构造 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
// Tracer 不在此装配（输出流由 CLI 决定）。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	d := Defaults().Components
	rn := effName(cfg.Components.Reader, d.Reader)
	cn := effName(cfg.Components.Codec, d.Codec)
	wn := effName(cfg.Components.Writer, d.Writer)
	tn := effName(cfg.Components.SpellTable, d.SpellTable)

	r, err := registry.Reader[rn](cfg.Options.Reader)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("reader %s: %w", rn, err)
	}
	codecRaw, err := overlayDelimiter(cfg.Options.Codec, cfg.Delimiter)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	c, err := registry.Codec[cn](codecRaw)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("codec %s: %w", cn, err)
	}
	w, err := registry.Writer[wn](cfg.Options.Writer)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("writer %s: %w", wn, err)
	}
	newTable, err := registry.SpellTable[tn](cfg.Options.SpellTable)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("spell_table %s: %w", tn, err)
	}

	// Validate 已确认可解析
	replay, _ := pipeline.ParseReplay(cfg.Replay)
	short, _ := combo.ParseShortRows(cfg.ShortRows)
	comp := pipeline.Components{Reader: r, Codec: c, Writer: w, NewSpellTable: newTable}
	set := pipeline.Settings{
		Input:     strings.TrimSpace(cfg.Input),
		Output:    strings.TrimSpace(cfg.Output),
		Replay:    replay,
		ShortRows: short,
	}
	return comp, set, nil
}

// overlayDelimiter 将顶层 delimiter 写入 codec options（顶层优先）。
func overlayDelimiter(raw json.RawMessage, delim string) (json.RawMessage, error) {
	if delim == "" {
		return raw, nil
	}
	m := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, invalid("options.codec: %v", err)
		}
	}
	m["delimiter"] = delim
	return json.Marshal(m)
}

func invalid(format string, a ...any) error {
	return fmt.Errorf("%w: config: %s", contract.ErrInvalidInput, fmt.Sprintf(format, a...))
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
