package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// TemplateFile 为 init-config 生成的文件名。
const TemplateFile = "spellcombo.yaml"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 输入为 STDIN（"-"），输出按默认规则推导；
// - 组件名采用仓库内置实现；
// - 选项给出全部键与中性默认值。
func DefaultTemplateConfig() Config {
	cfg := Defaults()
	cfg.Input = "-"
	cfg.Delimiter = ","
	cfg.Options.Reader = json.RawMessage(`{"buf_size": 65536, "encoding": "utf-8"}`)
	cfg.Options.Codec = json.RawMessage(`{"delimiter": ",", "max_line_bytes": 0, "normalize_header": true, "buf_size": 65536}`)
	cfg.Options.Writer = json.RawMessage(`{"output_dir": "", "atomic": true, "flat": true, "buf_size": 65536}`)
	cfg.Options.SpellTable = json.RawMessage(`{"max_roots": 0}`)
	return cfg
}

// TemplateYAML 将配置渲染为块风格 YAML（键序与 JSON 字段序一致）。
func TemplateYAML(cfg Config) ([]byte, error) {
	js, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	// JSON 是 YAML 的子集：解析为节点树后去掉流式/引号风格再输出
	var doc yaml.Node
	if err := yaml.Unmarshal(js, &doc); err != nil {
		return nil, err
	}
	blockStyle(&doc)
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, err
	}
	head := []byte("# spellcombo 配置模板（由 init-config 生成）\n# 优先级：CLI > ENV(SPELLCOMBO_*) > 本文件 > 默认值\n")
	return append(head, out...), nil
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// WriteTemplate 在 dir 下生成 spellcombo.yaml；已存在时返回 os.ErrExist（不覆盖）。
func WriteTemplate(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	b, err := TemplateYAML(DefaultTemplateConfig())
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, TemplateFile)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return path, fmt.Errorf("%s: %w", path, os.ErrExist)
		}
		return "", err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, f.Close()
}
