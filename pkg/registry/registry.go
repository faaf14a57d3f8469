package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"spellcombo/pkg/contract"
	"spellcombo/plugins/codec/delimited"
	rfs "spellcombo/plugins/reader/filesystem"
	stmem "spellcombo/plugins/spelltable/memory"
	stsql "spellcombo/plugins/spelltable/sqlite"
	wfs "spellcombo/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: options: %w", contract.ErrInvalidInput, err)
	}
	return nil
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewCodec 工厂签名：接收原样 JSON Options。
type NewCodec func(raw json.RawMessage) (contract.Codec, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// NewSpellTable 工厂签名：校验 Options 后返回构造函数；
// 每次 minimal 运行调用一次构造函数获得私有病程表。
type NewSpellTable func(raw json.RawMessage) (func() (contract.SpellTable, error), error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader（可选字符集解码）
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts)
	},
}

// Codec 工厂注册表。
var Codec = map[string]NewCodec{
	// delimited: 字面分隔符拆分，不处理引号
	"delimited": func(raw json.RawMessage) (contract.Codec, error) {
		var opts delimited.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return delimited.New(&opts)
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

// SpellTable 工厂注册表。
var SpellTable = map[string]NewSpellTable{
	// memory: 进程内哈希表
	"memory": func(raw json.RawMessage) (func() (contract.SpellTable, error), error) {
		var opts stmem.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		if opts.MaxRoots < 0 {
			return nil, fmt.Errorf("%w: max_roots must be >= 0", contract.ErrInvalidInput)
		}
		return func() (contract.SpellTable, error) { return stmem.New(&opts) }, nil
	},
	// sqlite: 临时 SQLite 文件，适合根数超出内存的输入
	"sqlite": func(raw json.RawMessage) (func() (contract.SpellTable, error), error) {
		var opts stsql.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		if opts.MaxRoots < 0 {
			return nil, fmt.Errorf("%w: max_roots must be >= 0", contract.ErrInvalidInput)
		}
		return func() (contract.SpellTable, error) { return stsql.New(&opts) }, nil
	},
}
