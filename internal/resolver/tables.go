package resolver

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed tables.yaml
var defaultTables []byte

// TokenAddress: 已知代币地址条目。
type TokenAddress struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Decimals int    `yaml:"decimals"`
}

// Tables: 注入解析器的静态启发式数据。New 时深拷贝，调用方后续修改不影响解析结果。
type Tables struct {
	Builtins       []string            `yaml:"builtins"`
	LowLevel       []string            `yaml:"low_level"`
	BuiltinMembers []string            `yaml:"builtin_members"`
	TokenMethods   map[string][]string `yaml:"token_methods"`
	Libraries      []string            `yaml:"libraries"`
	Signatures     []string            `yaml:"signatures"`
	TokenScales    map[string]int      `yaml:"token_scales"`
	TokenAddresses []TokenAddress      `yaml:"token_addresses"`
}

// DefaultTables 返回内置表（每次调用均为新副本）。
func DefaultTables() (Tables, error) { return ParseTables(defaultTables) }

// ParseTables 严格解析 YAML（拒绝未知字段）。
func ParseTables(b []byte) (Tables, error) {
	var t Tables
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return Tables{}, fmt.Errorf("resolver tables: %w", err)
	}
	return t, nil
}

// LoadTables 读取外部表文件；path 为空时返回内置表。
func LoadTables(path string) (Tables, error) {
	if path == "" {
		return DefaultTables()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, err
	}
	return ParseTables(b)
}

func (t Tables) clone() Tables {
	out := Tables{
		Builtins:       append([]string(nil), t.Builtins...),
		LowLevel:       append([]string(nil), t.LowLevel...),
		BuiltinMembers: append([]string(nil), t.BuiltinMembers...),
		Libraries:      append([]string(nil), t.Libraries...),
		Signatures:     append([]string(nil), t.Signatures...),
		TokenAddresses: append([]TokenAddress(nil), t.TokenAddresses...),
		TokenMethods:   make(map[string][]string, len(t.TokenMethods)),
		TokenScales:    make(map[string]int, len(t.TokenScales)),
	}
	for k, v := range t.TokenMethods {
		out.TokenMethods[k] = append([]string(nil), v...)
	}
	for k, v := range t.TokenScales {
		out.TokenScales[k] = v
	}
	return out
}
