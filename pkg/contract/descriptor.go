package contract

import (
	"encoding/json"
	"sort"
)

// ContractDescriptor: 单个源文件的结构化描述。
// 约束：
//  1. Name 取首个合约声明；
//  2. 各列表按出现顺序保存，重复名称原样保留（此层不去重）；
//  3. 任一类别零匹配为合法的空列表。
type ContractDescriptor struct {
	Name       string        `json:"contractName"`
	Variables  []Variable    `json:"variables"`
	Functions  []FunctionSig `json:"functions"`
	Arrays     []ArrayDecl   `json:"arrays"`
	Structs    []StructDecl  `json:"structs"`
	Imports    []string      `json:"imports"`
	Interfaces []string      `json:"interfaces"`
	Contracts  []string      `json:"contracts"`
	Libraries  []string      `json:"libraries"`
	// ImportSymbols: `import {A, B} from "..."` 形式引入的符号。
	ImportSymbols []string `json:"importSymbols,omitempty"`

	Aliases       AliasTable `json:"aliases"`
	ExternalCalls CallTable  `json:"externalCalls"`
}

// FunctionNames 返回去重后的函数名（保持首次出现顺序）。
func (d *ContractDescriptor) FunctionNames() []string {
	seen := make(map[string]struct{}, len(d.Functions))
	out := make([]string, 0, len(d.Functions))
	for _, f := range d.Functions {
		if _, ok := seen[f.Name]; ok {
			continue
		}
		seen[f.Name] = struct{}{}
		out = append(out, f.Name)
	}
	return out
}

// BindingSource: 产生绑定的启发式（按优先级从高到低）。
type BindingSource string

const (
	BindInstantiation BindingSource = "instantiation"
	BindAssignment    BindingSource = "assignment"
	BindCallSite      BindingSource = "call-site"
	BindAddressVar    BindingSource = "address-variable"
	BindBaseName      BindingSource = "base-name"
	BindFallback      BindingSource = "fallback"
)

// InterfaceBinding: 一条接口名 ↔ 变量名绑定。
type InterfaceBinding struct {
	Interface string        `json:"interface"`
	Variable  string        `json:"variable"`
	Source    BindingSource `json:"source"`
}

// AliasTable: 接口 ↔ 变量的一一映射，按绑定顺序保存。
// 约束：每个接口至多一个变量，每个变量至多一个接口；已设置的槽位永不覆盖。
// 零值可用。
type AliasTable struct {
	list    []InterfaceBinding
	byIface map[string]int
	byVar   map[string]int
}

// Bind 仅在接口与变量均未绑定时写入，返回是否写入。
func (t *AliasTable) Bind(b InterfaceBinding) bool {
	if b.Interface == "" || b.Variable == "" {
		return false
	}
	if t.byIface == nil {
		t.byIface = make(map[string]int)
		t.byVar = make(map[string]int)
	}
	if _, ok := t.byIface[b.Interface]; ok {
		return false
	}
	if _, ok := t.byVar[b.Variable]; ok {
		return false
	}
	t.list = append(t.list, b)
	t.byIface[b.Interface] = len(t.list) - 1
	t.byVar[b.Variable] = len(t.list) - 1
	return true
}

// VariableFor 返回接口绑定的变量名。
func (t *AliasTable) VariableFor(iface string) (string, bool) {
	i, ok := t.byIface[iface]
	if !ok {
		return "", false
	}
	return t.list[i].Variable, true
}

// InterfaceFor 返回变量绑定的接口名。
func (t *AliasTable) InterfaceFor(variable string) (string, bool) {
	i, ok := t.byVar[variable]
	if !ok {
		return "", false
	}
	return t.list[i].Interface, true
}

// Binding 返回接口对应的完整绑定记录。
func (t *AliasTable) Binding(iface string) (InterfaceBinding, bool) {
	i, ok := t.byIface[iface]
	if !ok {
		return InterfaceBinding{}, false
	}
	return t.list[i], true
}

// Bindings 返回绑定快照（按绑定顺序）。
func (t *AliasTable) Bindings() []InterfaceBinding {
	out := make([]InterfaceBinding, len(t.list))
	copy(out, t.list)
	return out
}

func (t *AliasTable) Len() int { return len(t.list) }

func (t AliasTable) MarshalJSON() ([]byte, error) {
	if t.list == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t.list)
}

func (t *AliasTable) UnmarshalJSON(b []byte) error {
	var list []InterfaceBinding
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*t = AliasTable{}
	for _, x := range list {
		t.Bind(x)
	}
	return nil
}

// CallTable: 外部调用表，目标标识 → 方法名集合。
// 约束：只增不删；同一 (target, method) 仅记录一次。
type CallTable map[string]map[string]struct{}

// Add 将 (target, method) 并入集合，返回是否为新条目。
func (c CallTable) Add(target, method string) bool {
	if target == "" || method == "" {
		return false
	}
	set, ok := c[target]
	if !ok {
		set = make(map[string]struct{})
		c[target] = set
	}
	if _, ok := set[method]; ok {
		return false
	}
	set[method] = struct{}{}
	return true
}

// Has 报告 (target, method) 是否已记录。
func (c CallTable) Has(target, method string) bool {
	_, ok := c[target][method]
	return ok
}

// Targets 返回排序后的目标列表。
func (c CallTable) Targets() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Methods 返回目标上排序后的方法列表。
func (c CallTable) Methods(target string) []string {
	set := c[target]
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Pairs 统计 (target, method) 条目总数。
func (c CallTable) Pairs() int {
	n := 0
	for _, set := range c {
		n += len(set)
	}
	return n
}

func (c CallTable) MarshalJSON() ([]byte, error) {
	out := make(map[string][]string, len(c))
	for k := range c {
		out[k] = c.Methods(k)
	}
	return json.Marshal(out)
}

func (c *CallTable) UnmarshalJSON(b []byte) error {
	var in map[string][]string
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*c = make(CallTable, len(in))
	for k, ms := range in {
		for _, m := range ms {
			c.Add(k, m)
		}
	}
	return nil
}
