// Package resolver 建立接口 ↔ 变量绑定并汇总外部调用。
//
// 绑定按固定优先级的六个启发式依次进行，每个启发式只填充尚未设置的槽位；
// 外部调用由五种调用形态的独立扫描取并集，再经两类补全扩充。
// 结果只取决于 (源文本, Tables)。
package resolver

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"autosctype/internal/scanner"
	"autosctype/pkg/contract"
)

const ident = `[A-Za-z_$][\w$]*`

type set map[string]struct{}

func newSet(xs ...[]string) set {
	s := set{}
	for _, l := range xs {
		for _, x := range l {
			s[x] = struct{}{}
		}
	}
	return s
}

func (s set) has(x string) bool { _, ok := s[x]; return ok }

// Resolver 持有编译后的只读表，可并发使用。
type Resolver struct {
	builtins     set
	lowLevel     set
	members      set
	libraries    set
	ifaceMethods map[string][]string
	selectors    map[string]string // "0xa9059cbb" -> 方法名
	scales       map[string]int
	addresses    map[common.Address]TokenAddress
}

// New 编译 Tables；签名不可解析或地址非法时报错。
func New(t Tables) (*Resolver, error) {
	t = t.clone()
	r := &Resolver{
		builtins:     newSet(t.Builtins),
		lowLevel:     newSet(t.LowLevel),
		members:      newSet(t.BuiltinMembers),
		libraries:    newSet(t.Libraries),
		ifaceMethods: t.TokenMethods,
		selectors:    make(map[string]string, len(t.Signatures)),
		scales:       t.TokenScales,
		addresses:    make(map[common.Address]TokenAddress, len(t.TokenAddresses)),
	}
	for _, sig := range t.Signatures {
		canon := strings.Join(strings.Fields(sig), "")
		sel, err := abi.ParseSelector(canon)
		if err != nil {
			return nil, fmt.Errorf("resolver: signature %q: %w", sig, err)
		}
		r.selectors[hexutil.Encode(crypto.Keccak256([]byte(canon))[:4])] = sel.Name
	}
	for _, a := range t.TokenAddresses {
		if !common.IsHexAddress(a.Address) {
			return nil, fmt.Errorf("resolver: token address %q: %w", a.Address, contract.ErrInvalidInput)
		}
		r.addresses[common.HexToAddress(a.Address)] = a
	}
	return r, nil
}

// Resolve 基于源文本与扫描结果构造别名表与外部调用表。
// d 只读；返回值由调用方写回 descriptor。
func (r *Resolver) Resolve(src string, d contract.ContractDescriptor) (contract.AliasTable, contract.CallTable) {
	text := scanner.StripComments(src)
	sites := castSites(text)
	u := universe(text, d, sites)

	var at contract.AliasTable
	bindInstantiations(text, &at)
	bindAssignments(text, &at)
	for _, s := range sites {
		at.Bind(contract.InterfaceBinding{Interface: s.iface, Variable: synth(s.iface), Source: contract.BindCallSite})
	}
	bindAddressVariables(d, u.all, &at)
	bindBaseNames(d, u.all, &at)
	for _, iface := range u.declared {
		bindFallback(iface, &at)
	}

	calls := contract.CallTable{}
	libs := newSet(d.Libraries)
	for k := range r.libraries {
		libs[k] = struct{}{}
	}
	r.memberCalls(text, d, &at, libs, calls)
	for _, s := range sites {
		calls.Add(s.target(&at), s.method)
	}
	libraryCalls(text, libs, calls)
	r.rawCalls(text, calls)
	superCalls(text, calls)
	r.enrichTokenMethods(text, &at, calls)
	enrichDeclaredMethods(text, &at, calls)
	return at, calls
}

// isIface: 两字母接口命名约定（I 后紧跟另一个大写字母）。
func isIface(name string) bool {
	return len(name) >= 2 && name[0] == 'I' && unicode.IsUpper(rune(name[1]))
}

// synth 去掉前导 I 并整体大写：IPairsContract → PAIRSCONTRACT。
func synth(iface string) string { return strings.ToUpper(strings.TrimPrefix(iface, "I")) }

// bindFallback 以合成名兜底；合成名已被占用时追加 _2、_3… 直到空闲。
func bindFallback(iface string, at *contract.AliasTable) {
	if _, ok := at.VariableFor(iface); ok {
		return
	}
	name := synth(iface)
	for i := 2; ; i++ {
		if at.Bind(contract.InterfaceBinding{Interface: iface, Variable: name, Source: contract.BindFallback}) {
			return
		}
		name = fmt.Sprintf("%s_%d", synth(iface), i)
	}
}

var elementaryPrefixes = []string{"uint", "int", "bool", "address", "bytes", "string", "return", "emit"}

func isElementary(t string) bool {
	for _, p := range elementaryPrefixes {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	return false
}

type ifaceUniverse struct {
	all      []string // 声明 + 导入 + 调用点出现的接口，按首次出现顺序
	declared []string // 声明 + 导入（兜底绑定范围）
}

func universe(text string, d contract.ContractDescriptor, sites []castSite) ifaceUniverse {
	var u ifaceUniverse
	seen := set{}
	add := func(name string, declared bool) {
		if !isIface(name) || seen.has(name) {
			return
		}
		seen[name] = struct{}{}
		u.all = append(u.all, name)
		if declared {
			u.declared = append(u.declared, name)
		}
	}
	for _, n := range d.Interfaces {
		add(n, true)
	}
	for _, n := range d.ImportSymbols {
		add(n, true)
	}
	for _, p := range d.Imports {
		base := p[strings.LastIndexAny(p, "/\\")+1:]
		add(strings.TrimSuffix(base, ".sol"), true)
	}
	for _, s := range sites {
		add(s.iface, false)
	}
	return u
}

// rhsComplete 报告 open 处的调用是否构成完整右值（配对括号后紧跟 ';'）。
func rhsComplete(text string, open int) bool {
	end := scanner.MatchParen(text, open)
	if end < 0 {
		return false
	}
	rest := strings.TrimLeftFunc(text[end+1:], unicode.IsSpace)
	return strings.HasPrefix(rest, ";")
}

var reInstantiation = regexp.MustCompile(`\b(` + ident + `)\s+(?:(?:public|private|internal|immutable|constant)\s+)*(` + ident + `)\s*=\s*(?:new\s+)?(` + ident + `)\s*\(`)

// 1. Type var = Type(...) / Type var = new Type(...)
func bindInstantiations(text string, at *contract.AliasTable) {
	for _, m := range reInstantiation.FindAllStringSubmatchIndex(text, -1) {
		decl, v, inst := text[m[2]:m[3]], text[m[4]:m[5]], text[m[6]:m[7]]
		iface := ""
		switch {
		case isIface(decl):
			iface = decl
		case isIface(inst) && !isElementary(decl):
			iface = inst
		default:
			continue
		}
		if !rhsComplete(text, m[1]-1) {
			continue
		}
		at.Bind(contract.InterfaceBinding{Interface: iface, Variable: v, Source: contract.BindInstantiation})
	}
}

var reAssignment = regexp.MustCompile(`(?:^|[^\w$.])(` + ident + `)\s*=\s*(?:new\s+)?(I[A-Z][\w$]*)\s*\(`)

// 2. var = Type(...)
func bindAssignments(text string, at *contract.AliasTable) {
	for _, m := range reAssignment.FindAllStringSubmatchIndex(text, -1) {
		if !rhsComplete(text, m[1]-1) {
			continue
		}
		at.Bind(contract.InterfaceBinding{Interface: text[m[4]:m[5]], Variable: text[m[2]:m[3]], Source: contract.BindAssignment})
	}
}

// 4. 全大写 address 变量与去掉 I 的接口名忽略大小写（及下划线）比较。
func bindAddressVariables(d contract.ContractDescriptor, ifaces []string, at *contract.AliasTable) {
	for _, iface := range ifaces {
		base := iface[1:]
		for _, v := range d.Variables {
			if !strings.HasPrefix(v.Type, "address") || !isUpperIdent(v.Name) {
				continue
			}
			if strings.EqualFold(strings.ReplaceAll(v.Name, "_", ""), base) {
				if at.Bind(contract.InterfaceBinding{Interface: iface, Variable: v.Name, Source: contract.BindAddressVar}) {
					break
				}
			}
		}
	}
}

// 5. 接口 IFoo 与同文件合约 Foo 同名 → FOO。
func bindBaseNames(d contract.ContractDescriptor, ifaces []string, at *contract.AliasTable) {
	contracts := newSet(d.Contracts)
	for _, iface := range ifaces {
		if base := iface[1:]; contracts.has(base) {
			at.Bind(contract.InterfaceBinding{Interface: iface, Variable: strings.ToUpper(base), Source: contract.BindBaseName})
		}
	}
}

func isUpperIdent(s string) bool {
	letter := false
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			letter = true
		case r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return letter
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
