package resolver

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"autosctype/internal/scanner"
	"autosctype/pkg/contract"
)

// 调用选项 {value: v, gas: g} 可出现在方法名与参数表之间。
const callOpts = `\s*(?:\{[^{}]*\})?\s*\(`

var (
	reCastOpen   = regexp.MustCompile(`\b(I[A-Z][\w$]*)\s*\(`)
	reCastMember = regexp.MustCompile(`^\s*\.\s*(` + ident + `)` + callOpts)
	reMember     = regexp.MustCompile(`(` + ident + `)\s*\.\s*(` + ident + `)` + callOpts)
	reSuper      = regexp.MustCompile(`\bsuper\s*\.\s*(` + ident + `)` + callOpts)
	reCalled     = regexp.MustCompile(`\.\s*(` + ident + `)` + callOpts)
	reIdentExpr  = regexp.MustCompile(`^` + ident + `(?:\.` + ident + `)*$`)
	reUnwrap     = regexp.MustCompile(`^(?:address|payable|I[A-Z][\w$]*)\s*\(\s*(` + ident + `(?:\.` + ident + `)*)\s*\)$`)

	reRaw = regexp.MustCompile(`(?:\b(?:address|payable)\s*\(\s*(` + ident + `(?:\s*\.\s*` + ident + `)*)\s*\)|\b(` + ident + `(?:\s*\.\s*` + ident + `)*?))` +
		`\s*\.\s*(?:call|staticcall|delegatecall)\s*(?:\{[^{}]*\})?\s*\(\s*abi\s*\.\s*(encodeWithSignature|encodeWithSelector|encodeCall)\s*\(`)
	reSelectorRef = regexp.MustCompile(`(` + ident + `)\s*\.\s*(` + ident + `)\s*\.\s*selector`)
	reHexSelector = regexp.MustCompile(`^0x[0-9a-fA-F]{8}$`)
	reQuoted      = regexp.MustCompile(`"([^"]*)"|'([^']*)'`)
	reConstant    = regexp.MustCompile(`\b(?:bytes4|string)\s+(?:(?:public|private|internal|constant|immutable)\s+)*(` + ident + `)\s*=\s*([^;]*);`)

	reIfaceOpen = regexp.MustCompile(`\binterface\s+(` + ident + `)[^{;]*\{`)
	reFuncName  = regexp.MustCompile(`\bfunction\s+(` + ident + `)\s*\(`)
)

// castSite: Type(arg).method(...) 形式的一次出现。
type castSite struct {
	iface, arg, method string
}

// target: 别名表优先；否则取实参标识符；再否则取合成名。
func (s castSite) target(at *contract.AliasTable) string {
	if v, ok := at.VariableFor(s.iface); ok {
		return v
	}
	if arg := unwrap(s.arg); reIdentExpr.MatchString(arg) {
		return arg
	}
	return synth(s.iface)
}

func castSites(text string) []castSite {
	var out []castSite
	for _, m := range reCastOpen.FindAllStringSubmatchIndex(text, -1) {
		open := m[1] - 1
		end := scanner.MatchParen(text, open)
		if end < 0 {
			continue
		}
		mm := reCastMember.FindStringSubmatch(text[end+1:])
		if mm == nil {
			continue
		}
		out = append(out, castSite{
			iface:  text[m[2]:m[3]],
			arg:    strings.TrimSpace(text[open+1 : end]),
			method: mm[1],
		})
	}
	return out
}

// unwrap 去掉 address(x)/payable(x)/IFoo(x) 包装；可嵌套。
func unwrap(expr string) string {
	expr = strings.TrimSpace(expr)
	for {
		m := reUnwrap.FindStringSubmatch(expr)
		if m == nil {
			return expr
		}
		expr = m[1]
	}
}

// firstArg 返回 open 处参数表在深度 0 处的首个实参。
func firstArg(text string, open int) string {
	depth := 0
	for i := open + 1; i < len(text); i++ {
		switch text[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth == 0 {
				return strings.TrimSpace(text[open+1 : i])
			}
			depth--
		case ',':
			if depth == 0 {
				return strings.TrimSpace(text[open+1 : i])
			}
		}
	}
	return ""
}

func prevByte(text string, i int) byte {
	if i == 0 {
		return 0
	}
	return text[i-1]
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// x.method(...)：排除内建伪对象、库、合约名、链式成员与低级调用成员；
// 数组与非 address 基础类型上的调用是内建成员或 using-for 库函数，也排除。
func (r *Resolver) memberCalls(text string, d contract.ContractDescriptor, at *contract.AliasTable, libs set, calls contract.CallTable) {
	contracts := newSet(d.Contracts)
	values := valueNames(d, at)
	for _, m := range reMember.FindAllStringSubmatchIndex(text, -1) {
		if p := prevByte(text, m[2]); p == '.' || isIdentByte(p) {
			continue
		}
		x, method := text[m[2]:m[3]], text[m[4]:m[5]]
		if r.builtins.has(x) || libs.has(x) || contracts.has(x) || values.has(x) || r.lowLevel.has(method) || r.members.has(method) {
			continue
		}
		calls.Add(x, method)
	}
}

// valueNames 收集不可能指向外部合约的声明名：数组、整型变量与参数。
// 已绑定接口的变量不计入。
func valueNames(d contract.ContractDescriptor, at *contract.AliasTable) set {
	out := set{}
	for _, a := range d.Arrays {
		out[a.Name] = struct{}{}
	}
	for _, v := range d.Variables {
		if !isAddressType(v.Type) {
			out[v.Name] = struct{}{}
		}
	}
	for _, f := range d.Functions {
		for _, p := range f.Params {
			if strings.HasSuffix(p.Type, "[]") || !isAddressType(p.Type) {
				out[p.Name] = struct{}{}
			}
		}
	}
	for name := range out {
		if _, ok := at.InterfaceFor(name); ok {
			delete(out, name)
		}
	}
	return out
}

func isAddressType(t string) bool { return strings.HasPrefix(t, "address") }

// Lib.method(firstArg, ...)：以首个实参为调用目标。
func libraryCalls(text string, libs set, calls contract.CallTable) {
	for _, m := range reMember.FindAllStringSubmatchIndex(text, -1) {
		if p := prevByte(text, m[2]); p == '.' || isIdentByte(p) {
			continue
		}
		if !libs.has(text[m[2]:m[3]]) {
			continue
		}
		arg := unwrap(firstArg(text, m[1]-1))
		if reIdentExpr.MatchString(arg) {
			calls.Add(arg, text[m[4]:m[5]])
		}
	}
}

// addr.call(abi.encodeWithSignature/encodeWithSelector/encodeCall(...))。
func (r *Resolver) rawCalls(text string, calls contract.CallTable) {
	consts := r.selectorConstants(text)
	for _, m := range reRaw.FindAllStringSubmatchIndex(text, -1) {
		target := ""
		if m[2] >= 0 {
			target = text[m[2]:m[3]]
		} else {
			target = text[m[4]:m[5]]
		}
		target = strings.Join(strings.Fields(target), "")
		arg := firstArg(text, m[1]-1)
		method := ""
		switch text[m[6]:m[7]] {
		case "encodeCall":
			if parts := strings.Split(strings.Join(strings.Fields(arg), ""), "."); len(parts) == 2 {
				method = parts[1]
			}
		default:
			method = r.selectorMethod(arg, consts)
		}
		if method != "" {
			calls.Add(target, method)
		}
	}
}

// selectorMethod 将签名字面量、I.m.selector、4 字节十六进制或已声明常量解析为方法名。
func (r *Resolver) selectorMethod(expr string, consts map[string]string) string {
	expr = strings.TrimSpace(expr)
	if q := reQuoted.FindStringSubmatch(expr); q != nil {
		return signatureName(q[1] + q[2])
	}
	if m := reSelectorRef.FindStringSubmatch(expr); m != nil {
		return m[2]
	}
	if reHexSelector.MatchString(expr) {
		return r.selectors[strings.ToLower(expr)]
	}
	return consts[expr]
}

// selectorConstants 收集 bytes4/string 常量声明中可解析的选择器。
func (r *Resolver) selectorConstants(text string) map[string]string {
	out := map[string]string{}
	for _, m := range reConstant.FindAllStringSubmatch(text, -1) {
		if name := r.selectorMethod(m[2], nil); name != "" {
			out[m[1]] = name
		}
	}
	return out
}

// signatureName 解析 "transfer(address,uint256)" 的方法名；无法解析时取括号前缀。
func signatureName(sig string) string {
	canon := strings.Join(strings.Fields(sig), "")
	if sel, err := abi.ParseSelector(canon); err == nil {
		return sel.Name
	}
	if i := strings.IndexByte(canon, '('); i > 0 {
		return canon[:i]
	}
	return ""
}

// super.method(...) 记入伪目标 "super"。
func superCalls(text string, calls contract.CallTable) {
	for _, m := range reSuper.FindAllStringSubmatch(text, -1) {
		calls.Add("super", m[1])
	}
}

// enrichTokenMethods: 已绑定的规范接口，若源码中出现其标准方法的成员调用，
// 则补记 (绑定变量, 方法)。
func (r *Resolver) enrichTokenMethods(text string, at *contract.AliasTable, calls contract.CallTable) {
	called := set{}
	for _, m := range reCalled.FindAllStringSubmatch(text, -1) {
		called[m[1]] = struct{}{}
	}
	for _, iface := range sortedKeys(r.ifaceMethods) {
		v, ok := at.VariableFor(iface)
		if !ok {
			continue
		}
		for _, method := range r.ifaceMethods[iface] {
			if called.has(method) {
				calls.Add(v, method)
			}
		}
	}
}

// enrichDeclaredMethods: 文件内声明的已绑定接口，其体内声明的方法全部记到绑定变量上。
func enrichDeclaredMethods(text string, at *contract.AliasTable, calls contract.CallTable) {
	for _, m := range reIfaceOpen.FindAllStringSubmatchIndex(text, -1) {
		v, ok := at.VariableFor(text[m[2]:m[3]])
		if !ok {
			continue
		}
		end := scanner.MatchBrace(text, m[1]-1)
		if end < 0 {
			continue
		}
		for _, f := range reFuncName.FindAllStringSubmatch(text[m[1]:end], -1) {
			calls.Add(v, f[1])
		}
	}
}
