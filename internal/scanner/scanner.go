// Package scanner 以容错的模式匹配从合约源文本中提取结构元素。
//
// 这不是语法分析器：每一类提取相互独立，零匹配返回空列表而不是错误，
// 多次扫描之间的重叠/分歧交由 resolver 的优先级规则调和。
package scanner

import (
	"regexp"
	"strings"

	"autosctype/pkg/contract"
)

const ident = `[A-Za-z_$][\w$]*`

// 基础类型：可选位宽的 uint/int，或 address（可带 payable）。
const primitive = `u?int\d*|address(?:\s+payable)?`

const declQuals = `(?:\s+(?:public|private|internal|external|constant|immutable|override|transient))*`

var (
	reContract  = regexp.MustCompile(`\bcontract\s+(` + ident + `)`)
	reInterface = regexp.MustCompile(`\binterface\s+(` + ident + `)`)
	reLibrary   = regexp.MustCompile(`\blibrary\s+(` + ident + `)`)

	reVariable = regexp.MustCompile(`\b(` + primitive + `)` + declQuals + `\s+(` + ident + `)\s*(?:=[^;{}]*)?;`)
	reArray    = regexp.MustCompile(`\b(` + primitive + `)\s*\[\s*\]` + declQuals + `\s+(` + ident + `)\s*(?:=[^;{}]*)?;`)
	reStruct   = regexp.MustCompile(`\bstruct\s+(` + ident + `)\s*\{([^{}]*)\}`)

	// 参数表允许一层嵌套括号（如函数类型参数）。
	reFunction = regexp.MustCompile(`\bfunction\s+(` + ident + `)\s*\(([^()]*(?:\([^()]*\)[^()]*)*)\)`)
	reParam    = regexp.MustCompile(`\b(` + primitive + `)(\s*\[\s*\])?(?:\s+(?:memory|storage|calldata|indexed))*\s+(` + ident + `)`)
	reReturns  = regexp.MustCompile(`\breturns\s*\(([^()]*)\)`)

	reImport     = regexp.MustCompile(`\bimport\s+([^;]*);`)
	reImportPath = regexp.MustCompile(`["']([^"']+)["']`)
	reImportSyms = regexp.MustCompile(`\{([^}]*)\}`)
)

var reservedNames = map[string]struct{}{
	"public": {}, "private": {}, "internal": {}, "external": {}, "constant": {},
	"immutable": {}, "override": {}, "memory": {}, "storage": {}, "calldata": {},
	"payable": {}, "indexed": {}, "returns": {}, "transient": {},
}

// Scan 提取 src 的 ContractDescriptor。
// 未找到合约声明时返回 contract.ErrNoContract，其余类别零匹配均为空列表。
// Aliases/ExternalCalls 由 resolver 填充，此处为空表。
func Scan(src string) (contract.ContractDescriptor, error) {
	text := StripComments(src)
	d := contract.ContractDescriptor{
		Variables:     make([]contract.Variable, 0),
		Functions:     make([]contract.FunctionSig, 0),
		Arrays:        make([]contract.ArrayDecl, 0),
		Structs:       make([]contract.StructDecl, 0),
		Imports:       make([]string, 0),
		Interfaces:    submatches(reInterface, text),
		Contracts:     submatches(reContract, text),
		Libraries:     submatches(reLibrary, text),
		ExternalCalls: contract.CallTable{},
	}
	if len(d.Contracts) == 0 {
		return d, contract.ErrNoContract
	}
	d.Name = d.Contracts[0]

	decl := TopLevel(text)
	for _, m := range reVariable.FindAllStringSubmatch(decl, -1) {
		if isReserved(m[2]) {
			continue
		}
		d.Variables = append(d.Variables, contract.Variable{Type: normType(m[1]), Name: m[2]})
	}
	for _, m := range reArray.FindAllStringSubmatch(decl, -1) {
		if isReserved(m[2]) {
			continue
		}
		d.Arrays = append(d.Arrays, contract.ArrayDecl{Type: normType(m[1]) + "[]", Name: m[2]})
	}
	for _, m := range reStruct.FindAllStringSubmatch(text, -1) {
		d.Structs = append(d.Structs, contract.StructDecl{Name: m[1], Fields: scanFields(m[2])})
	}
	for _, loc := range reFunction.FindAllStringSubmatchIndex(text, -1) {
		d.Functions = append(d.Functions, scanFunction(text, loc))
	}
	d.Imports, d.ImportSymbols = scanImports(text)
	return d, nil
}

// scanFields 在单个结构体体内独立扫描基础类型字段。
func scanFields(body string) []contract.Param {
	out := make([]contract.Param, 0)
	for _, m := range reVariable.FindAllStringSubmatch(body, -1) {
		if isReserved(m[2]) {
			continue
		}
		out = append(out, contract.Param{Type: normType(m[1]), Name: m[2]})
	}
	return out
}

// scanFunction 基于一次函数匹配构造签名：参数表二次提取，returns 子句仅在
// 该函数头部（参数表之后到首个 '{' 或 ';'）内查找。
func scanFunction(text string, loc []int) contract.FunctionSig {
	raw := text[loc[4]:loc[5]]
	fn := contract.FunctionSig{
		Name:      text[loc[2]:loc[3]],
		RawParams: strings.Join(strings.Fields(raw), " "),
		Params:    make([]contract.Param, 0),
	}
	for _, p := range reParam.FindAllStringSubmatch(raw, -1) {
		if isReserved(p[3]) {
			continue
		}
		typ := normType(p[1])
		if p[2] != "" {
			typ += "[]"
		}
		fn.Params = append(fn.Params, contract.Param{Type: typ, Name: p[3]})
	}
	head := text[loc[1]:]
	if i := strings.IndexAny(head, "{;"); i >= 0 {
		head = head[:i]
	}
	if m := reReturns.FindStringSubmatch(head); m != nil {
		fn.Return = parseReturn(m[1])
	}
	return fn
}

// parseReturn 解析 returns 列表的首项；未命名时名称记为 "return"。
func parseReturn(list string) *contract.Param {
	first := strings.TrimSpace(strings.SplitN(list, ",", 2)[0])
	fields := make([]string, 0, 3)
	for _, f := range strings.Fields(first) {
		switch f {
		case "memory", "storage", "calldata":
			continue
		}
		fields = append(fields, f)
	}
	if len(fields) >= 2 && fields[0] == "address" && fields[1] == "payable" {
		fields = append([]string{"address payable"}, fields[2:]...)
	}
	if len(fields) == 0 {
		return nil
	}
	p := &contract.Param{Type: fields[0], Name: "return"}
	if len(fields) > 1 {
		p.Name = fields[1]
	}
	return p
}

// scanImports 返回导入路径与 {A, B} 形式的导入符号（as 别名取原名）。
func scanImports(text string) (paths, symbols []string) {
	paths = make([]string, 0)
	for _, m := range reImport.FindAllStringSubmatch(text, -1) {
		stmt := m[1]
		if p := reImportPath.FindStringSubmatch(stmt); p != nil {
			paths = append(paths, p[1])
		}
		if s := reImportSyms.FindStringSubmatch(stmt); s != nil {
			for _, part := range strings.Split(s[1], ",") {
				f := strings.Fields(part)
				if len(f) > 0 {
					symbols = append(symbols, f[0])
				}
			}
		}
	}
	return paths, symbols
}

func submatches(re *regexp.Regexp, text string) []string {
	out := make([]string, 0)
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}

// normType 折叠类型中的空白（"address   payable" → "address payable"）。
func normType(t string) string { return strings.Join(strings.Fields(t), " ") }

func isReserved(name string) bool {
	_, ok := reservedNames[name]
	return ok
}
