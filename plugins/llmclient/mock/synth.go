package mock

import (
	"strconv"
	"strings"

	"autosctype/pkg/contract"
)

// unit: token 变体的 (numerator, denominator, scale)。
type unit struct{ num, den, scale int }

func (u unit) String() string {
	return strconv.Itoa(u.num) + ", " + strconv.Itoa(u.den) + ", " + strconv.Itoa(u.scale)
}

// Synthesize 按 Summary 合成一份分节响应（两个变体均包含）。
// 结果只依赖输入，便于端到端测试断言。
func Synthesize(s contract.Summary) string {
	d := s.Contract
	hints := make(map[string]contract.TokenHint, len(s.Hints))
	addrs := make(map[string]string) // symbol → 源码中出现的地址
	for _, h := range s.Hints {
		if _, ok := hints[h.Origin]; !ok {
			hints[h.Origin] = h
		}
		if h.Address != "" {
			addrs[h.Symbol] = h.Address
		}
	}
	var tok, fin strings.Builder
	line := func(b *strings.Builder, fields ...string) {
		b.WriteString(strings.Join(fields, ", "))
		b.WriteByte('\n')
	}

	tok.WriteString("[*c], " + d.Name + "\n\n")
	fin.WriteString("[*c], " + d.Name + "\n\n")
	for _, v := range d.Variables {
		switch {
		case numeric(v.Type):
			line(&tok, "[t]", "global", v.Name, unitFor(v.Name, hints).String(), "'u'")
			line(&fin, "[t]", "global", v.Name, "f:"+strconv.Itoa(financialFor(v.Name)))
		case strings.HasPrefix(v.Type, "address"):
			if h, ok := hints[v.Name]; ok && addrs[h.Symbol] != "" {
				line(&tok, "[ta]", "global", v.Name, addrs[h.Symbol])
			}
		}
	}
	for _, a := range d.Arrays {
		if numeric(a.Type) {
			line(&tok, "[tref]", a.Name, unitFor(a.Name, hints).String())
			line(&fin, "[tref]", a.Name, "f:"+strconv.Itoa(financialFor(a.Name)))
		}
	}
	for _, st := range d.Structs {
		for _, f := range st.Fields {
			if numeric(f.Type) {
				line(&tok, "[t*]", "global", st.Name, f.Name, unitFor(f.Name, hints).String(), "'u'")
				line(&fin, "[t*]", "global", st.Name, f.Name, "f:"+strconv.Itoa(financialFor(f.Name)))
			}
		}
	}
	var skips []string
	seen := make(map[string]struct{}, len(d.Functions))
	for _, fn := range d.Functions {
		if _, dup := seen[fn.Name]; dup {
			continue
		}
		seen[fn.Name] = struct{}{}
		n := 0
		for _, p := range fn.Params {
			if numeric(p.Type) && p.Name != "" {
				line(&tok, "[t]", fn.Name, p.Name, unitFor(p.Name, hints).String(), "'u'")
				line(&fin, "[t]", fn.Name, p.Name, "f:"+strconv.Itoa(financialFor(p.Name)))
				n++
			}
		}
		if r := fn.Return; r != nil && numeric(r.Type) {
			name := r.Name
			if name == "" {
				name = "return"
			}
			// 未命名返回值按函数名推断
			basis := name
			if name == "return" {
				basis = fn.Name
			}
			line(&tok, "[t]", fn.Name, name, unitFor(basis, hints).String(), "'u'")
			line(&fin, "[t]", fn.Name, name, "f:"+strconv.Itoa(financialFor(basis)))
			n++
		}
		if n == 0 {
			skips = append(skips, fn.Name)
		}
	}
	for _, target := range d.ExternalCalls.Targets() {
		for _, m := range d.ExternalCalls.Methods(target) {
			line(&tok, "[sc]", target, m, unitFor(m, hints).String())
			line(&fin, "[sc]", target, m, "f:"+strconv.Itoa(financialFor(m)))
		}
	}
	if len(skips) > 0 {
		tok.WriteByte('\n')
		for _, name := range skips {
			tok.WriteString(name + "\n")
			line(&fin, "[sf]", name)
		}
	}

	var out strings.Builder
	out.WriteString("1. " + contract.VariantToken.SectionMarker() + ":\n")
	out.WriteString(tok.String())
	out.WriteString("\n2. " + contract.VariantFinancial.SectionMarker() + ":\n")
	out.WriteString(fin.String())
	return out.String()
}

func numeric(t string) bool { return strings.HasPrefix(t, "uint") || strings.HasPrefix(t, "int") }

var stables = map[string]bool{"USDC": true, "USDT": true, "DAI": true, "BUSD": true, "FRAX": true}

func unitFor(name string, hints map[string]contract.TokenHint) unit {
	if h, ok := hints[name]; ok {
		switch sym := strings.ToUpper(h.Symbol); {
		case stables[sym]:
			return unit{1, -1, h.Decimals}
		case sym == "ETH" || sym == "WETH":
			return unit{2, -1, 18}
		case sym == "BTC" || sym == "WBTC":
			return unit{3, -1, 8}
		}
		return unit{1, -1, h.Decimals}
	}
	if hasAny(strings.ToLower(name), "amount", "balance", "token", "staked", "supply", "reserve", "shares", "assets") {
		return unit{1, -1, 18}
	}
	return unit{-1, -1, 18}
}

// financialFor 按名称关键词推断金融语义码，先命中者优先。
func financialFor(name string) int {
	n := strings.ToLower(name)
	switch {
	case hasAny(n, "fee", "commission"):
		return 11
	case hasAny(n, "interest", "apr", "apy"):
		return 20
	case hasAny(n, "rate", "ratio"):
		return 12
	case hasAny(n, "price", "exchange", "answer"):
		return 40
	case hasAny(n, "reward", "profit", "dividend"):
		return 60
	case hasAny(n, "debt", "borrow"):
		return 50
	case hasAny(n, "reserve"):
		return 30
	case hasAny(n, "balance", "amount", "staked", "supply", "shares", "assets"):
		return 0
	}
	return -1
}

func hasAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
