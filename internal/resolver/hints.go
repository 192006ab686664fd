package resolver

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/common"

	"autosctype/internal/scanner"
	"autosctype/pkg/contract"
)

var reAddressLit = regexp.MustCompile(`\b0x[0-9a-fA-F]{40}\b`)

// Hints 报告源码中引用到的已知代币：先地址字面量（按出现顺序），后变量/参数/字段名。
func (r *Resolver) Hints(src string, d contract.ContractDescriptor) []contract.TokenHint {
	text := scanner.StripComments(src)
	var out []contract.TokenHint
	seen := set{}
	add := func(h contract.TokenHint) {
		key := h.Symbol + "\x00" + h.Origin
		if seen.has(key) {
			return
		}
		seen[key] = struct{}{}
		out = append(out, h)
	}
	for _, lit := range reAddressLit.FindAllString(text, -1) {
		if !common.IsHexAddress(lit) {
			continue
		}
		addr := common.HexToAddress(lit)
		info, ok := r.addresses[addr]
		if !ok {
			continue
		}
		add(contract.TokenHint{Symbol: info.Symbol, Decimals: info.Decimals, Address: addr.Hex(), Origin: addr.Hex()})
	}
	for _, name := range declaredNames(d) {
		for _, w := range splitWords(name) {
			if dec, ok := r.scales[w]; ok {
				add(contract.TokenHint{Symbol: strings.ToUpper(w), Decimals: dec, Origin: name})
			}
		}
	}
	return out
}

func declaredNames(d contract.ContractDescriptor) []string {
	var names []string
	for _, v := range d.Variables {
		names = append(names, v.Name)
	}
	for _, a := range d.Arrays {
		names = append(names, a.Name)
	}
	for _, s := range d.Structs {
		for _, f := range s.Fields {
			names = append(names, f.Name)
		}
	}
	for _, f := range d.Functions {
		for _, p := range f.Params {
			names = append(names, p.Name)
		}
	}
	return names
}

// splitWords 按下划线与驼峰切分并转小写：USDCAmount → [usdc amount]，weth_reserve → [weth reserve]。
func splitWords(name string) []string {
	rs := []rune(name)
	var words []string
	start := 0
	flush := func(end int) {
		if end > start {
			words = append(words, strings.ToLower(string(rs[start:end])))
		}
		start = end
	}
	for i := 0; i < len(rs); i++ {
		c := rs[i]
		if c == '_' || c == '$' || unicode.IsDigit(c) {
			flush(i)
			start = i + 1
			continue
		}
		if i == start || !unicode.IsUpper(c) {
			continue
		}
		prev := rs[i-1]
		nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
		if unicode.IsLower(prev) || (unicode.IsUpper(prev) && nextLower) {
			flush(i)
		}
	}
	flush(len(rs))
	return words
}
