package prompt

import (
	"unicode/utf8"

	"autosctype/pkg/contract"
)

// DefaultSourceBudget: 源码随 Summary 发送的默认字符上限。
const DefaultSourceBudget = 50000

// MakeEstimator 返回一个近似 token 估算器：tokens ≈ ceil(len(utf8_bytes)/bytesPerToken)。
// 当 bytesPerToken<=0 时采用默认 4。
func MakeEstimator(bytesPerToken int) contract.TokenEstimator {
	bpt := bytesPerToken
	if bpt <= 0 {
		bpt = 4
	}
	return func(s string) int {
		n := len(s)
		if n == 0 {
			return 0
		}
		return (n + bpt - 1) / bpt
	}
}

// EffectiveMaxTokens 计算预扣“固定提示开销”后的有效预算。
// 返回 (effectiveMax, overheadTokens)。若 maxTokens<=0，返回 (0,0)。
func EffectiveMaxTokens(pb contract.PromptBuilder, bytesPerToken int, maxTokens int) (int, int) {
	if maxTokens <= 0 {
		return 0, 0
	}
	est := MakeEstimator(bytesPerToken)
	overhead := pb.EstimateOverheadTokens(est)
	eff := maxTokens - overhead
	return eff, overhead
}

// Truncate 按字符数（rune）截断源码，保留头部、丢弃尾部。
// budget<=0 视为不限制；返回值 cut 报告是否发生截断。
func Truncate(src string, budget int) (out string, cut bool) {
	if budget <= 0 || utf8.RuneCountInString(src) <= budget {
		return src, false
	}
	n := 0
	for i := range src {
		if n == budget {
			return src[:i], true
		}
		n++
	}
	return src, false
}

// SummaryTokens 估算一次边界调用的输入 token：固定开销 + 源码 + 结构化摘要的粗略占比。
func SummaryTokens(est contract.TokenEstimator, overhead int, s contract.Summary) int {
	if est == nil {
		est = MakeEstimator(0)
	}
	n := overhead + est(s.Source)
	// 结构化摘要约为源码声明部分的重述，按名称总长估算
	d := s.Contract
	for _, v := range d.Variables {
		n += est(v.Type + v.Name)
	}
	for _, f := range d.Functions {
		n += est(f.Name + f.RawParams)
	}
	for _, a := range d.Arrays {
		n += est(a.Type + a.Name)
	}
	for _, st := range d.Structs {
		n += est(st.Name)
		for _, fl := range st.Fields {
			n += est(fl.Type + fl.Name)
		}
	}
	return n
}
