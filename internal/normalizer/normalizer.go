// Package normalizer 将标注方返回的自由文本修复为固定的行标签协议文档。
//
// 处理流程：解析为类型化记录 → 五个有序修复步骤（表头、金融后缀、跳过段重排、
// 数值展开、花括号转义）→ 序列化。每一步对自身触发条件之外的记录不做改动，
// 整体满足 Normalize(Normalize(d)) == Normalize(d)。
package normalizer

import (
	"fmt"
	"strings"

	"autosctype/pkg/contract"
)

// Report: 一次规范化中各步骤的修复计数（用于日志与指标）。
type Report struct {
	Fallback        bool
	HeaderInserted  bool
	HeadersReplaced int
	SuffixRepairs   int
	SkipEntries     int
	NumericRewrites int
	BracesEscaped   int
	// Invalid: 字段数不符合约定的行（保留输出，仅报告）。
	Invalid []string
}

// Repairs 返回各步骤计数，键为步骤名。
func (r Report) Repairs() map[string]int {
	h := 0
	if r.HeaderInserted {
		h = 1
	}
	return map[string]int{
		"header":  h + r.HeadersReplaced,
		"suffix":  r.SuffixRepairs,
		"skip":    r.SkipEntries,
		"numeric": r.NumericRewrites,
		"braces":  r.BracesEscaped,
	}
}

// 各标签在两个变体下的字段数约定（不含标签本身）。
var arity = map[contract.Variant]map[Kind]int{
	contract.VariantToken: {
		KindField: 6, KindAddress: 3, KindArray: 4, KindStruct: 7,
		KindCall: 5, KindTupleCall: 3, KindSkip: 1,
	},
	contract.VariantFinancial: {
		KindField: 3, KindAddress: 3, KindArray: 2, KindStruct: 4,
		KindCall: 3, KindTupleCall: 3, KindSkip: 1,
	},
}

// Header 返回合约的规范表头行。
func Header(name string) string { return "[*c], " + name }

// Minimal 返回变体的最小合法文档：token 为表头加空行，financial 为空串。
func Minimal(name string, v contract.Variant) string {
	if v == contract.VariantFinancial {
		return ""
	}
	return Header(name) + "\n\n"
}

// Normalize 修复候选文档。d.Name 为空或变体未知时返回 ErrInvalidInput。
// 空白候选直接返回最小文档，不执行任何修复步骤。
func Normalize(raw string, d contract.ContractDescriptor, v contract.Variant) (string, Report, error) {
	var rep Report
	if d.Name == "" || !v.Valid() {
		return "", rep, fmt.Errorf("normalize %q/%s: %w", d.Name, v, contract.ErrInvalidInput)
	}
	if strings.TrimSpace(raw) == "" {
		rep.Fallback = true
		return Minimal(d.Name, v), rep, nil
	}

	body := repairHeader(parse(raw), d.Name, &rep)
	if v == contract.VariantFinancial {
		repairSuffix(body, &rep)
	}
	known := make(map[string]struct{}, len(d.Functions))
	for _, n := range d.FunctionNames() {
		known[n] = struct{}{}
	}
	body, skips := reflowSkips(body, known, v, &rep)
	if v == contract.VariantToken {
		expandNumerics(body, &rep)
	}
	escapeBraces(body, &rep)

	body = collapseBlanks(body)
	if len(body) == 0 && len(skips) == 0 {
		rep.Fallback = true
		return Minimal(d.Name, v), rep, nil
	}
	rep.Invalid = validate(body, v)
	return render(d.Name, body, skips), rep, nil
}

// NormalizeSafe 与 Normalize 相同，但任何错误或 panic 都退化为最小文档；
// 返回的 error 仅用于记录。
func NormalizeSafe(raw string, d contract.ContractDescriptor, v contract.Variant) (doc string, rep Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc = Minimal(d.Name, v)
			rep = Report{Fallback: true}
			err = fmt.Errorf("normalize %s/%s: %w: %v", d.Name, v, contract.ErrInvariantViolation, r)
		}
	}()
	doc, rep, err = Normalize(raw, d, v)
	if err != nil {
		return Minimal(d.Name, v), Report{Fallback: true}, err
	}
	return doc, rep, nil
}

// collapseBlanks 合并连续空行并去掉首尾空行。
func collapseBlanks(es []Entry) []Entry {
	out := make([]Entry, 0, len(es))
	for _, e := range es {
		if e.Kind == KindBlank && (len(out) == 0 || out[len(out)-1].Kind == KindBlank) {
			continue
		}
		out = append(out, e)
	}
	for len(out) > 0 && out[len(out)-1].Kind == KindBlank {
		out = out[:len(out)-1]
	}
	return out
}

func validate(body []Entry, v contract.Variant) []string {
	var bad []string
	for _, e := range body {
		want, ok := arity[v][e.Kind]
		if ok && len(e.Fields) != want {
			bad = append(bad, e.String())
		}
	}
	return bad
}

// render: 表头、空行、正文；token 的跳过函数在正文后以空行分隔成块。
func render(name string, body []Entry, skips []string) string {
	lines := make([]string, 0, len(body)+len(skips)+3)
	lines = append(lines, Header(name), "")
	for _, e := range body {
		lines = append(lines, e.String())
	}
	if len(skips) > 0 {
		if len(body) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, skips...)
	}
	return strings.Join(lines, "\n") + "\n"
}
