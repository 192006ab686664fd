package normalizer

import (
	"regexp"
	"strings"

	"autosctype/pkg/contract"
)

// repairHeader 移除所有指向本合约（忽略大小写）或无名的 [*c] 记录，渲染时在首行写入规范表头。
// 指向其他合约的表头保留原位。
func repairHeader(body []Entry, name string, rep *Report) []Entry {
	if i := firstNonBlank(body); i < 0 || !isExactHeader(body[i], name) {
		rep.HeaderInserted = true
	}
	out := make([]Entry, 0, len(body))
	for _, e := range body {
		if e.Kind == KindHeader && (len(e.Fields) == 0 || strings.EqualFold(e.Fields[0], name)) {
			if !isExactHeader(e, name) {
				rep.HeadersReplaced++
			}
			continue
		}
		out = append(out, e)
	}
	return out
}

func isExactHeader(e Entry, name string) bool {
	return e.Kind == KindHeader && len(e.Fields) == 1 && e.Fields[0] == name
}

func firstNonBlank(es []Entry) int {
	for i, e := range es {
		if e.Kind != KindBlank {
			return i
		}
	}
	return -1
}

var (
	reBareInt   = regexp.MustCompile(`^-?\d+$`)
	reLooseCode = regexp.MustCompile(`^f\s*:\s*(-?\d+)$`)
)

// repairSuffix（仅 financial）：[t]/[tref]/[t*] 的末字段为裸整数时补 f: 前缀；
// 截断的 f / f: / f:- 补全为未定义值 f:-1。
func repairSuffix(body []Entry, rep *Report) {
	for i := range body {
		e := &body[i]
		switch e.Kind {
		case KindField, KindArray, KindStruct:
		default:
			continue
		}
		if len(e.Fields) == 0 {
			continue
		}
		last := &e.Fields[len(e.Fields)-1]
		fixed := *last
		switch {
		case reBareInt.MatchString(*last):
			fixed = "f:" + *last
		case *last == "f" || *last == "f:" || *last == "f:-":
			fixed = "f:-1"
		default:
			if m := reLooseCode.FindStringSubmatch(*last); m != nil {
				fixed = "f:" + m[1]
			}
		}
		if fixed != *last {
			*last = fixed
			rep.SuffixRepairs++
		}
	}
}

var (
	reSkipName   = regexp.MustCompile(`^[A-Za-z_$][\w$]*$`)
	reSkipHeader = regexp.MustCompile(`(?i)^[#*\s]*(?:skip(?:ped)?(?:[\s_-]*(?:functions?|list))?|functions?\s+to\s+skip|\[sf\])[\s*]*:?[\s*]*$`)
)

var noneWords = map[string]struct{}{"none": {}, "(none)": {}, "n/a": {}, "-": {}, "none.": {}, "nil": {}}

func isNone(s string) bool {
	_, ok := noneWords[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// skipName 提取标识符形态的函数名（允许尾随 "()" 与 ","/";"）；占位词不视为函数名。
func skipName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ",;")
	s = strings.TrimSuffix(s, "()")
	if isNone(s) || !reSkipName.MatchString(s) {
		return ""
	}
	return s
}

// isSkipHeader: "Skip functions:"、"## Skipped"、"[sf]" 一类段头；标识符本身不算段头。
func isSkipHeader(s string) bool {
	return skipName(s) == "" && reSkipHeader.MatchString(s)
}

// reflowSkips 识别跳过函数并重排。
// 判定：标识符形态的无标签行，且 (a) 为已知函数名，或 (b) 紧跟另一条跳过相关行，
// 或 (c) token 变体下位于正文末尾的连续标识符行中。空行与其他标签结束跳过段。
// financial：原位输出 [sf], name；token：去掉标记，名称返回供渲染到末尾块。
func reflowSkips(body []Entry, known map[string]struct{}, v contract.Variant, rep *Report) ([]Entry, []string) {
	trailing := make(map[int]bool)
	if v == contract.VariantToken {
		for i := len(body) - 1; i >= 0; i-- {
			e := body[i]
			if e.Kind == KindBlank {
				continue
			}
			if e.Kind != KindText || (skipName(e.Text) == "" && !isSkipHeader(e.Text) && !isNone(e.Text)) {
				break
			}
			trailing[i] = true
		}
	}

	out := make([]Entry, 0, len(body))
	var names []string
	seen := make(map[string]struct{})
	emit := func(name string) {
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		rep.SkipEntries++
		if v == contract.VariantFinancial {
			out = append(out, Entry{Kind: KindSkip, Fields: []string{name}})
			return
		}
		names = append(names, name)
	}

	inSkip := false
	for i, e := range body {
		switch e.Kind {
		case KindBlank:
			inSkip = false
			out = append(out, e)
		case KindSkip:
			var valid []string
			for _, f := range e.Fields {
				if n := skipName(f); n != "" {
					valid = append(valid, n)
				}
			}
			if len(valid) == 0 && len(e.Fields) > 0 {
				inSkip = false
				out = append(out, e)
				continue
			}
			inSkip = true
			for _, n := range valid {
				emit(n)
			}
		case KindText:
			if isSkipHeader(e.Text) {
				inSkip = true
				continue
			}
			if isNone(e.Text) && (inSkip || trailing[i]) {
				continue
			}
			if n := skipName(e.Text); n != "" {
				if _, ok := known[n]; ok || inSkip || trailing[i] {
					inSkip = true
					emit(n)
					continue
				}
			}
			inSkip = false
			out = append(out, e)
		default:
			inSkip = false
			out = append(out, e)
		}
	}
	return out, names
}

var reExponent = regexp.MustCompile(`\b(\d+)(?:\.(\d+))?[eE]\+?(\d+)\b`)

// 超过该指数不展开（uint256 上限约 1.16e77）。
const maxExponent = 77

// expandNumerics（仅 token）：[t]/[ta]/[tref] 字段中的指数记法展开为十进制。
func expandNumerics(body []Entry, rep *Report) {
	for i := range body {
		e := &body[i]
		switch e.Kind {
		case KindField, KindAddress, KindArray:
		default:
			continue
		}
		for j, f := range e.Fields {
			out := reExponent.ReplaceAllStringFunc(f, func(lit string) string {
				m := reExponent.FindStringSubmatch(lit)
				if s, ok := expandExponent(m[1], m[2], m[3]); ok {
					rep.NumericRewrites++
					return s
				}
				return lit
			})
			e.Fields[j] = out
		}
	}
}

// expandExponent: "1","5","6" → "1500000"；小数位多于指数时保留小数点。
func expandExponent(intPart, frac, exp string) (string, bool) {
	n := 0
	for _, c := range exp {
		n = n*10 + int(c-'0')
		if n > maxExponent {
			return "", false
		}
	}
	digits := intPart + frac
	point := len(intPart) + n
	var s string
	if point >= len(digits) {
		s = digits + strings.Repeat("0", point-len(digits))
	} else {
		s = digits[:point] + "." + digits[point:]
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	intEnd := strings.IndexByte(s, '.')
	if intEnd < 0 {
		intEnd = len(s)
	}
	trimmed := strings.TrimLeft(s[:intEnd], "0")
	if trimmed == "" {
		trimmed = "0"
	}
	return trimmed + s[intEnd:], true
}

// escapeBraces：[sct] 字段按括号配对转义。整体已是成对转义时保留，
// 否则每个结构括号加倍；原文本身不配对时不动。
func escapeBraces(body []Entry, rep *Report) {
	for i := range body {
		e := &body[i]
		if e.Kind != KindTupleCall {
			continue
		}
		for j, f := range e.Fields {
			if out := doubleBraces(f); out != f {
				e.Fields[j] = out
				rep.BracesEscaped++
			}
		}
	}
}

func doubleBraces(s string) string {
	if !strings.ContainsAny(s, "{}") {
		return s
	}
	if escapedBalanced(s) || !balanced(s) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		b.WriteByte(c)
		if c == '{' || c == '}' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// escapedBalanced：每段同向括号长度为偶数，且折半后配对。
func escapedBalanced(s string) bool {
	for i := 0; i < len(s); {
		c := s[i]
		if c != '{' && c != '}' {
			i++
			continue
		}
		j := i
		for j < len(s) && s[j] == c {
			j++
		}
		if (j-i)%2 == 1 {
			return false
		}
		i = j
	}
	return balanced(s)
}

// balanced：深度不为负且最终归零。段长均为偶数时与折半后的配对等价。
func balanced(s string) bool {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}
