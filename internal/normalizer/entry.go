package normalizer

import (
	"regexp"
	"strings"
)

// Kind: 标注行的记录类型。
type Kind int

const (
	KindBlank     Kind = iota
	KindText           // 无标签的自由文本
	KindTagged         // 未知标签，原样保留
	KindHeader         // [*c]
	KindField          // [t]
	KindAddress        // [ta]
	KindArray          // [tref]
	KindStruct         // [t*]
	KindCall           // [sc]
	KindTupleCall      // [sct]
	KindSkip           // [sf]
)

var tagKinds = map[string]Kind{
	"[*c]":   KindHeader,
	"[t]":    KindField,
	"[ta]":   KindAddress,
	"[tref]": KindArray,
	"[t*]":   KindStruct,
	"[sc]":   KindCall,
	"[sct]":  KindTupleCall,
	"[sf]":   KindSkip,
}

var kindTags = func() map[Kind]string {
	m := make(map[Kind]string, len(tagKinds))
	for t, k := range tagKinds {
		m[k] = t
	}
	return m
}()

// Tag 返回记录类型的规范标签；非标签类型返回空串。
func (k Kind) Tag() string { return kindTags[k] }

// Entry: 一行标注记录。已知标签按字段保存，文本/未知标签保存原文。
type Entry struct {
	Kind   Kind
	Fields []string
	Text   string
}

// String 序列化为规范行：`tag, f1, f2`。
func (e Entry) String() string {
	switch e.Kind {
	case KindBlank:
		return ""
	case KindText, KindTagged:
		return e.Text
	}
	var b strings.Builder
	b.WriteString(e.Kind.Tag())
	for _, f := range e.Fields {
		b.WriteString(", ")
		b.WriteString(f)
	}
	return b.String()
}

var (
	reBullet     = regexp.MustCompile(`^[-*•+]\s+`)
	reNumbered   = regexp.MustCompile(`^\d+[.)]\s+`)
	reUnknownTag = regexp.MustCompile(`^\[[a-z*]{1,5}\]$`)
)

// parse 将候选文本拆为记录序列；代码围栏行被丢弃。
func parse(doc string) []Entry {
	lines := strings.Split(strings.ReplaceAll(doc, "\r\n", "\n"), "\n")
	out := make([]Entry, 0, len(lines))
	for _, l := range lines {
		if e, ok := parseLine(l); ok {
			out = append(out, e)
		}
	}
	return out
}

func parseLine(line string) (Entry, bool) {
	s := strings.TrimSpace(line)
	if strings.HasPrefix(s, "```") {
		return Entry{}, false
	}
	s = unwrapLine(s)
	if strings.HasPrefix(s, "```") {
		return Entry{}, false
	}
	if s == "" {
		return Entry{Kind: KindBlank}, true
	}
	if s[0] == '[' {
		if end := strings.IndexByte(s, ']'); end > 0 {
			tag := canonicalTag(s[:end+1])
			rest := strings.TrimSpace(s[end+1:])
			if k, ok := tagKinds[tag]; ok {
				return Entry{Kind: k, Fields: splitFields(strings.TrimPrefix(rest, ","))}, true
			}
			if reUnknownTag.MatchString(tag) && (rest == "" || rest[0] == ',') {
				return Entry{Kind: KindTagged, Text: s}, true
			}
		}
	}
	return Entry{Kind: KindText, Text: s}, true
}

// unwrapLine 反复剥离列表符号、标签前的序号与包裹反引号，直到不再变化。
func unwrapLine(s string) string {
	for {
		prev := s
		s = reBullet.ReplaceAllString(s, "")
		if loc := reNumbered.FindStringIndex(s); loc != nil && strings.HasPrefix(s[loc[1]:], "[") {
			s = s[loc[1]:]
		}
		if len(s) >= 2 && s[0] == '`' && s[len(s)-1] == '`' {
			s = strings.Trim(s, "`")
		}
		s = strings.TrimSpace(s)
		if s == prev {
			return s
		}
	}
}

// canonicalTag: 小写并去除空白，"[ T* ]" → "[t*]"。
func canonicalTag(t string) string {
	return strings.ToLower(strings.Join(strings.Fields(t), ""))
}

// splitFields 按深度 0 的逗号切分字段；花括号/圆括号/方括号内的逗号不切。
// 多余的右括号不会让深度变负；末尾空字段被丢弃。
func splitFields(rest string) []string {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return nil
	}
	var fields []string
	depth, start := 0, 0
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case '{', '(', '[':
			depth++
		case '}', ')', ']':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				fields = append(fields, strings.TrimSpace(rest[start:i]))
				start = i + 1
			}
		}
	}
	fields = append(fields, strings.TrimSpace(rest[start:]))
	for len(fields) > 0 && fields[len(fields)-1] == "" {
		fields = fields[:len(fields)-1]
	}
	return fields
}
