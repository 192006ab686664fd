package scanner

import "regexp"

// StripComments 将 // 与 /* */ 注释替换为空格（保留换行与偏移），字符串字面量原样保留。
// 未闭合的块注释/字符串延伸到文本末尾，不报错。
func StripComments(src string) string {
	b := []byte(src)
	const (
		code = iota
		line
		block
		str
	)
	state := code
	var quote byte
	for i := 0; i < len(b); i++ {
		c := b[i]
		switch state {
		case code:
			switch {
			case c == '/' && i+1 < len(b) && b[i+1] == '/':
				state = line
				b[i], b[i+1] = ' ', ' '
				i++
			case c == '/' && i+1 < len(b) && b[i+1] == '*':
				state = block
				b[i], b[i+1] = ' ', ' '
				i++
			case c == '"' || c == '\'':
				state = str
				quote = c
			}
		case line:
			if c == '\n' {
				state = code
				continue
			}
			b[i] = ' '
		case block:
			if c == '*' && i+1 < len(b) && b[i+1] == '/' {
				b[i], b[i+1] = ' ', ' '
				i++
				state = code
				continue
			}
			if c != '\n' {
				b[i] = ' '
			}
		case str:
			switch c {
			case '\\':
				i++
			case quote:
				state = code
			case '\n':
				// 字符串不跨行：视为未闭合并恢复
				state = code
			}
		}
	}
	return string(b)
}

// MatchBrace 返回与 s[open]（须为 '{'）配对的 '}' 下标；不配对时返回 -1。
func MatchBrace(s string, open int) int { return matchPair(s, open, '{', '}') }

// MatchParen 返回与 s[open]（须为 '('）配对的 ')' 下标；不配对时返回 -1。
func MatchParen(s string, open int) int { return matchPair(s, open, '(', ')') }

func matchPair(s string, open int, o, c byte) int {
	if open < 0 || open >= len(s) || s[open] != o {
		return -1
	}
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case o:
			depth++
		case c:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// 函数体起点：具名 function/modifier 或 constructor/fallback/receive 后紧跟参数表。
var reBodyOwner = regexp.MustCompile(`\b(?:function\s+[A-Za-z_$][\w$]*|modifier\s+[A-Za-z_$][\w$]*|constructor|fallback|receive)\s*\(`)

var reStructOpen = regexp.MustCompile(`\bstruct\s+[A-Za-z_$][\w$]*\s*\{`)

// TopLevel 返回声明视图：函数/修饰器/构造器体与结构体体被替换为空格，其余保持原偏移。
// 用于将状态变量与局部变量、结构体字段区分开。配对失败的块保持原样。
func TopLevel(stripped string) string {
	b := []byte(stripped)
	for _, m := range reBodyOwner.FindAllStringIndex(stripped, -1) {
		if b[m[0]] == ' ' {
			continue // 位于已清空的块内
		}
		open := -1
		for i := m[1]; i < len(stripped); i++ {
			if stripped[i] == ';' {
				break
			}
			if stripped[i] == '{' {
				open = i
				break
			}
		}
		blank(b, stripped, open)
	}
	for _, m := range reStructOpen.FindAllStringIndex(stripped, -1) {
		if b[m[0]] == ' ' {
			continue
		}
		blank(b, stripped, m[1]-1)
	}
	return string(b)
}

func blank(b []byte, s string, open int) {
	if open < 0 {
		return
	}
	end := MatchBrace(s, open)
	if end < 0 {
		return
	}
	for i := open + 1; i < end; i++ {
		if b[i] != '\n' {
			b[i] = ' '
		}
	}
}
