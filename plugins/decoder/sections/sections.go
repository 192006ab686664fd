package sections

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"

	"autosctype/pkg/contract"
)

// Options: 分节解码选项。
type Options struct {
	// Strict: 合并请求时要求所有分节标记齐全，缺任一即视为响应无效（可重试）。
	Strict bool `json:"strict"`
	// MatchTimeoutMS: 单次正则匹配超时（毫秒），默认 1000。
	MatchTimeoutMS int `json:"match_timeout_ms"`
}

type decoder struct {
	strict bool
	// 每个变体的分节正则：标记之后、下一个含其他标记的行之前
	re map[contract.Variant]*regexp2.Regexp
}

// New 从原样 JSON Options 创建解码器；未知字段报错。
func New(raw json.RawMessage) (contract.Decoder, error) {
	var opts Options
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			return nil, fmt.Errorf("sections options: %w", err)
		}
	}
	timeout := time.Second
	if opts.MatchTimeoutMS > 0 {
		timeout = time.Duration(opts.MatchTimeoutMS) * time.Millisecond
	}
	d := &decoder{strict: opts.Strict, re: make(map[contract.Variant]*regexp2.Regexp, len(contract.Variants))}
	for _, v := range contract.Variants {
		var others []string
		for _, o := range contract.Variants {
			if o != v {
				others = append(others, regexp2.Escape(o.SectionMarker()))
			}
		}
		// 标记可带 markdown 修饰（**、#、编号），冒号可缺省
		expr := regexp2.Escape(v.SectionMarker()) + `[*_` + "`" + `]*:?[*_` + "`" + `]*[ \t]*(.*?)(?=\n[^\n]*(?:` + strings.Join(others, "|") + `)|\z)`
		re := regexp2.MustCompile(expr, regexp2.Singleline)
		re.MatchTimeout = timeout
		d.re[v] = re
	}
	return d, nil
}

// Decode 将 Raw 拆为各变体候选。
//   - Raw 为空白：ErrNoContent；
//   - 单变体：取其分节，无分节时取全文；
//   - 多变体：缺失的分节不出现在结果中（下游按空候选处理）；一个标记都没有时 ErrResponseInvalid。
func (d *decoder) Decode(ctx context.Context, raw contract.Raw, variants []contract.Variant) (contract.Candidates, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := strings.ReplaceAll(raw.Text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("decode sections: %w", contract.ErrNoContent)
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("decode sections: %w: no variants", contract.ErrInvalidInput)
	}
	out := make(contract.Candidates, len(variants))
	for _, v := range variants {
		re, ok := d.re[v]
		if !ok {
			return nil, fmt.Errorf("decode sections: %w: unknown variant %q", contract.ErrInvalidInput, v)
		}
		m, err := re.FindStringMatch(text)
		if err != nil {
			// 匹配超时
			return nil, fmt.Errorf("decode sections: %w: %v", contract.ErrResponseInvalid, err)
		}
		if m != nil {
			out[v] = strings.TrimSpace(m.GroupByNumber(1).String())
		}
	}
	switch {
	case len(variants) == 1 && len(out) == 0:
		out[variants[0]] = strings.TrimSpace(text)
	case len(variants) > 1 && len(out) == 0:
		return nil, fmt.Errorf("decode sections: %w: no section markers", contract.ErrResponseInvalid)
	case d.strict && len(out) < len(variants):
		return nil, fmt.Errorf("decode sections: %w: %d of %d sections", contract.ErrResponseInvalid, len(out), len(variants))
	}
	return out, nil
}
