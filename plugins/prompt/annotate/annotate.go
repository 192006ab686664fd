package annotate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"

	"autosctype/pkg/contract"
)

// Options 为标注 PromptBuilder 的配置。
// - InlineSystemTemplate / SystemTemplatePath: system 模板（二选一，均为空时使用内置模板）。
// - InlineGuide / GuidePath: 项目级标注指引（可选），以 <guide> 包裹追加到 system 尾部。
// - OmitSource: 只发送结构化摘要，不附带源码。
type Options struct {
	InlineSystemTemplate string `json:"inline_system_template"`
	SystemTemplatePath   string `json:"system_template_path"`
	InlineGuide          string `json:"inline_guide"`
	GuidePath            string `json:"guide_path"`
	OmitSource           bool   `json:"omit_source"`
}

// Builder: 以 Summary 构造 ChatPrompt（system+user）。
// 运行期不做 I/O；模板与指引在构造期加载。
type Builder struct {
	sysT       *template.Template
	guide      string
	omitSource bool
}

// systemData: system 模板可见的数据。
type systemData struct {
	Variants []contract.Variant
	Combined bool
}

// New 创建标注 PromptBuilder。
func New(opts *Options) (*Builder, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	src := defaultSystemTemplate
	if o.InlineSystemTemplate != "" {
		src = o.InlineSystemTemplate
	} else if o.SystemTemplatePath != "" {
		b, err := os.ReadFile(o.SystemTemplatePath)
		if err != nil {
			return nil, fmt.Errorf("system template read: %w", err)
		}
		src = string(b)
	}
	tpl, err := template.New("system").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("system template parse: %w", err)
	}
	guide := o.InlineGuide
	if guide == "" && o.GuidePath != "" {
		b, err := os.ReadFile(o.GuidePath)
		if err != nil {
			return nil, fmt.Errorf("guide read: %w", err)
		}
		guide = string(b)
	}
	return &Builder{sysT: tpl, guide: guide, omitSource: o.OmitSource}, nil
}

// Build: variants 为 1 个时只请求该变体；2 个时请求分节的合并输出。
func (b *Builder) Build(ctx context.Context, s contract.Summary, variants []contract.Variant) (contract.Prompt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := s.Contract.Name
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("prompt: %w: empty contract name", contract.ErrInvalidInput)
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("prompt: %w: no variants", contract.ErrInvalidInput)
	}
	for _, v := range variants {
		if !v.Valid() {
			return nil, fmt.Errorf("prompt: %w: unknown variant %q", contract.ErrInvalidInput, v)
		}
	}
	sys, err := b.system(variants)
	if err != nil {
		return nil, err
	}
	structure, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("prompt: %w: %v", contract.ErrInvalidInput, err)
	}

	var uw bytes.Buffer
	uw.Grow(len(s.Source) + len(structure) + 4096)
	fmt.Fprintf(&uw, "Analyze the Solidity contract '%s' and generate its type annotations.\n\n", name)
	for _, v := range variants {
		writeFormat(&uw, v, name)
	}
	writeHints(&uw, s.Hints)
	uw.WriteString("## The contract structure:\n```json\n")
	uw.Write(structure)
	uw.WriteString("\n```\n\n")
	if !b.omitSource && s.Source != "" {
		uw.WriteString("## Full Solidity Contract:\n")
		if s.SourceTruncated {
			uw.WriteString("(source truncated; annotate the declarations in the structure above)\n")
		}
		uw.WriteString("```solidity\n")
		uw.WriteString(s.Source)
		if !strings.HasSuffix(s.Source, "\n") {
			uw.WriteByte('\n')
		}
		uw.WriteString("```\n\n")
	}
	writeOutputRules(&uw, variants)

	return contract.ChatPrompt([]contract.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: uw.String()},
	}), nil
}

// EstimateOverheadTokens: 与合约无关的固定开销（按合并请求估算，即最大值）。
func (b *Builder) EstimateOverheadTokens(estimate contract.TokenEstimator) int {
	if estimate == nil {
		return 0
	}
	sys, _ := b.system(contract.Variants)
	var fixed bytes.Buffer
	for _, v := range contract.Variants {
		writeFormat(&fixed, v, "")
	}
	writeOutputRules(&fixed, contract.Variants)
	return estimate(sys) + estimate(fixed.String())
}

func (b *Builder) system(variants []contract.Variant) (string, error) {
	var sb bytes.Buffer
	if err := b.sysT.Execute(&sb, systemData{Variants: variants, Combined: len(variants) > 1}); err != nil {
		return "", fmt.Errorf("system render: %w", contract.ErrInvalidInput)
	}
	if b.guide != "" {
		sb.WriteString("\n\n<guide>\n")
		sb.WriteString(b.guide)
		if !strings.HasSuffix(b.guide, "\n") {
			sb.WriteByte('\n')
		}
		sb.WriteString("</guide>")
	}
	return sb.String(), nil
}

func writeFormat(w *bytes.Buffer, v contract.Variant, name string) {
	switch v {
	case contract.VariantToken:
		w.WriteString("## Token type annotation format:\n")
		fmt.Fprintf(w, "- Start with the contract flag: `[*c], %s` followed by a blank line\n", name)
		w.WriteString(tokenFormat)
	case contract.VariantFinancial:
		w.WriteString("## Financial type annotation format:\n")
		w.WriteString(financialFormat)
	}
	w.WriteByte('\n')
}

func writeHints(w *bytes.Buffer, hints []contract.TokenHint) {
	if len(hints) == 0 {
		return
	}
	w.WriteString("## Known tokens referenced in the source:\n")
	for _, h := range hints {
		w.WriteString("- ")
		w.WriteString(h.Symbol)
		w.WriteString(" (decimals ")
		w.WriteString(strconv.Itoa(h.Decimals))
		w.WriteString(") via ")
		w.WriteString(h.Origin)
		w.WriteByte('\n')
	}
	w.WriteByte('\n')
}

func writeOutputRules(w *bytes.Buffer, variants []contract.Variant) {
	w.WriteString("IMPORTANT OUTPUT RULES:\n")
	w.WriteString("- One annotation per line, no markdown, no code fences, no commentary.\n")
	w.WriteString("- Write integers in full; never use exponent notation such as 1e18.\n")
	if len(variants) == 1 {
		fmt.Fprintf(w, "- Output ONLY the %s type annotation lines.\n", variants[0])
		return
	}
	w.WriteString("- Output the annotation files as numbered sections exactly like this:\n\n")
	for i, v := range variants {
		fmt.Fprintf(w, "%d. %s:\n[%s type annotations]\n\n", i+1, v.SectionMarker(), v)
	}
}

const tokenFormat = "- State variables: `[t], global, <variable>, <numerator>, <denominator>, <scale>, 'u'`\n" +
	"- Address variables: `[ta], global, <variable>, <token_address>`\n" +
	"- Arrays: `[tref], <array>, <numerator>, <denominator>, <scale>`\n" +
	"- Struct fields: `[t*], global, <struct>, <field>, <numerator>, <denominator>, <scale>, 'u'`\n" +
	"- Function parameters: `[t], <function>, <param>, <numerator>, <denominator>, <scale>, 'u'`\n" +
	"- Function returns: `[t], <function>, return, <numerator>, <denominator>, <scale>, 'u'`\n" +
	"- External calls: `[sc], <target>, <method>, <numerator>, <denominator>, <scale>`\n" +
	"- Functions that handle no token amounts: list their bare names in a final block after a blank line\n" +
	"Token units: stablecoins (1, -1, 6); ETH/WETH (2, -1, 18); BTC/WBTC (3, -1, 8);\n" +
	"other token amounts or balances (1, -1, 18); non-token values (-1, -1, 18).\n"

const financialFormat = "- State variables: `[t], global, <variable>, f:<code>`\n" +
	"- Function parameters: `[t], <function>, <param>, f:<code>`\n" +
	"- Function returns: `[t], <function>, return, f:<code>`\n" +
	"- Struct fields: `[t*], global, <struct>, <field>, f:<code>`\n" +
	"- External calls: `[sc], <target>, <method>, f:<code>`\n" +
	"- Functions with no financial meaning: `[sf], <function>`\n" +
	"Codes: -1 undefined; 0 raw balance; 1 net balance; 2 accrued balance; 3 final balance;\n" +
	"10 compound fee ratio; 11 transaction fee; 12 simple fee ratio; 20 simple interest ratio;\n" +
	"21 compound interest ratio; 30 reserve; 40 price/exchange rate; 50 debt; 60 dividend/profit/reward.\n"

// 默认 system 模板。
const defaultSystemTemplate = `You are an expert at analyzing Solidity smart contracts and generating precise type annotations.
You will be given a contract's structure, its resolved external references and its source.
{{- if .Combined}}
Generate {{len .Variants}} separate annotation files:
{{- range .Variants}}
- the {{.}} type file
{{- end}}
{{- else}}
Generate the {{index .Variants 0}} type annotation file.
{{- end}}
Infer units and meanings from names and usage. Follow the line format exactly and output valid annotations only.`

var _ contract.PromptBuilder = (*Builder)(nil)
