package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix: 环境变量覆盖前缀。
const EnvPrefix = "AUTOSCTYPE_"

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：LLM 不设默认（必须由 JSON/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		Concurrency:  2,
		MaxRetries:   2,
		SourceBudget: 50000,
		CallMode:     "combined",
		Logging:      Logging{Level: "info", Dir: "logs"},
		Components: Components{
			Reader:        "fs",
			Writer:        "fs",
			PromptBuilder: "annotate",
			Decoder:       "sections",
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}
	if over.MaxTokens != 0 {
		out.MaxTokens = over.MaxTokens
	}
	// MaxRetries 的 0 具有语义（禁用重试）；over.MaxRetries < 0 视为未覆盖。
	if over.MaxRetries >= 0 {
		out.MaxRetries = over.MaxRetries
	}
	if over.SourceBudget != 0 {
		out.SourceBudget = over.SourceBudget
	}
	if s := strings.TrimSpace(over.CallMode); s != "" {
		out.CallMode = s
	}
	if over.EmitSummary {
		out.EmitSummary = true
	}
	if s := strings.TrimSpace(over.TablesPath); s != "" {
		out.TablesPath = s
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if s := strings.TrimSpace(over.Logging.Dir); s != "" {
		out.Logging.Dir = s
	}
	if s := strings.TrimSpace(over.Metrics.Path); s != "" {
		out.Metrics.Path = s
	}
	if s := strings.TrimSpace(over.Cache.Path); s != "" {
		out.Cache.Path = s
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}
	if over.Components.PromptBuilder != "" {
		out.Components.PromptBuilder = over.Components.PromptBuilder
	}
	if over.Components.Decoder != "" {
		out.Components.Decoder = over.Components.Decoder
	}

	// Provider（完整替换对应键）
	if len(over.Provider) > 0 {
		merged := make(map[string]Provider, len(out.Provider)+len(over.Provider))
		for k, v := range out.Provider {
			merged[k] = v
		}
		for k, v := range over.Provider {
			merged[k] = v
		}
		out.Provider = merged
	}

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	if len(over.Options.PromptBuilder) > 0 {
		out.Options.PromptBuilder = cloneRaw(over.Options.PromptBuilder)
	}
	if len(over.Options.Decoder) > 0 {
		out.Options.Decoder = cloneRaw(over.Options.Decoder)
	}

	if s := strings.TrimSpace(over.LLM); s != "" {
		out.LLM = s
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 前缀 AUTOSCTYPE_；集合之外的键忽略。
// 支持：INPUTS, CONCURRENCY, MAX_TOKENS, MAX_RETRIES, SOURCE_BUDGET, CALL_MODE, EMIT_SUMMARY,
// TABLES_PATH, LLM, LOG_LEVEL, LOG_DIR, METRICS_PATH, CACHE_PATH, COMPONENTS_*,
// 以及 PROVIDER__<name>__CLIENT / PROVIDER__<name>__LIMITS_{RPM,TPM,MAX_TOKENS_PER_REQ} / PROVIDER__<name>__OPTIONS_JSON
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	// -1 表示未设置，以便 Merge 能区分“未覆盖”和“显式设置为 0”。
	over.MaxRetries = -1
	prov := map[string]Provider{}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		nk, val := strings.TrimPrefix(kv[:eq], EnvPrefix), kv[eq+1:]
		tv := strings.TrimSpace(val)
		switch nk {
		case "INPUTS":
			over.Inputs = splitComma(val)
		case "CONCURRENCY":
			if v, err := atoi(val); err == nil {
				over.Concurrency = v
			}
		case "MAX_TOKENS":
			if v, err := atoi(val); err == nil {
				over.MaxTokens = v
			}
		case "MAX_RETRIES":
			if v, err := atoi(val); err == nil {
				over.MaxRetries = v
			}
		case "SOURCE_BUDGET":
			if v, err := atoi(val); err == nil {
				over.SourceBudget = v
			}
		case "CALL_MODE":
			over.CallMode = tv
		case "EMIT_SUMMARY":
			if b, err := strconv.ParseBool(tv); err == nil {
				over.EmitSummary = b
			}
		case "TABLES_PATH":
			over.TablesPath = tv
		case "LLM":
			over.LLM = tv
		case "LOG_LEVEL":
			over.Logging.Level = tv
		case "LOG_DIR":
			over.Logging.Dir = tv
		case "METRICS_PATH":
			over.Metrics.Path = tv
		case "CACHE_PATH":
			over.Cache.Path = tv
		case "COMPONENTS_READER":
			over.Components.Reader = tv
		case "COMPONENTS_WRITER":
			over.Components.Writer = tv
		case "COMPONENTS_PROMPT_BUILDER":
			over.Components.PromptBuilder = tv
		case "COMPONENTS_DECODER":
			over.Components.Decoder = tv
		default:
			if !strings.HasPrefix(nk, "PROVIDER__") {
				continue
			}
			parts := strings.Split(nk, "__")
			if len(parts) < 3 {
				continue
			}
			name := strings.TrimSpace(parts[1])
			p := prov[name]
			changed := false
			switch strings.Join(parts[2:], "__") {
			case "CLIENT":
				if tv != "" {
					p.Client = tv
					changed = true
				}
			case "LIMITS_RPM":
				if v, err := atoi(val); err == nil {
					p.Limits.RPM = v
					changed = true
				}
			case "LIMITS_TPM":
				if v, err := atoi(val); err == nil {
					p.Limits.TPM = v
					changed = true
				}
			case "LIMITS_MAX_TOKENS_PER_REQ":
				if v, err := atoi(val); err == nil {
					p.Limits.MaxTokensPerReq = v
					changed = true
				}
			case "OPTIONS_JSON":
				// 空值视为未设置，避免清空现有配置
				if tv != "" {
					if !json.Valid([]byte(tv)) {
						return over, errors.New("config: " + EnvPrefix + nk + " is not valid JSON")
					}
					p.Options = json.RawMessage(tv)
					changed = true
				}
			}
			// 仅在发生有效变更时记录该 provider；避免空值覆盖 config.json
			if changed {
				prov[name] = p
			}
		}
	}
	if len(prov) > 0 {
		over.Provider = prov
	}
	return over, nil
}

// MergeProviderPartial: ENV 只提供部分字段时，与基础 provider 逐字段合并。
func MergeProviderPartial(base, over map[string]Provider) map[string]Provider {
	out := make(map[string]Provider, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, o := range over {
		b := out[k]
		if o.Client != "" {
			b.Client = o.Client
		}
		if len(o.Options) > 0 {
			b.Options = cloneRaw(o.Options)
		}
		if o.Limits.RPM != 0 {
			b.Limits.RPM = o.Limits.RPM
		}
		if o.Limits.TPM != 0 {
			b.Limits.TPM = o.Limits.TPM
		}
		if o.Limits.MaxTokensPerReq != 0 {
			b.Limits.MaxTokensPerReq = o.Limits.MaxTokensPerReq
		}
		out[k] = b
	}
	return out
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) { return strconv.Atoi(strings.TrimSpace(s)) }
