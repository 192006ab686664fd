package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"autosctype/internal/pipeline"
	"autosctype/internal/rate"
	"autosctype/internal/resolver"
	"autosctype/pkg/registry"
	"autosctype/plugins/llmclient/cache"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if len(cfg.Inputs) == 0 {
		return errors.New("config: inputs empty")
	}
	// 输入路径不得为空字符串；"-" 不能与其他根混用
	dash := false
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return errors.New("config: input path cannot be empty")
		}
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(cfg.Inputs) > 1 {
		return errors.New("config: '-' cannot be mixed with other roots")
	}
	if cfg.Concurrency < 1 {
		return errors.New("config: concurrency must be >= 1")
	}
	if cfg.MaxTokens < 0 {
		return errors.New("config: max_tokens must be >= 0")
	}
	if cfg.MaxRetries < 0 {
		return errors.New("config: max_retries must be >= 0")
	}
	if cfg.SourceBudget < 0 {
		return errors.New("config: source_budget must be >= 0")
	}
	switch cfg.CallMode {
	case "", pipeline.CallCombined, pipeline.CallSplit:
	default:
		return fmt.Errorf("config: call_mode %q must be %s or %s", cfg.CallMode, pipeline.CallCombined, pipeline.CallSplit)
	}
	if cfg.LLM == "" {
		return errors.New("config: llm not set")
	}
	prov, ok := cfg.Provider[cfg.LLM]
	if !ok {
		return fmt.Errorf("config: provider %q not found", cfg.LLM)
	}
	if prov.Client == "" {
		return fmt.Errorf("config: provider %q missing client", cfg.LLM)
	}
	if prov.Limits.MaxTokensPerReq > 0 && cfg.MaxTokens > prov.Limits.MaxTokensPerReq {
		return fmt.Errorf("config: max_tokens(%d) exceeds provider.max_tokens_per_req(%d)", cfg.MaxTokens, prov.Limits.MaxTokensPerReq)
	}
	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	d := Defaults().Components
	if name := effName(cfg.Components.Reader, d.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.PromptBuilder, d.PromptBuilder); registry.PromptBuilder[name] == nil {
		return fmt.Errorf("config: prompt_builder %q not registered", name)
	}
	if name := effName(cfg.Components.Decoder, d.Decoder); registry.Decoder[name] == nil {
		return fmt.Errorf("config: decoder %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	if registry.LLMClient[prov.Client] == nil {
		return fmt.Errorf("config: llm client %q not registered", prov.Client)
	}
	return nil
}

// Assembly: 装配结果。Close 释放缓存等外部资源。
type Assembly struct {
	Components pipeline.Components
	Settings   pipeline.Settings
	Gate       rate.Gate
	Key        rate.LimitKey
	// Cache 仅在 cache.path 非空时存在。
	Cache *cache.Store
}

// Close 关闭缓存库；可重复调用。
func (a *Assembly) Close() error {
	if a == nil || a.Cache == nil {
		return nil
	}
	err := a.Cache.Close()
	a.Cache = nil
	return err
}

// modelNamer: 客户端可报告实际模型名时，用作缓存命名空间。
type modelNamer interface{ Model() string }

// Assemble 构造 Components、Settings 与限流 Gate+Key。
// 严格 Options 解析在 registry （工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config) (*Assembly, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	d := Defaults()
	rn := effName(cfg.Components.Reader, d.Components.Reader)
	pn := effName(cfg.Components.PromptBuilder, d.Components.PromptBuilder)
	dn := effName(cfg.Components.Decoder, d.Components.Decoder)
	wn := effName(cfg.Components.Writer, d.Components.Writer)

	tables, err := resolver.LoadTables(cfg.TablesPath)
	if err != nil {
		return nil, fmt.Errorf("config: tables: %w", err)
	}
	res, err := resolver.New(tables)
	if err != nil {
		return nil, fmt.Errorf("config: tables: %w", err)
	}

	r, err := registry.Reader[rn](cfg.Options.Reader)
	if err != nil {
		return nil, fmt.Errorf("config: reader: %w", err)
	}
	pb, err := registry.PromptBuilder[pn](cfg.Options.PromptBuilder)
	if err != nil {
		return nil, fmt.Errorf("config: prompt_builder: %w", err)
	}
	dec, err := registry.Decoder[dn](cfg.Options.Decoder)
	if err != nil {
		return nil, fmt.Errorf("config: decoder: %w", err)
	}
	w, err := registry.Writer[wn](cfg.Options.Writer)
	if err != nil {
		return nil, fmt.Errorf("config: writer: %w", err)
	}

	// LLM 客户端
	prov := cfg.Provider[cfg.LLM]
	llm, err := registry.LLMClient[prov.Client](prov.Options)
	if err != nil {
		return nil, fmt.Errorf("config: llm %s: %w", cfg.LLM, err)
	}

	out := &Assembly{}
	if p := strings.TrimSpace(cfg.Cache.Path); p != "" {
		st, err := cache.Open(p)
		if err != nil {
			return nil, fmt.Errorf("config: cache: %w", err)
		}
		ns := prov.Client
		if mn, ok := llm.(modelNamer); ok {
			ns = mn.Model()
		}
		out.Cache = st
		llm = cache.Wrap(llm, st, ns)
	}

	// 默认使用 API Key 派生分组键（更稳定）；若失败则退化为 provider 名称。
	key, derr := rate.DeriveKeyFromProviderOptions(prov.Client, prov.Options)
	if derr != nil {
		key = rate.LimitKey(cfg.LLM)
	}
	gate := rate.NewGate(map[rate.LimitKey]rate.Limits{
		key: {RPM: prov.Limits.RPM, TPM: prov.Limits.TPM, MaxTokensPerReq: prov.Limits.MaxTokensPerReq},
	}, nil)

	out.Components = pipeline.Components{
		Reader:        r,
		Resolver:      res,
		PromptBuilder: pb,
		LLM:           llm,
		Decoder:       dec,
		Writer:        w,
	}
	out.Settings = pipeline.Settings{
		Inputs:      cloneStrings(cfg.Inputs),
		Concurrency: cfg.Concurrency,
		MaxTokens:   cfg.MaxTokens,
		// BytesPerToken: 由 Prompt 估算器默认 4；此处保持 0 使用默认。
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: 200 * time.Millisecond,
		SourceBudget: cfg.SourceBudget,
		CallMode:     effName(cfg.CallMode, d.CallMode),
		EmitSummary:  cfg.EmitSummary,
		Gate:         gate,
		GateKey:      key,
	}
	out.Gate, out.Key = gate, key
	return out, nil
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
