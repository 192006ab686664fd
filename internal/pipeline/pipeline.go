package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"autosctype/internal/diag"
	"autosctype/internal/normalizer"
	"autosctype/internal/prompt"
	"autosctype/internal/rate"
	"autosctype/internal/resolver"
	"autosctype/internal/scanner"
	"autosctype/pkg/contract"
)

// - 逐文件、逐合约串行；每个合约的两个变体作为独立任务提交到固定大小的工作池。
// - 边界调用（标注方）受 Gate 控制，按错误分类重试；最终失败按无内容处理，不中断运行。
// - 规范化失败只影响当前变体，回退为最小文档。
// - 仅写出失败与 ctx 取消终止整体运行。

// 调用模式。
const (
	CallCombined = "combined" // 一次请求返回两个分节
	CallSplit    = "split"    // 每个变体独立请求
)

// Components 聚合运行所需的原子组件。
type Components struct {
	Reader        contract.Reader
	Resolver      *resolver.Resolver
	PromptBuilder contract.PromptBuilder
	LLM           contract.LLMClient
	Decoder       contract.Decoder
	Writer        contract.Writer
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	Inputs      []string
	Concurrency int
	// 预算：单次请求最大输入 token 与估算参数；MaxTokens<=0 关闭预算
	MaxTokens     int
	BytesPerToken int
	// MaxRetries: 边界调用最大重试次数（>=0）。0 表示不重试。
	MaxRetries int
	// RetryBackoff: 重试间隔，默认 200ms。
	RetryBackoff time.Duration
	// SourceBudget: 随摘要发送的源码字符上限；<=0 使用默认 50000。
	SourceBudget int
	// CallMode: combined | split，默认 combined。
	CallMode string
	// EmitSummary: 额外写出 <Name>_summary.json。
	EmitSummary bool
	// 限流闸门（可选）：若非空，则在调用 LLM 前调用 Gate.Wait
	Gate    rate.Gate
	GateKey rate.LimitKey
}

// Stats: 一次运行的计数汇总。
type Stats struct {
	Files     int
	Skipped   int
	Contracts int
	// Fallbacks: 回退为最小文档的变体数（无内容或规范化失败）。
	Fallbacks int
	// BoundaryFailures: 重试耗尽仍未获得内容的边界调用数。
	BoundaryFailures int
}

// Run 执行完整流水线：Reader → Scanner → Resolver → Summary → (Gate) → LLM → Decoder → Normalizer → Writer。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Stats, error) {
	var st Stats
	if err := sanity(comp, &set); err != nil {
		return st, fmt.Errorf("sanity: %w", err)
	}
	if logger == nil {
		logger = diag.Nop()
	}
	o := &orchestrator{comp: comp, set: set, log: logger, est: prompt.MakeEstimator(set.BytesPerToken)}
	if set.MaxTokens > 0 {
		eff, overhead := prompt.EffectiveMaxTokens(comp.PromptBuilder, set.BytesPerToken, set.MaxTokens)
		if eff <= 0 {
			return st, fmt.Errorf("%w: effective token budget <= 0 after overhead", contract.ErrBudgetExceeded)
		}
		o.overhead = overhead
	}

	pool := NewPool(set.Concurrency)
	defer pool.Close()
	o.pool = pool

	rtimer := logger.Start("reader", "iterate")
	err := comp.Reader.Iterate(ctx, set.Inputs, func(fid contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			o.fail("reader", "read failed", err, string(fid), "")
			return fmt.Errorf("read %s: %w", fid, err)
		}
		st.Files++
		return o.file(ctx, fid, string(b), &st)
	})
	if err != nil {
		o.fail("reader", "iterate failed", err, "", "")
		return st, fmt.Errorf("reader iterate: %w", err)
	}
	rtimer.Finish("iterate", int64(st.Files))
	diag.IncOp("reader", "finish", "success")
	return st, nil
}

type orchestrator struct {
	comp     Components
	set      Settings
	log      *diag.Logger
	pool     *Pool
	est      contract.TokenEstimator
	overhead int
}

// variantDoc: 单个变体任务的产物。
type variantDoc struct {
	doc      string
	fallback bool
	// noContent: split 模式下该变体的边界调用最终失败
	noContent bool
}

// file 处理单个源文件。结构性缺失（无合约）记录后跳过，返回 nil。
func (o *orchestrator) file(ctx context.Context, fid contract.FileID, src string, st *Stats) error {
	stimer := o.log.StartWith("scanner", "scan", string(fid), "")
	d, err := scanner.Scan(src)
	if errors.Is(err, contract.ErrNoContract) {
		st.Skipped++
		o.log.Warn("scanner", string(diag.CodeStructure), "no contract declaration, skipped", string(fid), "", nil)
		diag.IncOp("scanner", "scan", "skip")
		diag.GetTerminal().FileSkipped(string(fid), "no contract")
		return nil
	}
	if err != nil {
		o.fail("scanner", "scan failed", err, string(fid), "")
		return fmt.Errorf("scan %s: %w", fid, err)
	}
	stimer.FinishKV("scan", int64(len(d.Variables)+len(d.Functions)), map[string]string{
		"functions": strconv.Itoa(len(d.Functions)),
		"structs":   strconv.Itoa(len(d.Structs)),
	})
	diag.IncOp("scanner", "scan", "success")
	st.Contracts++

	rtimer := o.log.StartWith("resolver", "resolve", string(fid), d.Name)
	d.Aliases, d.ExternalCalls = o.comp.Resolver.Resolve(src, d)
	hints := o.comp.Resolver.Hints(src, d)
	rtimer.FinishKV("resolve", int64(d.Aliases.Len()), map[string]string{
		"call_targets": strconv.Itoa(len(d.ExternalCalls.Targets())),
		"hints":        strconv.Itoa(len(hints)),
	})
	diag.IncOp("resolver", "resolve", "success")

	sum := o.summary(fid, src, d, hints)
	term := diag.GetTerminal()
	term.FileStart(string(fid), d.Name, len(contract.Variants))
	fileStart := time.Now()
	ok := false
	defer func() { term.FileFinish(ok, time.Since(fileStart)) }()

	// combined：一次边界调用，两个任务共享只读候选
	var shared contract.Candidates
	if o.set.CallMode == CallCombined {
		var failed bool
		if shared, failed = o.boundary(ctx, sum, contract.Variants); failed {
			st.BoundaryFailures++
		}
	}
	results := make([]*Result[variantDoc], len(contract.Variants))
	for i, v := range contract.Variants {
		results[i] = Submit(ctx, o.pool, func(ctx context.Context) (variantDoc, error) {
			cands, failed := shared, false
			if o.set.CallMode == CallSplit {
				cands, failed = o.boundary(ctx, sum, []contract.Variant{v})
			}
			vd := o.normalize(cands[v], sum, v)
			vd.noContent = failed
			return vd, nil
		})
	}

	docs := make(map[contract.Variant]string, len(contract.Variants))
	for i, v := range contract.Variants {
		vd, err := results[i].Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// 任务异常只影响该变体
			o.log.Warn("pipeline", string(diag.Classify(err)), "variant task failed, minimal document", string(fid), d.Name,
				map[string]string{"variant": string(v), "err": err.Error()})
			vd = variantDoc{doc: normalizer.Minimal(d.Name, v), fallback: true}
		}
		if vd.fallback {
			st.Fallbacks++
		}
		if vd.noContent {
			st.BoundaryFailures++
		}
		docs[v] = vd.doc
		term.VariantProgress(i+1, st.Fallbacks)
	}

	if err := o.write(ctx, sum, docs); err != nil {
		return err
	}
	ok = true
	return nil
}

// summary 组装边界载荷；源码按字符预算截断，并在启用 token 预算时进一步收缩。
func (o *orchestrator) summary(fid contract.FileID, src string, d contract.ContractDescriptor, hints []contract.TokenHint) contract.Summary {
	text, cut := prompt.Truncate(src, o.set.SourceBudget)
	s := contract.Summary{FileID: fid, Contract: d, Source: text, SourceTruncated: cut, Hints: hints}
	if o.set.MaxTokens > 0 {
		if need := prompt.SummaryTokens(o.est, o.overhead, s); need > o.set.MaxTokens {
			bpt := o.set.BytesPerToken
			if bpt <= 0 {
				bpt = 4
			}
			keep := len([]rune(s.Source)) - (need-o.set.MaxTokens)*bpt
			if keep < 0 {
				keep = 0
			}
			s.Source, _ = prompt.Truncate(s.Source, keep)
			if keep == 0 {
				s.Source = ""
			}
			s.SourceTruncated = true
		}
	}
	return s
}

// boundary 执行一次带重试的边界调用；最终失败返回空候选（按无内容处理）与 failed=true。
func (o *orchestrator) boundary(ctx context.Context, sum contract.Summary, variants []contract.Variant) (contract.Candidates, bool) {
	fid, name := string(sum.FileID), sum.Contract.Name
	cands, err := o.invoke(ctx, sum, variants)
	if err == nil {
		return cands, false
	}
	code := diag.Classify(err)
	kv := map[string]string{"variants": joinVariants(variants)}
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		kv["http_status"] = strconv.Itoa(ue.UpstreamStatus())
		if m := strings.TrimSpace(ue.UpstreamMessage()); m != "" {
			if len(m) > 200 {
				m = m[:200]
			}
			kv["upstream_msg"] = m
		}
	}
	o.log.ErrorWithKV("llm_client", string(code), "boundary failed, no content", nil, fid, name, kv)
	diag.IncOp("llm_client", "boundary", "error")
	if code != diag.CodeUnknown {
		diag.IncError("llm_client", string(code))
	}
	return contract.Candidates{}, true
}

func (o *orchestrator) invoke(ctx context.Context, sum contract.Summary, variants []contract.Variant) (contract.Candidates, error) {
	fid, name := string(sum.FileID), sum.Contract.Name
	pbtimer := o.log.StartWith("prompt_builder", "build", fid, name)
	p, err := o.comp.PromptBuilder.Build(ctx, sum, variants)
	if err != nil {
		o.fail("prompt_builder", "build failed", err, fid, name)
		return nil, fmt.Errorf("prompt build: %w", err)
	}
	pbtimer.Finish("build", int64(len(variants)))
	diag.IncOp("prompt_builder", "finish", "success")

	tokens := approxPromptTokens(p, o.set.BytesPerToken)
	attempts := o.set.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleepWithCtx(ctx, o.set.RetryBackoff); err != nil {
				return nil, err
			}
		}
		if o.set.Gate != nil {
			o.log.DebugStart("gate", "ask", fid, name, map[string]string{
				"tokens":  strconv.Itoa(tokens),
				"attempt": strconv.Itoa(attempt + 1),
			})
			if err := o.set.Gate.Wait(ctx, rate.Ask{Key: o.set.GateKey, Requests: 1, Tokens: tokens}); err != nil {
				o.fail("gate", "wait failed", err, fid, name)
				// Gate 错误不重试（取消、输入非法或超出单请求上限）
				return nil, fmt.Errorf("gate: %w", err)
			}
		}

		lltimer := o.log.StartWithKV("llm_client", "invoke", fid, name, map[string]string{
			"tokens":  strconv.Itoa(tokens),
			"attempt": strconv.Itoa(attempt + 1),
		})
		raw, err := o.comp.LLM.Invoke(ctx, sum, p)
		if err != nil {
			lastErr = err
			o.fail("llm_client", "invoke failed", err, fid, name)
			if shouldRetryInvoke(err) {
				continue
			}
			return nil, err
		}
		lltimer.Finish("invoke", int64(len(raw.Text)))
		diag.IncOp("llm_client", "finish", "success")

		dctimer := o.log.StartWith("decoder", "decode", fid, name)
		cands, err := o.comp.Decoder.Decode(ctx, raw, variants)
		if err != nil {
			lastErr = err
			o.fail("decoder", "decode failed", err, fid, name)
			if shouldRetryDecode(err) {
				continue
			}
			return nil, err
		}
		dctimer.Finish("decode", int64(len(cands)))
		diag.IncOp("decoder", "finish", "success")
		return cands, nil
	}
	return nil, fmt.Errorf("retries exhausted: %w", lastErr)
}

// normalize 规范化单个变体；任何失败退化为最小文档。
func (o *orchestrator) normalize(raw string, sum contract.Summary, v contract.Variant) variantDoc {
	fid, name := string(sum.FileID), sum.Contract.Name
	ntimer := o.log.StartWithKV("normalizer", "normalize", fid, name, map[string]string{"variant": string(v)})
	doc, rep, err := normalizer.NormalizeSafe(raw, sum.Contract, v)
	if err != nil {
		o.log.Warn("normalizer", string(diag.Classify(err)), "normalize failed, minimal document", fid, name,
			map[string]string{"variant": string(v), "err": err.Error()})
		diag.IncOp("normalizer", "normalize", "error")
		return variantDoc{doc: doc, fallback: true}
	}
	diag.AddRepairs(string(v), rep.Repairs())
	kv := diag.RepairKV(rep.Repairs())
	kv["variant"] = string(v)
	if rep.Fallback {
		kv["fallback"] = "true"
	}
	if len(rep.Invalid) > 0 {
		kv["invalid_lines"] = strconv.Itoa(len(rep.Invalid))
	}
	ntimer.FinishKV("normalize", int64(strings.Count(doc, "\n")), kv)
	diag.IncOp("normalizer", "normalize", "success")
	return variantDoc{doc: doc, fallback: rep.Fallback}
}

// write 并行写出两个变体工件与可选摘要边车。
func (o *orchestrator) write(ctx context.Context, sum contract.Summary, docs map[contract.Variant]string) error {
	name := sum.Contract.Name
	wtimer := o.log.StartWith("writer", "write", string(sum.FileID), name)
	g, gctx := errgroup.WithContext(ctx)
	n := 0
	for _, v := range contract.Variants {
		id, doc := contract.ArtifactName(name, v), docs[v]
		n++
		g.Go(func() error {
			if err := o.comp.Writer.Write(gctx, id, strings.NewReader(doc)); err != nil {
				return fmt.Errorf("write %s: %w", id, err)
			}
			return nil
		})
	}
	if o.set.EmitSummary {
		n++
		g.Go(func() error {
			b, err := json.MarshalIndent(sum, "", "  ")
			if err != nil {
				return fmt.Errorf("summary encode: %w", err)
			}
			id := contract.ArtifactID(name + "_summary.json")
			if err := o.comp.Writer.Write(gctx, id, bytes.NewReader(append(b, '\n'))); err != nil {
				return fmt.Errorf("write %s: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.fail("writer", "write failed", err, string(sum.FileID), name)
		return err
	}
	wtimer.Finish("write", int64(n))
	diag.IncOp("writer", "finish", "success")
	return nil
}

// fail 记录错误事件与指标。
func (o *orchestrator) fail(comp, msg string, err error, fileID, contractName string) {
	code := diag.Classify(err)
	o.log.ErrorWithKV(comp, string(code), msg, nil, fileID, contractName, map[string]string{"err": err.Error()})
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}

func sanity(c Components, s *Settings) error {
	if c.Reader == nil || c.Resolver == nil || c.PromptBuilder == nil || c.LLM == nil || c.Decoder == nil || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	if len(s.Inputs) == 0 {
		return errors.New("pipeline: empty inputs")
	}
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
	if s.MaxRetries < 0 {
		s.MaxRetries = 0
	}
	if s.RetryBackoff <= 0 {
		s.RetryBackoff = 200 * time.Millisecond
	}
	if s.SourceBudget <= 0 {
		s.SourceBudget = prompt.DefaultSourceBudget
	}
	switch s.CallMode {
	case "":
		s.CallMode = CallCombined
	case CallCombined, CallSplit:
	default:
		return fmt.Errorf("pipeline: %w: call mode %q", contract.ErrInvalidInput, s.CallMode)
	}
	return nil
}

// shouldRetryInvoke: 限流与网络类错误重试；取消、输入非法等不重试。
func shouldRetryInvoke(err error) bool {
	if err == nil {
		return false
	}
	switch diag.Classify(err) {
	case diag.CodeBudget, diag.CodeNetwork:
		return true
	default:
		return false
	}
}

// shouldRetryDecode: 仅对响应无效（协议类）做有限次重试。
func shouldRetryDecode(err error) bool {
	if err == nil {
		return false
	}
	return diag.Classify(err) == diag.CodeProtocol
}

// sleepWithCtx: 可取消的 sleep。
func sleepWithCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// approxPromptTokens: 基于 Prompt 实际文本内容的简易 token 估算（tokens ≈ ceil(bytes / bpt)）。
func approxPromptTokens(p contract.Prompt, bpt int) int {
	est := prompt.MakeEstimator(bpt)
	switch v := p.(type) {
	case contract.TextPrompt:
		return est(string(v))
	case contract.ChatPrompt:
		total := 0
		for _, m := range v {
			total += est(m.Content)
		}
		return total
	}
	return 0
}

func joinVariants(vs []contract.Variant) string {
	ss := make([]string, len(vs))
	for i, v := range vs {
		ss[i] = string(v)
	}
	return strings.Join(ss, ",")
}
