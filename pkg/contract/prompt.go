package contract

import "context"

// Prompt: 不透明载荷，由具体 PromptBuilder/LLMClient 配对解释。
type Prompt any

// Message: 最小会话消息形状（可用于 ChatPrompt）。
type Message struct {
	Role    string
	Content string
}

// TextPrompt: 文本型提示词载荷。
type TextPrompt string

// ChatPrompt: 会话型提示词载荷（最小集合）。
type ChatPrompt []Message

// PromptBuilder: 基于 Summary 与请求的变体集合构造确定性的 Prompt。
// 约束：
//   - 纯计算，不做 I/O；
//   - variants 为 1 个时只请求该变体，为 2 个时请求合并输出（分节）；
//   - 失败快速返回错误。
type PromptBuilder interface {
	Build(ctx context.Context, s Summary, variants []Variant) (Prompt, error)
	// EstimateOverheadTokens: 估算与合约无关的固定提示词开销（system/格式说明）。
	EstimateOverheadTokens(estimate TokenEstimator) int
}

// TokenEstimator: 文本→token 的近似估算函数。
type TokenEstimator func(s string) int
