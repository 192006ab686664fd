package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。
type Config struct {
	Inputs      []string `json:"inputs"`
	Concurrency int      `json:"concurrency"`
	// MaxTokens: 单次边界请求的输入 token 上限；0 表示不启用预算。
	MaxTokens int `json:"max_tokens"`
	// MaxRetries: 边界调用最大重试次数（>=0）。0 表示不重试。
	MaxRetries int `json:"max_retries"`
	// SourceBudget: 随摘要发送的源码字符上限（尾部截断）。
	SourceBudget int `json:"source_budget"`
	// CallMode: combined（一次请求两个分节）| split（每个变体一次请求）。
	CallMode    string `json:"call_mode"`
	EmitSummary bool   `json:"emit_summary"`
	// TablesPath: 外部解析表（YAML）；为空使用内置表。
	TablesPath string `json:"tables_path"`

	Logging Logging `json:"logging"`
	Metrics Metrics `json:"metrics"`
	Cache   Cache   `json:"cache"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// LLM Provider 选择与定义。
	LLM      string              `json:"llm"`
	Provider map[string]Provider `json:"provider"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 日志级别与轮转文件目录；Dir 为空时写 stderr。
type Logging struct {
	Level string `json:"level"`
	Dir   string `json:"dir"`
}

// Metrics: Path 非空时在运行结束写出 textfile 格式指标。
type Metrics struct {
	Path string `json:"path"`
}

// Cache: Path 非空时启用 sqlite 应答缓存。
type Cache struct {
	Path string `json:"path"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader        string `json:"reader"`
	Writer        string `json:"writer"`
	PromptBuilder string `json:"prompt_builder"`
	Decoder       string `json:"decoder"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader        json.RawMessage `json:"reader"`
	Writer        json.RawMessage `json:"writer"`
	PromptBuilder json.RawMessage `json:"prompt_builder"`
	Decoder       json.RawMessage `json:"decoder"`
}

// Provider: 命名 provider 定义（client 实现 + options + 限额）。
type Provider struct {
	Client  string          `json:"client"`
	Options json.RawMessage `json:"options"`
	Limits  Limits          `json:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM             int `json:"rpm"`
	TPM             int `json:"tpm"`
	MaxTokensPerReq int `json:"max_tokens_per_req"`
}
