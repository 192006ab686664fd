package registry

import (
	"bytes"
	"encoding/json"

	"autosctype/pkg/contract"
	dsec "autosctype/plugins/decoder/sections"
	flaky "autosctype/plugins/llmclient/flaky"
	gmi "autosctype/plugins/llmclient/gemini"
	mock "autosctype/plugins/llmclient/mock"
	oai "autosctype/plugins/llmclient/openai"
	pan "autosctype/plugins/prompt/annotate"
	rfs "autosctype/plugins/reader/filesystem"
	wfs "autosctype/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewPromptBuilder 工厂签名：接收原样 JSON Options。
type NewPromptBuilder func(raw json.RawMessage) (contract.PromptBuilder, error)

// NewLLMClient 工厂签名：接收原样 JSON Options。
type NewLLMClient func(raw json.RawMessage) (contract.LLMClient, error)

// NewDecoder 工厂签名：接收原样 JSON Options。
type NewDecoder func(raw json.RawMessage) (contract.Decoder, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader（.sol 发现 + glob 过滤）
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts)
	},
}

// PromptBuilder 工厂注册表。
var PromptBuilder = map[string]NewPromptBuilder{
	// annotate: 结构化摘要 + 标注格式说明（Chat）
	"annotate": func(raw json.RawMessage) (contract.PromptBuilder, error) {
		var opts pan.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return pan.New(&opts)
	},
}

// LLMClient 工厂注册表。
var LLMClient = map[string]NewLLMClient{
	"openai":   oai.New,
	"deepseek": oai.NewDeepSeek,
	"gemini":   gmi.New,
	"mock":     mock.New,
	"flaky":    flaky.New,
}

// Decoder 工厂注册表。
var Decoder = map[string]NewDecoder{
	// sections: 按 TOKEN_TYPE_FILE / FINANCIAL_TYPE_FILE 分节切分应答
	"sections": dsec.New,
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（原子替换、内容未变跳过）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

// LLMNames 返回已注册的 LLM 客户端名（固定顺序，用于帮助文本）。
func LLMNames() []string {
	return []string{"deepseek", "openai", "gemini", "mock", "flaky"}
}
