package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"autosctype/pkg/contract"
)

// Options: OpenAI 兼容 chat/completions 客户端配置（OpenAI、DeepSeek 等）。
type Options struct {
	BaseURL        string   `json:"base_url"`        // 例如 https://api.openai.com/v1
	Model          string   `json:"model"`           // 为空则使用预设默认
	APIKeyEnv      string   `json:"api_key_env"`     // 优先从环境变量读取
	APIKey         string   `json:"api_key"`         // 明文传入（不推荐，按需用于测试）
	TimeoutSeconds int      `json:"timeout_seconds"` // client 级超时（秒），默认 120
	Temperature    *float64 `json:"temperature,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty"` // 输出上限，默认 2000
	// 第三方兼容：
	EndpointPath       string            `json:"endpoint_path"`        // 覆盖默认 /chat/completions；可为完整 URL
	DisableDefaultAuth bool              `json:"disable_default_auth"` // 关闭默认 Authorization: Bearer 注入
	ExtraHeaders       map[string]string `json:"extra_headers"`
}

// 预设：按注册名提供默认值，用户选项覆盖之。
var presets = map[string]Options{
	"openai":   {BaseURL: "https://api.openai.com/v1", Model: "gpt-4o", APIKeyEnv: "OPENAI_API_KEY"},
	"deepseek": {BaseURL: "https://api.deepseek.com", Model: "deepseek-chat", APIKeyEnv: "DEEPSEEK_API_KEY"},
}

const (
	defaultTemperature = 0.1
	defaultMaxTokens   = 2000
)

type Client struct {
	name        string
	url         string
	apiKey      string
	temp        float64
	maxTokens   int
	model       string
	extraH      map[string]string
	disableAuth bool
	do          func(*http.Request) (*http.Response, error)
}

// New 以 openai 预设构造客户端。
func New(raw json.RawMessage) (contract.LLMClient, error) { return newClient("openai", raw) }

// NewDeepSeek 以 deepseek 预设构造客户端。
func NewDeepSeek(raw json.RawMessage) (contract.LLMClient, error) { return newClient("deepseek", raw) }

func newClient(preset string, raw json.RawMessage) (contract.LLMClient, error) {
	c, err := NewPreset(preset, raw)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// NewPreset 从预设默认值与原样 JSON 选项构造客户端。
func NewPreset(preset string, raw json.RawMessage) (*Client, error) {
	opts, ok := presets[preset]
	if !ok {
		return nil, fmt.Errorf("openai: %w: unknown preset %q", contract.ErrInvalidInput, preset)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("%s options: %w", preset, err)
		}
	}
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" && !opts.DisableDefaultAuth {
		return nil, fmt.Errorf("%s: %w: missing api key", preset, contract.ErrInvalidInput)
	}
	if opts.TimeoutSeconds <= 0 {
		opts.TimeoutSeconds = 120
	}
	if opts.EndpointPath == "" {
		opts.EndpointPath = "/chat/completions"
	}
	temp := defaultTemperature
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	fullURL := opts.EndpointPath
	if !strings.HasPrefix(fullURL, "http://") && !strings.HasPrefix(fullURL, "https://") {
		fullURL = strings.TrimRight(opts.BaseURL, "/") + "/" + strings.TrimLeft(opts.EndpointPath, "/")
	}
	hc := &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	return &Client{
		name:        preset,
		url:         fullURL,
		apiKey:      key,
		temp:        temp,
		maxTokens:   opts.MaxTokens,
		model:       opts.Model,
		extraH:      opts.ExtraHeaders,
		disableAuth: opts.DisableDefaultAuth,
		do:          hc.Do,
	}, nil
}

// Model 返回实际使用的模型名（用于缓存键与日志）。
func (c *Client) Model() string { return c.name + "/" + c.model }

type oaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaReq struct {
	Model       string      `json:"model"`
	Messages    []oaMessage `json:"messages"`
	Temperature float64     `json:"temperature"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
}

type oaResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// upstreamError 实现 net.Error，将 HTTP 5xx/408 映射为网络类错误，便于分类与重试。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("openai upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

func (c *Client) encodePrompt(p contract.Prompt) ([]byte, error) {
	req := oaReq{Model: c.model, Temperature: c.temp, MaxTokens: c.maxTokens}
	switch v := p.(type) {
	case contract.TextPrompt:
		req.Messages = []oaMessage{{Role: "user", Content: string(v)}}
	case contract.ChatPrompt:
		req.Messages = make([]oaMessage, 0, len(v))
		for _, m := range v {
			req.Messages = append(req.Messages, oaMessage{Role: m.Role, Content: m.Content})
		}
	default:
		return nil, fmt.Errorf("openai: %w: prompt type %T", contract.ErrInvalidInput, p)
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("openai: %w: empty prompt", contract.ErrInvalidInput)
	}
	return json.Marshal(&req)
}

// Invoke: 单次调用，同步返回；只读取 Prompt。
func (c *Client) Invoke(ctx context.Context, _ contract.Summary, p contract.Prompt) (contract.Raw, error) {
	body, err := c.encodePrompt(p)
	if err != nil {
		return contract.Raw{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return contract.Raw{}, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	if !c.disableAuth {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.extraH {
		if k != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return contract.Raw{}, ctx.Err()
			}
		}
		return contract.Raw{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return contract.Raw{}, contract.ErrRateLimited
	}
	if resp.StatusCode/100 != 2 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		msg := strings.TrimSpace(string(slurp))
		// 408/5xx 视为上游网络问题；其余 4xx 视为输入/配置无效
		if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode/100 == 5 {
			return contract.Raw{}, upstreamError{status: resp.StatusCode, msg: msg}
		}
		return contract.Raw{}, fmt.Errorf("%s upstream %d: %s: %w", c.name, resp.StatusCode, msg, contract.ErrInvalidInput)
	}
	var or oaResp
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return contract.Raw{}, fmt.Errorf("decode: %v: %w", err, contract.ErrResponseInvalid)
	}
	if len(or.Choices) == 0 {
		return contract.Raw{}, fmt.Errorf("%s: no choices: %w", c.name, contract.ErrResponseInvalid)
	}
	// 空内容原样返回，由解码器判定为无内容
	return contract.Raw{Text: or.Choices[0].Message.Content}, nil
}

var _ contract.LLMClient = (*Client)(nil)
