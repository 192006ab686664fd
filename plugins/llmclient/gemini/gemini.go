package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	"autosctype/pkg/contract"
)

// Options: Google Gemini（genai SDK）最小必需。
type Options struct {
	Model     string `json:"model"`       // 默认 gemini-2.5-flash
	APIKeyEnv string `json:"api_key_env"` // 默认 GEMINI_API_KEY
	APIKey    string `json:"api_key"`
	// 覆盖服务地址（代理或测试桩）；为空使用 SDK 默认
	BaseURL     string   `json:"base_url,omitempty"`
	APIVersion  string   `json:"api_version,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"` // 默认 2000
	// 客户端超时（秒）。未设置或 <=0 时采用默认 120 秒。
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

func (o *Options) defaults() {
	if o.Model == "" {
		o.Model = "gemini-2.5-flash"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "GEMINI_API_KEY"
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 2000
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 120
	}
}

type generateFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

type Client struct {
	model     string
	temp      float32
	maxTokens int32
	generate  generateFunc
}

// New 构造 Gemini 客户端；缺少 key 时返回 ErrInvalidInput。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	c, err := NewClient(raw)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// NewClient 同 New，返回具体类型。
func NewClient(raw json.RawMessage) (*Client, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("gemini options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("gemini: %w: missing api key", contract.ErrInvalidInput)
	}
	cfg := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second},
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    opts.BaseURL,
			APIVersion: opts.APIVersion,
		},
	}
	gc, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %v: %w", err, contract.ErrInvalidInput)
	}
	temp := float32(0.1)
	if opts.Temperature != nil {
		temp = float32(*opts.Temperature)
	}
	return &Client{
		model:     opts.Model,
		temp:      temp,
		maxTokens: int32(opts.MaxTokens),
		generate:  gc.Models.GenerateContent,
	}, nil
}

// Model 返回实际使用的模型名（用于缓存键与日志）。
func (c *Client) Model() string { return "gemini/" + c.model }

// upstreamError 实现 net.Error，将 5xx/408 映射为网络类错误，便于分类与重试。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("gemini upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// splitPrompt: system 消息并入 SystemInstruction，其余按角色转为 contents。
func splitPrompt(p contract.Prompt) (*genai.Content, []*genai.Content, error) {
	var sys []string
	var contents []*genai.Content
	switch v := p.(type) {
	case contract.TextPrompt:
		if strings.TrimSpace(string(v)) != "" {
			contents = append(contents, genai.NewContentFromText(string(v), genai.RoleUser))
		}
	case contract.ChatPrompt:
		for _, m := range v {
			switch m.Role {
			case "system":
				sys = append(sys, m.Content)
			case "assistant", "model":
				contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
			default:
				contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
			}
		}
	default:
		return nil, nil, fmt.Errorf("gemini: %w: prompt type %T", contract.ErrInvalidInput, p)
	}
	if len(contents) == 0 {
		return nil, nil, fmt.Errorf("gemini: %w: empty prompt", contract.ErrInvalidInput)
	}
	var si *genai.Content
	if len(sys) > 0 {
		si = genai.NewContentFromText(strings.Join(sys, "\n\n"), genai.RoleUser)
	}
	return si, contents, nil
}

// Invoke: 单次调用，同步返回；只读取 Prompt。
func (c *Client) Invoke(ctx context.Context, _ contract.Summary, p contract.Prompt) (contract.Raw, error) {
	si, contents, err := splitPrompt(p)
	if err != nil {
		return contract.Raw{}, err
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: si,
		Temperature:       genai.Ptr(c.temp),
		MaxOutputTokens:   c.maxTokens,
	}
	resp, err := c.generate(ctx, c.model, contents, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return contract.Raw{}, ctx.Err()
		}
		return contract.Raw{}, mapError(err)
	}
	if resp == nil {
		return contract.Raw{}, fmt.Errorf("gemini: nil response: %w", contract.ErrResponseInvalid)
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return contract.Raw{}, fmt.Errorf("gemini: prompt blocked (%s): %w", fb.BlockReason, contract.ErrInvalidInput)
	}
	// 空内容原样返回，由解码器判定为无内容
	return contract.Raw{Text: resp.Text()}, nil
}

// mapError: 按 APIError 状态码映射为最小错误分类；非 API 错误原样返回。
func mapError(err error) error {
	code, msg := 0, ""
	var ae genai.APIError
	var pae *genai.APIError
	switch {
	case errors.As(err, &ae):
		code, msg = ae.Code, ae.Message
	case errors.As(err, &pae) && pae != nil:
		code, msg = pae.Code, pae.Message
	default:
		return err
	}
	switch {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("gemini: %s: %w", msg, contract.ErrRateLimited)
	case code == http.StatusRequestTimeout || code/100 == 5:
		return upstreamError{status: code, msg: msg}
	case code/100 == 4:
		return fmt.Errorf("gemini upstream %d: %s: %w", code, msg, contract.ErrInvalidInput)
	}
	return err
}

var _ contract.LLMClient = (*Client)(nil)
