package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"autosctype/pkg/contract"
	"autosctype/plugins/llmclient/mock"
)

// Options 定义可选项。
type Options struct {
	// Script: 按调用序号依次使用的故障脚本，耗尽后返回合成响应。
	// 取值：rate_limited | invalid | empty | ok。默认 ["rate_limited","invalid"]。
	Script []string `json:"script,omitempty"`
	// PerContract: 按合约名分别计数（并发多文件时每个合约都经历同一脚本）。
	PerContract bool `json:"per_contract,omitempty"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Client 是带状态的故障注入 LLM 实现，用于验证重试与回退路径。
type Client struct {
	script      []string
	perContract bool
	logPath     string

	mu     sync.Mutex
	counts map[string]int
}

// New 构造 Client。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
	}
	if o.Script == nil {
		o.Script = []string{"rate_limited", "invalid"}
	}
	for _, s := range o.Script {
		switch s {
		case "rate_limited", "invalid", "empty", "ok":
		default:
			return nil, fmt.Errorf("flaky: %w: unknown script step %q", contract.ErrInvalidInput, s)
		}
	}
	return &Client{script: o.Script, perContract: o.PerContract, logPath: o.LogPath, counts: make(map[string]int)}, nil
}

func (c *Client) next(name string) string {
	if !c.perContract {
		name = ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.counts[name]
	c.counts[name] = n + 1
	if n < len(c.script) {
		return c.script[n]
	}
	return "ok"
}

func (c *Client) log(s string) {
	if c.logPath == "" {
		return
	}
	f, err := os.OpenFile(c.logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(s + "\n")
}

// Invoke 实现 contract.LLMClient。
func (c *Client) Invoke(ctx context.Context, s contract.Summary, _ contract.Prompt) (contract.Raw, error) {
	if err := ctx.Err(); err != nil {
		return contract.Raw{}, err
	}
	step := c.next(s.Contract.Name)
	c.log(strings.Join([]string{s.Contract.Name, step}, " "))
	switch step {
	case "rate_limited":
		return contract.Raw{}, contract.ErrRateLimited
	case "invalid":
		return contract.Raw{Text: "invalid"}, nil
	case "empty":
		return contract.Raw{}, nil
	}
	return contract.Raw{Text: mock.Synthesize(s)}, nil
}

var _ contract.LLMClient = (*Client)(nil)
