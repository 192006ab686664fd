package mock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"autosctype/pkg/contract"
)

// Options: 离线调试配置。
type Options struct {
	// APIKey: 仅用于限流分组，不参与任何网络请求。
	APIKey string `json:"api_key"`
	// ResponseMode:
	//  - "synth"（默认）：按结构化摘要确定性地合成分节响应；
	//  - "fixture": 返回 FixtureDir/<合约名>.txt 的原文，缺失时 ErrNoContent；
	//  - "empty": 返回空文本（边界失败路径）；
	//  - "echo": 回显首条 Prompt 消息。
	ResponseMode string `json:"response_mode,omitempty"`
	FixtureDir   string `json:"fixture_dir,omitempty"`
	// LatencyMS: 每次调用的模拟延迟，期间响应 ctx 取消。
	LatencyMS int `json:"latency_ms,omitempty"`
}

type Client struct {
	mode    string
	dir     string
	latency time.Duration
}

func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("mock options: %w", err)
		}
	}
	mode := strings.TrimSpace(o.ResponseMode)
	switch mode {
	case "":
		mode = "synth"
	case "synth", "empty", "echo":
	case "fixture":
		if o.FixtureDir == "" {
			return nil, fmt.Errorf("mock: %w: fixture mode requires fixture_dir", contract.ErrInvalidInput)
		}
	default:
		return nil, fmt.Errorf("mock: %w: unknown response_mode %q", contract.ErrInvalidInput, mode)
	}
	return &Client{mode: mode, dir: o.FixtureDir, latency: time.Duration(o.LatencyMS) * time.Millisecond}, nil
}

func (c *Client) Invoke(ctx context.Context, s contract.Summary, p contract.Prompt) (contract.Raw, error) {
	if c.latency > 0 {
		t := time.NewTimer(c.latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return contract.Raw{}, ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return contract.Raw{}, err
	}
	switch c.mode {
	case "empty":
		return contract.Raw{}, nil
	case "fixture":
		b, err := os.ReadFile(filepath.Join(c.dir, s.Contract.Name+".txt"))
		if errors.Is(err, os.ErrNotExist) {
			return contract.Raw{}, fmt.Errorf("mock fixture %s: %w", s.Contract.Name, contract.ErrNoContent)
		}
		if err != nil {
			return contract.Raw{}, err
		}
		return contract.Raw{Text: string(b)}, nil
	case "echo":
		switch v := p.(type) {
		case contract.TextPrompt:
			return contract.Raw{Text: string(v)}, nil
		case contract.ChatPrompt:
			if len(v) == 0 {
				return contract.Raw{}, nil
			}
			return contract.Raw{Text: v[len(v)-1].Content}, nil
		}
		return contract.Raw{Text: fmt.Sprintf("mock(unknown prompt type %T)", p)}, nil
	}
	return contract.Raw{Text: Synthesize(s)}, nil
}

var _ contract.LLMClient = (*Client)(nil)
