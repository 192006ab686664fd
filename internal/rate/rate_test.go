package rate

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autosctype/pkg/contract"
)

// UT-RTE-01: 超过 RPM/TPM
func TestGateTryLimit(t *testing.T) {
	now := time.Unix(0, 0)
	clk := func() time.Time { return now }
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 1, TPM: 10, MaxTokensPerReq: 5}}, clk)
	require.True(t, g.Try(Ask{Key: "k", Requests: 1, Tokens: 3}), "首次应通过")
	assert.False(t, g.Try(Ask{Key: "k", Requests: 1, Tokens: 3}), "应因 RPM 拒绝")

	// 一分钟后 RPM 补满
	now = now.Add(time.Minute)
	assert.True(t, g.Try(Ask{Key: "k", Requests: 1, Tokens: 3}))
}

func TestGateRefillAndSnapshot(t *testing.T) {
	now := time.Unix(0, 0)
	clk := func() time.Time { return now }
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 60, TPM: 600}}, clk)
	require.True(t, g.Try(Ask{Key: "k", Requests: 60, Tokens: 600}))
	rpm, tpm := g.(Snapshoter).Snapshot("k")
	assert.Equal(t, 0, rpm)
	assert.Equal(t, 0, tpm)

	now = now.Add(10 * time.Second) // 每秒补 1 请求 / 10 token
	rpm, tpm = g.(Snapshoter).Snapshot("k")
	assert.Equal(t, 10, rpm)
	assert.Equal(t, 100, tpm)

	// 时钟回拨不补充
	now = now.Add(-5 * time.Second)
	rpm, _ = g.(Snapshoter).Snapshot("k")
	assert.Equal(t, 10, rpm)
}

// UT-RTE-02: 取消上下文
func TestGateWaitCancel(t *testing.T) {
	now := time.Unix(0, 0)
	clk := func() time.Time { return now }
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 1}}, clk)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err := g.Wait(ctx, Ask{Key: "k", Requests: 2})
	require.ErrorIs(t, err, context.Canceled)
}

func TestGateWaitValidation(t *testing.T) {
	g := NewGate(map[LimitKey]Limits{"k": {MaxTokensPerReq: 100}}, nil)
	ctx := context.Background()
	assert.ErrorIs(t, g.Wait(ctx, Ask{Key: "k", Requests: 0}), contract.ErrInvalidInput)
	assert.ErrorIs(t, g.Wait(ctx, Ask{Key: "k", Requests: 1, Tokens: 101}), contract.ErrBudgetExceeded)
	assert.NoError(t, g.Wait(ctx, Ask{Key: "k", Requests: 1, Tokens: 100}))
	// 未配置的 key 不限额
	assert.NoError(t, g.Wait(ctx, Ask{Key: "other", Requests: 1000, Tokens: 1 << 20}))
}

func TestGateWaitBlocksUntilRefill(t *testing.T) {
	// RPM 600 => 每 100ms 补 1 个
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 600}}, nil)
	require.True(t, g.Try(Ask{Key: "k", Requests: 600}))
	start := time.Now()
	require.NoError(t, g.Wait(context.Background(), Ask{Key: "k", Requests: 1}))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

// 补充覆盖: DeriveKeyFromProviderOptions
func TestDeriveKeyFromProviderOptions(t *testing.T) {
	t.Setenv("TEST_KEY", "abc")
	raw, _ := json.Marshal(map[string]any{"api_key_env": "TEST_KEY"})
	k, err := DeriveKeyFromProviderOptions("openai", raw)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(k), "openai:"))

	// 同一 key 经 api_key 直接给出时分组一致
	k2, err := DeriveKeyFromProviderOptions("openai", json.RawMessage(`{"api_key":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, k, k2)

	_, err = DeriveKeyFromProviderOptions("deepseek", json.RawMessage(`{}`))
	assert.Error(t, err, "缺少 key 应失败")

	km, err := DeriveKeyFromProviderOptions("mock", nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(km), "mock:"))
}
