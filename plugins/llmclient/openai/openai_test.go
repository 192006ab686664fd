package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autosctype/pkg/contract"
)

var chat = contract.ChatPrompt{{Role: "system", Content: "sys"}, {Role: "user", Content: "annotate Vault"}}

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func opts(t *testing.T, m map[string]any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return b
}

func TestInvokeRequestShape(t *testing.T) {
	var got oaReq
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.Equal(t, "v", r.Header.Get("X-Test"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, `{"choices":[{"message":{"content":"TOKEN_TYPE_FILE:\n[*c], Vault"},"finish_reason":"stop"}]}`)
	})
	c, err := NewDeepSeek(opts(t, map[string]any{"base_url": srv.URL, "api_key": "k", "extra_headers": map[string]string{"X-Test": "v"}}))
	require.NoError(t, err)
	raw, err := c.Invoke(context.Background(), contract.Summary{}, chat)
	require.NoError(t, err)
	assert.Equal(t, "TOKEN_TYPE_FILE:\n[*c], Vault", raw.Text)

	assert.Equal(t, "deepseek-chat", got.Model)
	assert.Equal(t, 0.1, got.Temperature)
	assert.Equal(t, 2000, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "annotate Vault", got.Messages[1].Content)
}

func TestPresetsAndOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	c, err := NewPreset("openai", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", c.url)
	assert.Equal(t, "openai/gpt-4o", c.Model())
	assert.Equal(t, "env-key", c.apiKey)

	c, err = NewPreset("openai", opts(t, map[string]any{"model": "gpt-4.1", "temperature": 0, "max_tokens": 512, "endpoint_path": "https://proxy.local/v1/chat"}))
	require.NoError(t, err)
	assert.Equal(t, "https://proxy.local/v1/chat", c.url)
	assert.Equal(t, 0.0, c.temp)
	assert.Equal(t, 512, c.maxTokens)

	t.Setenv("DEEPSEEK_API_KEY", "")
	_, err = NewPreset("deepseek", nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	_, err = NewPreset("anthropic", nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestInvokeStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"429 限流", http.StatusTooManyRequests, func(t *testing.T, err error) { assert.ErrorIs(t, err, contract.ErrRateLimited) }},
		{"400 输入无效", http.StatusBadRequest, func(t *testing.T, err error) { assert.ErrorIs(t, err, contract.ErrInvalidInput) }},
		{"503 上游", http.StatusServiceUnavailable, func(t *testing.T, err error) {
			var ne net.Error
			require.True(t, errors.As(err, &ne))
			var ue contract.UpstreamError
			require.True(t, errors.As(err, &ue))
			assert.Equal(t, 503, ue.UpstreamStatus())
			assert.Equal(t, "overloaded", ue.UpstreamMessage())
		}},
		{"408 超时", http.StatusRequestTimeout, func(t *testing.T, err error) {
			var ne net.Error
			require.True(t, errors.As(err, &ne))
			assert.True(t, ne.Timeout())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, "overloaded")
			})
			c, err := New(opts(t, map[string]any{"base_url": srv.URL, "api_key": "k"}))
			require.NoError(t, err)
			_, err = c.Invoke(context.Background(), contract.Summary{}, chat)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestInvokeResponseInvalid(t *testing.T) {
	for _, body := range []string{`not json`, `{"choices":[]}`} {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, body) })
		c, _ := New(opts(t, map[string]any{"base_url": srv.URL, "api_key": "k"}))
		_, err := c.Invoke(context.Background(), contract.Summary{}, chat)
		assert.ErrorIs(t, err, contract.ErrResponseInvalid, body)
	}
}

// 空内容原样返回
func TestInvokeEmptyContent(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[{"message":{"content":""}}]}`)
	})
	c, _ := New(opts(t, map[string]any{"base_url": srv.URL, "api_key": "k"}))
	raw, err := c.Invoke(context.Background(), contract.Summary{}, chat)
	require.NoError(t, err)
	assert.Empty(t, raw.Text)
}

func TestInvokeBadPromptAndCancel(t *testing.T) {
	c, _ := NewPreset("openai", opts(t, map[string]any{"api_key": "k"}))
	_, err := c.Invoke(context.Background(), contract.Summary{}, 42)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = c.Invoke(context.Background(), contract.Summary{}, contract.ChatPrompt{})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	c.do = func(r *http.Request) (*http.Response, error) {
		<-r.Context().Done()
		return nil, r.Context().Err()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Invoke(ctx, contract.Summary{}, contract.TextPrompt("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDisableDefaultAuth(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/chat/completions"))
		io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	})
	c, err := New(opts(t, map[string]any{"base_url": srv.URL + "/v1/", "disable_default_auth": true, "api_key_env": "NO_SUCH_ENV"}))
	require.NoError(t, err)
	raw, err := c.Invoke(context.Background(), contract.Summary{}, chat)
	require.NoError(t, err)
	assert.Equal(t, "ok", raw.Text)
}
