package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"autosctype/pkg/contract"
)

var chat = contract.ChatPrompt{{Role: "system", Content: "sys rules"}, {Role: "user", Content: "annotate Vault"}}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	raw, err := json.Marshal(map[string]any{"api_key": "k", "base_url": srv.URL, "model": "gemini-test"})
	require.NoError(t, err)
	c, err := NewClient(raw)
	require.NoError(t, err)
	return c
}

func reply(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":%q}]},"finishReason":"STOP"}]}`, text)
}

func TestInvokeRequestShape(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-test:generateContent"), r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("x-goog-api-key"))
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &body))
		reply(w, "TOKEN_TYPE_FILE:\n[*c], Vault")
	})
	raw, err := c.Invoke(context.Background(), contract.Summary{}, chat)
	require.NoError(t, err)
	assert.Equal(t, "TOKEN_TYPE_FILE:\n[*c], Vault", raw.Text)
	assert.Equal(t, "gemini/gemini-test", c.Model())

	si, _ := json.Marshal(body["systemInstruction"])
	assert.Contains(t, string(si), "sys rules")
	contents, _ := json.Marshal(body["contents"])
	assert.Contains(t, string(contents), "annotate Vault")
	assert.NotContains(t, string(contents), "sys rules")
	gen, _ := json.Marshal(body["generationConfig"])
	assert.Contains(t, string(gen), `"maxOutputTokens":2000`)
}

func TestMissingKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	_, err := New(nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestKeyFromEnv(t *testing.T) {
	t.Setenv("MY_GEMINI", "env-key")
	c, err := New(json.RawMessage(`{"api_key_env":"MY_GEMINI"}`))
	require.NoError(t, err)
	assert.Equal(t, "gemini/gemini-2.5-flash", c.(*Client).Model())
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"429", http.StatusTooManyRequests, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, contract.ErrRateLimited)
		}},
		{"400", http.StatusBadRequest, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, contract.ErrInvalidInput)
		}},
		{"503", http.StatusServiceUnavailable, func(t *testing.T, err error) {
			var ne net.Error
			require.True(t, errors.As(err, &ne), "want net.Error, got %v", err)
			var ue upstreamError
			require.True(t, errors.As(err, &ue))
			assert.Equal(t, 503, ue.UpstreamStatus())
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				fmt.Fprintf(w, `{"error":{"code":%d,"message":"boom","status":"X"}}`, tc.status)
			})
			_, err := c.Invoke(context.Background(), contract.Summary{}, chat)
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestEmptyCandidates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates":[]}`)
	})
	raw, err := c.Invoke(context.Background(), contract.Summary{}, contract.TextPrompt("hi"))
	require.NoError(t, err)
	assert.Equal(t, "", raw.Text)
}

func TestBlockedPrompt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"promptFeedback":{"blockReason":"SAFETY"}}`)
	})
	_, err := c.Invoke(context.Background(), contract.Summary{}, chat)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestBadPrompt(t *testing.T) {
	c := &Client{model: "m"}
	_, err := c.Invoke(context.Background(), contract.Summary{}, 42)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = c.Invoke(context.Background(), contract.Summary{}, contract.ChatPrompt{{Role: "system", Content: "only"}})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestCanceled(t *testing.T) {
	c := &Client{model: "m", generate: func(ctx context.Context, _ string, _ []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		<-ctx.Done()
		return nil, errors.New("transport closed")
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Invoke(ctx, contract.Summary{}, chat)
	assert.ErrorIs(t, err, context.Canceled)
}
