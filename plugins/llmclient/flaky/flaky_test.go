package flaky

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autosctype/pkg/contract"
	"autosctype/plugins/llmclient/mock"
)

func summary(name string) contract.Summary {
	return contract.Summary{Contract: contract.ContractDescriptor{Name: name}}
}

// TestDefaultScript 首次限流、二次无效文本、之后合成响应
func TestDefaultScript(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Invoke(ctx, summary("A"), nil)
	assert.ErrorIs(t, err, contract.ErrRateLimited)

	raw, err := c.Invoke(ctx, summary("A"), nil)
	require.NoError(t, err)
	assert.Equal(t, "invalid", raw.Text)

	raw, err = c.Invoke(ctx, summary("A"), nil)
	require.NoError(t, err)
	assert.Equal(t, mock.Synthesize(summary("A")), raw.Text)
}

func TestPerContractAndLog(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "flaky.log")
	c, err := New(json.RawMessage(`{"script":["empty"],"per_contract":true,"log_path":` + quote(logPath) + `}`))
	require.NoError(t, err)
	ctx := context.Background()
	for _, name := range []string{"A", "B", "A"} {
		c.Invoke(ctx, summary(name), nil)
	}
	b, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	assert.Equal(t, []string{"A empty", "B empty", "A ok"}, lines)
}

func TestNewInvalidStep(t *testing.T) {
	_, err := New(json.RawMessage(`{"script":["boom"]}`))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
