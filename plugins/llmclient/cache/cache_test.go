package cache

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autosctype/pkg/contract"
)

type countingClient struct {
	calls atomic.Int32
	text  string
	err   error
}

func (c *countingClient) Invoke(context.Context, contract.Summary, contract.Prompt) (contract.Raw, error) {
	c.calls.Add(1)
	return contract.Raw{Text: c.text}, c.err
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sub", "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var sum = contract.Summary{Contract: contract.ContractDescriptor{Name: "Vault"}}

func TestHitAfterMiss(t *testing.T) {
	st := openStore(t)
	inner := &countingClient{text: "TOKEN_TYPE_FILE:\n[*c], Vault"}
	c := Wrap(inner, st, "deepseek/deepseek-chat")
	p := contract.ChatPrompt{{Role: "user", Content: "annotate"}}

	r1, err := c.Invoke(context.Background(), sum, p)
	require.NoError(t, err)
	r2, err := c.Invoke(context.Background(), sum, p)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
	assert.EqualValues(t, 1, inner.calls.Load())
	hits, misses := c.Stats()
	assert.EqualValues(t, 1, hits)
	assert.EqualValues(t, 1, misses)
	n, err := st.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNamespaceAndPromptSeparateKeys(t *testing.T) {
	st := openStore(t)
	inner := &countingClient{text: "x"}
	a := Wrap(inner, st, "openai/gpt-4o")
	b := Wrap(inner, st, "gemini/gemini-2.5-flash")
	ctx := context.Background()
	a.Invoke(ctx, sum, contract.TextPrompt("p1"))
	b.Invoke(ctx, sum, contract.TextPrompt("p1"))
	a.Invoke(ctx, sum, contract.TextPrompt("p2"))
	assert.EqualValues(t, 3, inner.calls.Load())

	k1, _ := Key("ns", contract.TextPrompt("p1"))
	k2, _ := Key("ns", contract.TextPrompt("p1"))
	k3, _ := Key("ns2", contract.TextPrompt("p1"))
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestEmptyAndErrorsNotCached(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	empty := &countingClient{text: "  "}
	c := Wrap(empty, st, "mock")
	c.Invoke(ctx, sum, contract.TextPrompt("p"))
	c.Invoke(ctx, sum, contract.TextPrompt("p"))
	assert.EqualValues(t, 2, empty.calls.Load())

	failing := &countingClient{err: contract.ErrRateLimited}
	f := Wrap(failing, st, "mock")
	_, err := f.Invoke(ctx, sum, contract.TextPrompt("q"))
	assert.True(t, errors.Is(err, contract.ErrRateLimited))
	n, _ := st.Len(ctx)
	assert.Equal(t, 0, n)
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	st, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Put(context.Background(), "k", "ns", "Vault", "hello"))
	require.NoError(t, st.Close())

	st2, err := Open(path)
	require.NoError(t, err)
	defer st2.Close()
	text, ok, err := st2.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", text)
	_, ok, err = st2.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenEmptyPath(t *testing.T) {
	_, err := Open(" ")
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestKeyRejectsUnencodable(t *testing.T) {
	_, err := Key("ns", func() {})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}
