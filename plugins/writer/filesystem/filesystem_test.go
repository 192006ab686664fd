package filesystem

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autosctype/pkg/contract"
)

func noTmp(t *testing.T, dir string) {
	t.Helper()
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Fatalf("tmp file not cleaned: %s", e.Name())
		}
	}
}

// TestWriteAtomic 原子写入，输出目录按需创建
func TestWriteAtomic(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w, err := New(&Options{OutputDir: dir})
	require.NoError(t, err)
	id := contract.ArtifactName("Vault", contract.VariantToken)
	require.NoError(t, w.Write(context.Background(), id, bytes.NewBufferString("[*c], Vault\n\n")))
	b, err := os.ReadFile(filepath.Join(dir, "Vault_types.txt"))
	require.NoError(t, err)
	assert.Equal(t, "[*c], Vault\n\n", string(b))
	noTmp(t, dir)
}

// 目标已存在时，原子写替换为新内容。
func TestWriteAtomicReplaceExisting(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), "A_ftypes.txt", bytes.NewBufferString("v1")))
	require.NoError(t, w.Write(context.Background(), "A_ftypes.txt", bytes.NewBufferString("v2")))
	b, err := os.ReadFile(filepath.Join(dir, "A_ftypes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(b))
	noTmp(t, dir)
}

// 空文档（financial 最小文档）也写出空文件。
func TestWriteEmptyDocument(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	require.NoError(t, w.Write(context.Background(), "A_ftypes.txt", strings.NewReader("")))
	st, err := os.Stat(filepath.Join(dir, "A_ftypes.txt"))
	require.NoError(t, err)
	assert.Zero(t, st.Size())
}

func TestWriteSkipUnchanged(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "A_types.txt")
	w, _ := New(&Options{OutputDir: dir})
	require.NoError(t, w.Write(context.Background(), "A_types.txt", strings.NewReader("same")))
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(p, old, old))

	require.NoError(t, w.Write(context.Background(), "A_types.txt", strings.NewReader("same")))
	st, _ := os.Stat(p)
	assert.True(t, st.ModTime().Equal(old), "内容相同不应重写")

	off := false
	w2, _ := New(&Options{OutputDir: dir, SkipUnchanged: &off})
	require.NoError(t, w2.Write(context.Background(), "A_types.txt", strings.NewReader("same")))
	st, _ = os.Stat(p)
	assert.False(t, st.ModTime().Equal(old), "关闭比较后应重写")
}

// TestWritePathInvalid 工件名必须是单一文件名
func TestWritePathInvalid(t *testing.T) {
	w, _ := New(&Options{OutputDir: t.TempDir()})
	for _, id := range []string{"", ".", "..", "../bad", "sub/out.txt", `sub\out.txt`, "/abs"} {
		err := w.Write(context.Background(), contract.ArtifactID(id), bytes.NewBufferString("x"))
		assert.ErrorIs(t, err, contract.ErrPathInvalid, "id=%q", id)
	}
}

// TestWriteNonAtomic 非原子写入
func TestWriteNonAtomic(t *testing.T) {
	dir := t.TempDir()
	a := false
	w, _ := New(&Options{OutputDir: dir, Atomic: &a, PermFile: 0o600})
	require.NoError(t, w.Write(context.Background(), "out.txt", bytes.NewBufferString("v")))
	b, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v", string(b))
}

// TestWriteCtxCancel 上下文取消
func TestWriteCtxCancel(t *testing.T) {
	w, _ := New(&Options{OutputDir: t.TempDir()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Write(ctx, "a.txt", strings.NewReader("data")), context.Canceled)
}

// TestNewInvalid 参数缺失
func TestNewInvalid(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = New(&Options{OutputDir: "  "})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

type errReader struct{}

func (errReader) Read(p []byte) (int, error) { return 0, errors.New("boom") }

// TestWriteCopyError 读取失败时不留下任何文件
func TestWriteCopyError(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	require.Error(t, w.Write(context.Background(), "a.txt", errReader{}))
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

// TestReaderWithCtxCancel reader 在读取前取消
func TestReaderWithCtxCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := readerWithCtx(ctx, strings.NewReader("data"))
	cancel()
	if _, err := r.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expect ctx error")
	}
}
