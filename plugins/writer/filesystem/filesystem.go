package filesystem

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"autosctype/pkg/contract"
)

// Options: 标注工件写出选项。
type Options struct {
	// OutputDir: 输出根目录（必需）。
	OutputDir string `json:"output_dir"`
	// Atomic: 同目录临时文件 + rename；nil 时默认 true。
	Atomic *bool `json:"atomic,omitempty"`
	// SkipUnchanged: 目标内容与新内容完全一致时不重写（保持 mtime，避免 watch 回环）；nil 时默认 true。
	SkipUnchanged *bool `json:"skip_unchanged,omitempty"`
	// PermFile/PermDir: 为 0 时使用 0644/0755。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
}

// FS 将每个 ArtifactID 写为 OutputDir 下的同名文件（扁平命名空间）。
type FS struct {
	root          string
	atomic        bool
	skipUnchanged bool
	permF         os.FileMode
	permD         os.FileMode
}

// New 创建文件系统 Writer 实现。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, contract.ErrInvalidInput
	}
	w := &FS{root: opts.OutputDir, atomic: true, skipUnchanged: true, permF: 0o644, permD: 0o755}
	if opts.Atomic != nil {
		w.atomic = *opts.Atomic
	}
	if opts.SkipUnchanged != nil {
		w.skipUnchanged = *opts.SkipUnchanged
	}
	if opts.PermFile != 0 {
		w.permF = opts.PermFile
	}
	if opts.PermDir != 0 {
		w.permD = opts.PermDir
	}
	return w, nil
}

var _ contract.Writer = (*FS)(nil)

// Root 返回输出根目录。
func (w *FS) Root() string { return w.root }

// Write 将 r 的全部字节按原样写入 OutputDir/<id>。
// 标注文档体量小，先整体读入以便比较与原子替换。
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := w.mapPath(id)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(readerWithCtx(ctx, r))
	if err != nil {
		return err
	}
	if w.skipUnchanged {
		if old, err := os.ReadFile(dest); err == nil && bytes.Equal(old, data) {
			return nil
		}
	}
	if err := os.MkdirAll(w.root, w.permD); err != nil {
		return err
	}
	if w.atomic {
		return w.writeAtomic(dest, data)
	}
	return os.WriteFile(dest, data, w.permF)
}

// mapPath: 工件名须为单一文件名；分隔符、绝对路径与 . / .. 均拒绝。
func (w *FS) mapPath(id contract.ArtifactID) (string, error) {
	name := string(id)
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.VolumeName(name) != "" {
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, name), nil
}

func (w *FS) writeAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(w.permF); err != nil {
		return fail(err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// Windows 上 os.Rename 亦以 MOVEFILE_REPLACE_EXISTING 覆盖
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	_ = syncDir(dir)
	return nil
}

// readerWithCtx: 在每次 Read 前检查 ctx 是否已取消。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
