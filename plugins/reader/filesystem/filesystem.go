package filesystem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"autosctype/pkg/contract"
)

// Options 为 FileSystem Reader 的可选配置。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// ExcludeDirNames: 递归时跳过的目录基名（不区分大小写）。
	// 未设置时默认 [".git","node_modules"]。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// Extensions: 目录递归时接受的扩展名，默认 [".sol"]。
	// 显式给出的单文件 root 不受此限制。
	Extensions []string `json:"extensions"`
	// Include / Exclude: doublestar 模式，匹配相对于 root 的正斜杠路径。
	// Include 非空时文件须命中其一；Exclude 命中的文件与目录均跳过。
	Include []string `json:"include"`
	Exclude []string `json:"exclude"`
}

// FileSystem 实现基于文件系统与 STDIN 的 Reader。
// root 可以是单文件、目录或 doublestar 模式（如 "contracts/**/*.sol"）。
type FileSystem struct {
	bufSize    int
	excludeDir map[string]struct{}
	exts       map[string]struct{}
	include    []string
	exclude    []string
}

// New 创建 FileSystem Reader；模式非法时返回 ErrInvalidInput。
func New(opts *Options) (*FileSystem, error) {
	const defaultBuf = 64 * 1024
	o := Options{}
	if opts != nil {
		o = *opts
	}
	r := &FileSystem{
		bufSize:    defaultBuf,
		excludeDir: make(map[string]struct{}),
		exts:       make(map[string]struct{}),
	}
	if o.BufSize > 0 {
		r.bufSize = o.BufSize
	}
	if o.ExcludeDirNames == nil {
		o.ExcludeDirNames = []string{".git", "node_modules"}
	}
	for _, name := range o.ExcludeDirNames {
		if name = strings.Trim(name, `/\ `); name != "" {
			r.excludeDir[strings.ToLower(name)] = struct{}{}
		}
	}
	if len(o.Extensions) == 0 {
		o.Extensions = []string{".sol"}
	}
	for _, e := range o.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		r.exts[e] = struct{}{}
	}
	for _, p := range append(append([]string{}, o.Include...), o.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: bad pattern %q", contract.ErrInvalidInput, p)
		}
	}
	r.include = o.Include
	r.exclude = o.Exclude
	return r, nil
}

// Iterate 遍历 roots，按稳定顺序对每个常规文件调用 yield。
// roots 为空或仅包含 "-" 时读取 STDIN。yield 负责关闭 ReadCloser。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		return yield(contract.FileID("stdin"), newBufferedCloser(os.Stdin, r.bufSize))
	}
	for _, s := range roots {
		if s == "-" {
			return errors.New("stdin '-' cannot be mixed with other roots")
		}
	}
	for _, root := range roots {
		if err := r.iterateRoot(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) iterateRoot(ctx context.Context, root string, yield func(contract.FileID, io.ReadCloser) error) error {
	if _, err := os.Lstat(root); err == nil || !hasMeta(root) {
		return r.iterateOne(ctx, root, yield)
	}
	matches, err := doublestar.FilepathGlob(root)
	if err != nil {
		return fmt.Errorf("%w: %v", contract.ErrInvalidInput, err)
	}
	sort.Strings(matches)
	for _, m := range matches {
		if err := r.iterateOne(ctx, m, yield); err != nil {
			return err
		}
	}
	return nil
}

func hasMeta(p string) bool { return strings.ContainsAny(p, "*?[{") }

func (r *FileSystem) iterateOne(ctx context.Context, root string, yield func(contract.FileID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Lstat(root)
	if err != nil {
		return err
	}
	// 根为符号链接：仅跟随到常规文件，目录链接忽略
	if info.Mode()&os.ModeSymlink != 0 {
		t, err := os.Stat(root)
		if err != nil {
			return err
		}
		if !t.Mode().IsRegular() {
			return nil
		}
		return r.emit(root, yield)
	}
	if info.IsDir() {
		return r.walkDir(ctx, root, root, yield)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	return r.emit(root, yield)
}

func (r *FileSystem) walkDir(ctx context.Context, root, dir string, yield func(contract.FileID, io.ReadCloser) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	// 稳定顺序：字典序；先目录后文件
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.IsDir() {
			continue
		}
		if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if r.excluded(r.rel(root, p)) {
			continue
		}
		if err := r.walkDir(ctx, root, p, yield); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if e.Type()&os.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil {
				return err
			}
			if !t.Mode().IsRegular() {
				continue
			}
		} else if !e.Type().IsRegular() {
			continue // 设备、管道等
		}
		if !r.accept(r.rel(root, p)) {
			continue
		}
		if err := r.emit(p, yield); err != nil {
			return err
		}
	}
	return nil
}

// accept 判断目录递归中的文件是否入选（扩展名 + include/exclude）。
func (r *FileSystem) accept(rel string) bool {
	if _, ok := r.exts[strings.ToLower(filepath.Ext(rel))]; !ok {
		return false
	}
	if r.excluded(rel) {
		return false
	}
	if len(r.include) == 0 {
		return true
	}
	return matchAny(r.include, rel)
}

func (r *FileSystem) excluded(rel string) bool { return matchAny(r.exclude, rel) }

func (r *FileSystem) rel(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		rel = p
	}
	return filepath.ToSlash(rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
	}
	return false
}

func (r *FileSystem) emit(p string, yield func(contract.FileID, io.ReadCloser) error) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	brc := newBufferedCloser(f, r.bufSize)
	if err := yield(contract.NormalizeFileID(p), brc); err != nil {
		_ = brc.Close()
		return err
	}
	return nil
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
