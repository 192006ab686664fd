package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"autosctype/internal/diag"
)

const comp = "watch"

// RunFunc 对一组输入路径执行一次标注。
type RunFunc func(ctx context.Context, inputs []string) error

// Options: 监听范围与去抖。
type Options struct {
	// Roots: 监听的目录或单个 .sol 文件。
	Roots []string
	// Extensions: 触发重跑的扩展名，默认 [".sol"]。
	Extensions []string
	// ExcludeDirNames: 不监听的目录基名，默认 [".git","node_modules"]。
	ExcludeDirNames []string
	// Debounce: 合并连续事件的静默期，默认 500ms。
	Debounce time.Duration
	// Initial: 启动时先对全部 Roots 运行一次。
	Initial bool
}

// Watcher 监听源码变更并对变更文件重跑标注。
type Watcher struct {
	opts     Options
	run      RunFunc
	log      *diag.Logger
	fsw      *fsnotify.Watcher
	exts     map[string]struct{}
	excludes map[string]struct{}
	// files: 以单文件 root 形式加入的路径（监听其父目录，仅放行这些文件）
	files map[string]struct{}

	mu      sync.Mutex
	pending map[string]struct{}
	runs    int
}

// New 创建 Watcher；Roots 不存在时报错。
func New(opts Options, run RunFunc, logger *diag.Logger) (*Watcher, error) {
	if run == nil {
		return nil, errors.New("watch: run func is nil")
	}
	if len(opts.Roots) == 0 {
		return nil, errors.New("watch: no roots")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".sol"}
	}
	if opts.ExcludeDirNames == nil {
		opts.ExcludeDirNames = []string{".git", "node_modules"}
	}
	w := &Watcher{
		opts:     opts,
		run:      run,
		log:      logger,
		exts:     map[string]struct{}{},
		excludes: map[string]struct{}{},
		files:    map[string]struct{}{},
		pending:  map[string]struct{}{},
	}
	for _, e := range opts.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		w.exts[e] = struct{}{}
	}
	for _, d := range opts.ExcludeDirNames {
		w.excludes[strings.ToLower(d)] = struct{}{}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	w.fsw = fsw
	for _, r := range opts.Roots {
		if err := w.addRoot(r); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) addRoot(root string) error {
	st, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if !st.IsDir() {
		abs, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("watch: %w", err)
		}
		w.files[abs] = struct{}{}
		return w.fsw.Add(filepath.Dir(abs))
	}
	return w.addTree(root)
}

// addTree 递归加入目录监听（fsnotify 不递归）。
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && w.excluded(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) excluded(name string) bool {
	_, ok := w.excludes[strings.ToLower(name)]
	return ok
}

// relevant: 扩展名命中；单文件 root 所在目录中仅放行该文件本身。
func (w *Watcher) relevant(p string) bool {
	if _, ok := w.exts[strings.ToLower(filepath.Ext(p))]; !ok {
		return false
	}
	if len(w.files) == 0 {
		return true
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	if _, ok := w.files[abs]; ok {
		return true
	}
	// 目录 root 下的文件同样放行
	for _, r := range w.opts.Roots {
		if st, err := os.Stat(r); err == nil && st.IsDir() {
			ra, _ := filepath.Abs(r)
			if strings.HasPrefix(abs, ra+string(filepath.Separator)) {
				return true
			}
		}
	}
	return false
}

// Runs 返回已触发的批次数（含初次运行）。
func (w *Watcher) Runs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs
}

// Run 阻塞直至 ctx 结束；返回 nil 表示正常退出。
// 单批运行失败只记录，不中断监听；ctx 取消时返回 nil。
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	tm := w.log.StartWithKV(comp, "watch", "", "", map[string]string{
		"roots":    strings.Join(w.opts.Roots, ","),
		"debounce": w.opts.Debounce.String(),
	})
	if w.opts.Initial {
		w.batch(ctx, w.opts.Roots)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			tm.Finish("watch stopped", int64(w.Runs()))
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.handle(ev) {
				timer.Reset(w.opts.Debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn(comp, string(diag.Classify(err)), "watch error", "", "", map[string]string{"err": err.Error()})
		case <-timer.C:
			if paths := w.drain(); len(paths) > 0 {
				w.batch(ctx, paths)
			}
		}
	}
}

// handle 记录事件；返回是否有待处理文件。
func (w *Watcher) handle(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Create) {
		if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
			if !w.excluded(filepath.Base(ev.Name)) {
				if err := w.addTree(ev.Name); err != nil {
					w.log.Warn(comp, string(diag.CodeIO), "watch add failed", ev.Name, "", map[string]string{"err": err.Error()})
				}
			}
			return false
		}
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return false
	}
	if !w.relevant(ev.Name) {
		return false
	}
	w.mu.Lock()
	w.pending[ev.Name] = struct{}{}
	w.mu.Unlock()
	return true
}

// drain 取出仍存在的待处理文件（按路径排序）。
func (w *Watcher) drain() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.pending))
	for p := range w.pending {
		if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
			out = append(out, p)
		}
	}
	w.pending = map[string]struct{}{}
	sort.Strings(out)
	return out
}

func (w *Watcher) batch(ctx context.Context, inputs []string) {
	w.mu.Lock()
	w.runs++
	n := w.runs
	w.mu.Unlock()
	tm := w.log.StartWithKV(comp, "rerun", "", "", map[string]string{"batch": fmt.Sprint(n), "files": fmt.Sprint(len(inputs))})
	if err := w.run(ctx, inputs); err != nil {
		if ctx.Err() != nil {
			return
		}
		w.log.ErrorWithKV(comp, string(diag.Classify(err)), "rerun failed", tm.Since(), "", "", map[string]string{"err": err.Error()})
		return
	}
	tm.Finish("rerun", int64(len(inputs)))
}
