package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPoolClosed: 向已关闭的池提交任务。
var ErrPoolClosed = errors.New("pipeline: pool closed")

// Pool: 固定大小的工作池。任务之间不共享结果句柄，单个任务失败或 panic 只影响自身句柄。
type Pool struct {
	tasks  chan func()
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewPool 启动 n 个 worker；n<1 视为 1。
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{tasks: make(chan func())}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer p.wg.Done()
			for fn := range p.tasks {
				fn()
			}
		}()
	}
	return p
}

// Close 停止接收新任务并等待在途任务完成；可重复调用。
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Result: 单个任务的独立结果句柄。
type Result[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func (r *Result[T]) settle(v T, err error) {
	r.val, r.err = v, err
	close(r.done)
}

// Wait 阻塞直到任务完成或 ctx 取消。
func (r *Result[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done 在任务完成后关闭。
func (r *Result[T]) Done() <-chan struct{} { return r.done }

// Submit 提交任务；池满时阻塞直到有空闲 worker 或 ctx 取消。
// 入队失败（池已关闭、ctx 取消）时返回的句柄立即携带该错误。
func Submit[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) *Result[T] {
	r := &Result[T]{done: make(chan struct{})}
	var zero T
	task := func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.settle(zero, fmt.Errorf("pipeline: task panic: %v", rec))
			}
		}()
		v, err := fn(ctx)
		r.settle(v, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		r.settle(zero, ErrPoolClosed)
		return r
	}
	select {
	case p.tasks <- task:
	case <-ctx.Done():
		r.settle(zero, ctx.Err())
	}
	return r
}
