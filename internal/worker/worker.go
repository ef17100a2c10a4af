package worker

import (
	"context"
	"sync/atomic"
)

// ID 工作者标识，进程内唯一
type ID uint64

var nextID atomic.Uint64

// Worker 表示一个并发调用方（一个长期运行的 goroutine、一个请求处理流程等）
// done 关闭即视为该工作者已结束
type Worker struct {
	id   ID
	done <-chan struct{}
}

// New 创建一个工作者，done 关闭后视为已结束；done 为 nil 的工作者永不结束
func New(done <-chan struct{}) *Worker {
	return &Worker{id: ID(nextID.Add(1)), done: done}
}

// ID 返回工作者标识
func (w *Worker) ID() ID {
	return w.id
}

// Alive 判断工作者是否仍在运行
func (w *Worker) Alive() bool {
	if w.done == nil {
		return true
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Done 返回结束通知通道
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

type workerKey struct{}

// With 为 ctx 创建一个新的工作者并存入 context，ctx 结束即工作者结束
func With(ctx context.Context) context.Context {
	return WithWorker(ctx, New(ctx.Done()))
}

// WithWorker 将已有工作者存入 context
func WithWorker(ctx context.Context, w *Worker) context.Context {
	return context.WithValue(ctx, workerKey{}, w)
}

// FromContext 从 context 中提取工作者
func FromContext(ctx context.Context) (*Worker, bool) {
	w, ok := ctx.Value(workerKey{}).(*Worker)
	return w, ok && w != nil
}
