package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultSweepPeriod 默认的回收周期
const DefaultSweepPeriod = 5 * time.Second

// ErrNoWorker 在 context 中没有工作者时返回
var ErrNoWorker = errors.New("context 中没有工作者")

// Resource 由工作者独占的资源，工作者结束后被释放一次
type Resource interface {
	Dispose() error
}

// Factory 为工作者创建资源
type Factory[M Resource] func(ctx context.Context, w *Worker) (M, error)

type slot[M Resource] struct {
	worker   *Worker
	resource M
}

// Manager 为每个活跃工作者维护一个资源实例，并周期性回收已结束工作者的资源
type Manager[M Resource] struct {
	factory Factory[M]
	period  time.Duration
	clock   clock.Clock
	logger  *zap.Logger

	mu    sync.Mutex
	slots map[ID]slot[M]

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option 配置 Manager
type Option func(*options)

type options struct {
	period time.Duration
	clock  clock.Clock
	logger *zap.Logger
}

// WithPeriod 设置回收周期
func WithPeriod(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.period = d
		}
	}
}

// WithClock 设置时钟，测试中使用 clock.NewMock()
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewManager 创建资源管理器
func NewManager[M Resource](factory Factory[M], opts ...Option) *Manager[M] {
	o := options{period: DefaultSweepPeriod, clock: clock.New(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager[M]{
		factory: factory,
		period:  o.period,
		clock:   o.clock,
		logger:  o.logger,
		slots:   make(map[ID]slot[M]),
	}
}

// Obtain 返回 ctx 中工作者的资源，不存在时创建
func (m *Manager[M]) Obtain(ctx context.Context) (M, error) {
	w, ok := FromContext(ctx)
	if !ok {
		var zero M
		return zero, ErrNoWorker
	}
	return m.ObtainFor(ctx, w)
}

// ObtainFor 返回指定工作者的资源，不存在时创建
// 资源在锁外创建，并发创建时保留先写入的实例，释放多余的实例
func (m *Manager[M]) ObtainFor(ctx context.Context, w *Worker) (M, error) {
	m.mu.Lock()
	s, ok := m.slots[w.ID()]
	m.mu.Unlock()
	if ok {
		return s.resource, nil
	}

	created, err := m.factory(ctx, w)
	if err != nil {
		var zero M
		return zero, err
	}

	m.mu.Lock()
	s, ok = m.slots[w.ID()]
	if !ok {
		m.slots[w.ID()] = slot[M]{worker: w, resource: created}
	}
	m.mu.Unlock()

	if ok {
		if err := created.Dispose(); err != nil {
			m.logger.Warn("释放多余的工作者资源失败", zap.Uint64("worker", uint64(w.ID())), zap.Error(err))
		}
		return s.resource, nil
	}
	return created, nil
}

// Len 返回当前资源数量
func (m *Manager[M]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

// Range 遍历当前资源的快照，f 返回 false 时停止
func (m *Manager[M]) Range(f func(ID, M) bool) {
	m.mu.Lock()
	snapshot := make([]slot[M], 0, len(m.slots))
	for _, s := range m.slots {
		snapshot = append(snapshot, s)
	}
	m.mu.Unlock()

	for _, s := range snapshot {
		if !f(s.worker.ID(), s.resource) {
			return
		}
	}
}

// Sweep 移除已结束工作者的资源并释放，返回释放的数量
// 活跃的工作者不会被回收，所以不会与该工作者正在进行的 Obtain 冲突
func (m *Manager[M]) Sweep() int {
	var dead []slot[M]
	m.mu.Lock()
	for id, s := range m.slots {
		if !s.worker.Alive() {
			dead = append(dead, s)
			delete(m.slots, id)
		}
	}
	m.mu.Unlock()

	for _, s := range dead {
		if err := s.resource.Dispose(); err != nil {
			m.logger.Warn("释放工作者资源失败", zap.Uint64("worker", uint64(s.worker.ID())), zap.Error(err))
		}
	}
	if len(dead) > 0 {
		m.logger.Debug("已回收工作者资源", zap.Int("count", len(dead)))
	}
	return len(dead)
}

// Start 启动周期回收，重复调用无效
func (m *Manager[M]) Start() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	ticker := m.clock.Ticker(m.period)
	go m.run(ctx, ticker, m.done)
}

func (m *Manager[M]) run(ctx context.Context, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.safeSweep()
		}
	}
}

func (m *Manager[M]) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("回收工作者资源时发生 panic", zap.Any("panic", r))
		}
	}()
	m.Sweep()
}

// Stop 停止周期回收并等待回收协程退出，返回后不会再执行回收
func (m *Manager[M]) Stop() {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running 判断周期回收是否在运行
func (m *Manager[M]) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.cancel != nil
}

// Close 停止回收并释放全部资源
func (m *Manager[M]) Close() error {
	m.Stop()

	m.mu.Lock()
	all := m.slots
	m.slots = make(map[ID]slot[M])
	m.mu.Unlock()

	var err error
	for _, s := range all {
		err = multierr.Append(err, s.resource.Dispose())
	}
	return err
}
