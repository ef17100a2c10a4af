package connector

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"linkgate/internal/cache"
	"linkgate/internal/model"
	"linkgate/internal/pkg"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Option 配置 Base
type Option func(*baseOptions)

type baseOptions struct {
	name          string
	clock         clock.Clock
	metrics       *pkg.PerformanceMetrics
	notifications bool
	cacheOpts     []cache.Option
}

// WithName 设置连接器名称，默认为驱动的类型名
func WithName(name string) Option {
	return func(o *baseOptions) { o.name = name }
}

// WithClock 设置轮询使用的时钟
func WithClock(c clock.Clock) Option {
	return func(o *baseOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithMetrics 设置指标实例，默认使用全局实例
func WithMetrics(pm *pkg.PerformanceMetrics) Option {
	return func(o *baseOptions) {
		if pm != nil {
			o.metrics = pm
		}
	}
}

// WithNotifications 设置初始的通知开关，开启时连接后不安装轮询任务
func WithNotifications(enabled bool) Option {
	return func(o *baseOptions) { o.notifications = enabled }
}

// WithCacheKeys 限制按通道缓存的数量，<= 0 不限制
func WithCacheKeys(n int) Option {
	return func(o *baseOptions) {
		o.cacheOpts = append(o.cacheOpts, cache.WithMaxKeys(n))
	}
}

// OptionsFromConfig 从连接器配置得到 Base 的选项
func OptionsFromConfig(cfg pkg.ConnectorConfig) []Option {
	return []Option{WithName(cfg.Type), WithCacheKeys(cfg.CacheKeys)}
}

// Base 实现连接器的公共部分：生命周期、适配器选择、缓存、轮询、注册
// 具体连接器嵌入 *Base 并把自身作为 Driver 传入
type Base[O, I, CO, CI any] struct {
	id       string
	name     string
	driver   Driver[O, I]
	adapters []ProtocolAdapter[O, I, CO, CI]
	selector AdapterSelector[O, I, CO, CI]
	cache    *cache.Strategy
	clock    clock.Clock
	metrics  *pkg.PerformanceMetrics

	// 串行化 Connect / Disconnect
	lifecycle sync.Mutex

	mu     sync.RWMutex
	state  State
	params *Parameter
	logger *zap.Logger
	runCtx context.Context

	callback atomic.Pointer[ReceptionCallback[CO]]

	pollingEnabled atomic.Bool
	notifications  atomic.Bool
	pollMu         sync.Mutex
	pollCancel     context.CancelFunc
	pollDone       chan struct{}

	// pollCallbacks 轮询协程正在执行 Received 的次数
	pollCallbacks atomic.Int32
}

// NewBase 创建连接器公共部分，selector 为 nil 时使用 DefaultSelector
// 没有适配器或存在空适配器时返回 ErrConfiguration
func NewBase[O, I, CO, CI any](driver Driver[O, I], selector AdapterSelector[O, I, CO, CI], adapters []ProtocolAdapter[O, I, CO, CI], opts ...Option) (*Base[O, I, CO, CI], error) {
	if isNilAdapter(driver) {
		return nil, fmt.Errorf("%w: 驱动为空", ErrConfiguration)
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("%w: 至少需要一个适配器", ErrConfiguration)
	}
	for i, a := range adapters {
		if isNilAdapter(a) {
			return nil, fmt.Errorf("%w: 第 %d 个适配器为空", ErrConfiguration, i)
		}
	}

	o := baseOptions{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.name == "" {
		o.name = reflect.TypeOf(driver).String()
	}
	if o.metrics == nil {
		o.metrics = pkg.GetPerformanceMetrics()
	}
	if selector == nil {
		selector = &DefaultSelector[O, I, CO, CI]{}
	}

	b := &Base[O, I, CO, CI]{
		id:       uuid.NewString(),
		name:     o.name,
		driver:   driver,
		adapters: append([]ProtocolAdapter[O, I, CO, CI](nil), adapters...),
		selector: selector,
		cache:    cache.New(cache.None, o.cacheOpts...),
		clock:    o.clock,
		metrics:  o.metrics,
		logger:   zap.NewNop(),
		runCtx:   context.Background(),
	}
	b.pollingEnabled.Store(true)
	b.notifications.Store(o.notifications)
	b.selector.Init(b)
	return b, nil
}

// AdapterCount 实现 AdapterProvider
func (b *Base[O, I, CO, CI]) AdapterCount() int { return len(b.adapters) }

// Adapter 实现 AdapterProvider
func (b *Base[O, I, CO, CI]) Adapter(index int) ProtocolAdapter[O, I, CO, CI] {
	return b.adapters[index]
}

// Selector 返回适配器选择器
func (b *Base[O, I, CO, CI]) Selector() AdapterSelector[O, I, CO, CI] { return b.selector }

// Cache 返回缓存策略
func (b *Base[O, I, CO, CI]) Cache() *cache.Strategy { return b.cache }

func (b *Base[O, I, CO, CI]) ID() string   { return b.id }
func (b *Base[O, I, CO, CI]) Name() string { return b.name }

func (b *Base[O, I, CO, CI]) ProtocolOutputType() reflect.Type  { return reflect.TypeOf((*O)(nil)).Elem() }
func (b *Base[O, I, CO, CI]) ProtocolInputType() reflect.Type   { return reflect.TypeOf((*I)(nil)).Elem() }
func (b *Base[O, I, CO, CI]) ConnectorOutputType() reflect.Type { return reflect.TypeOf((*CO)(nil)).Elem() }
func (b *Base[O, I, CO, CI]) ConnectorInputType() reflect.Type  { return reflect.TypeOf((*CI)(nil)).Elem() }

func (b *Base[O, I, CO, CI]) SupportedEncryption() string {
	if e, ok := b.driver.(Encrypted); ok {
		return e.SupportedEncryption()
	}
	return ""
}

func (b *Base[O, I, CO, CI]) EnabledEncryption() string {
	if e, ok := b.driver.(Encrypted); ok {
		return e.EnabledEncryption()
	}
	return ""
}

func (b *Base[O, I, CO, CI]) ConnectorState() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Parameter 返回最近一次 Connect 的参数
func (b *Base[O, I, CO, CI]) Parameter() *Parameter {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.params
}

// Logger 返回连接器的日志，连接前为 no-op
func (b *Base[O, I, CO, CI]) Logger() *zap.Logger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.logger
}

// ConfigureModelAccess 为所有适配器设置同一个模型访问，并接收模型的通知开关
func (b *Base[O, I, CO, CI]) ConfigureModelAccess(access model.Access) {
	for _, a := range b.adapters {
		a.SetModelAccess(access)
	}
	if access != nil {
		access.SetNotificationListener(b)
	}
}

func (b *Base[O, I, CO, CI]) initializeModelAccess() error {
	var err error
	for _, a := range b.adapters {
		err = multierr.Append(err, a.InitializeModelAccess())
	}
	return err
}

// Connect 保存参数、应用缓存模式、建立连接、初始化模型访问，全部成功后登记到注册表
func (b *Base[O, I, CO, CI]) Connect(ctx context.Context, params *Parameter) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if b.ConnectorState() == Connected {
		return newError("connect", b.name, ErrAlreadyConnected)
	}
	if params == nil {
		params = NewParameterBuilder("", 0).Build()
	}
	logger := pkg.LoggerFromContext(ctx).With(zap.String("connector", b.name), zap.String("id", b.id))

	b.mu.Lock()
	b.params = params
	b.logger = logger
	b.runCtx = context.WithoutCancel(ctx)
	b.mu.Unlock()
	b.cache.SetMode(params.CacheMode())

	timer := b.metrics.NewTimer("connect")
	if err := b.driver.ConnectImpl(ctx, params); err != nil {
		b.metrics.IncErrorCount()
		logger.Error("连接失败", zap.Error(err))
		return newError("connect", b.name, err)
	}
	if err := b.initializeModelAccess(); err != nil {
		logger.Error("初始化模型访问失败", zap.Error(err))
		if derr := b.driver.DisconnectImpl(ctx); derr != nil {
			err = multierr.Append(err, derr)
		}
		b.metrics.IncErrorCount()
		return newError("connect", b.name, err)
	}

	b.mu.Lock()
	b.state = Connected
	b.mu.Unlock()
	RegisterConnector(b)

	if ws, ok := b.driver.(WorkerScoped); ok {
		ws.Workers().Start()
	}
	b.installPollTask()
	timer.StopAndLog(logger)
	logger.Info("连接器已连接", zap.String("url", params.URL()), zap.Bool("polling", b.IsPolling()))
	return nil
}

// Disconnect 先从注册表移除，再断开连接，最后停止轮询
// 未连接时调用不会报错
func (b *Base[O, I, CO, CI]) Disconnect(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	UnregisterConnector(b)

	var err error
	wasConnected := b.ConnectorState() == Connected
	if wasConnected {
		err = b.driver.DisconnectImpl(ctx)
	}
	b.mu.Lock()
	b.state = Disconnected
	b.mu.Unlock()

	ws, scoped := b.driver.(WorkerScoped)
	if scoped {
		ws.Workers().Stop()
	}
	b.uninstallPollTask()
	if scoped {
		err = multierr.Append(err, ws.Workers().Close())
	}

	if wasConnected {
		b.Logger().Info("连接器已断开")
	}
	if err != nil {
		b.metrics.IncErrorCount()
		return newError("disconnect", b.name, err)
	}
	return nil
}

// Dispose 进程退出时调用，仍连接时先断开
func (b *Base[O, I, CO, CI]) Dispose(ctx context.Context) error {
	err := b.Disconnect(ctx)
	b.callback.Store(nil)
	return err
}

// Read 直接从驱动读取一次
func (b *Base[O, I, CO, CI]) Read(ctx context.Context) (O, bool, error) {
	return b.driver.Read(ctx)
}

// SetReceptionCallback 设置回调，nil 表示不通知
func (b *Base[O, I, CO, CI]) SetReceptionCallback(cb ReceptionCallback[CO]) {
	if cb == nil {
		b.callback.Store(nil)
		return
	}
	b.callback.Store(&cb)
}

// Listen 实现 Instance
func (b *Base[O, I, CO, CI]) Listen(f func(data any)) {
	if f == nil {
		b.SetReceptionCallback(nil)
		return
	}
	b.SetReceptionCallback(ReceptionFunc[CO](func(data CO) { f(data) }))
}

// Received 选择适配器并转换数据；有回调、notify 为 true 且缓存认为是新值时通知回调
// 默认通道使用单值缓存，其他通道按通道名分别缓存
func (b *Base[O, I, CO, CI]) Received(ctx context.Context, channel string, data O, notify bool) (CO, error) {
	value, err := b.selector.SelectOutput(channel, data).AdaptOutput(channel, data)
	if err != nil {
		return value, fmt.Errorf("转换通道 %q 的数据失败: %w", channel, err)
	}
	b.metrics.IncMsgReceived(b.name)

	cb := b.callback.Load()
	if cb == nil || !notify {
		return value, nil
	}
	var fresh bool
	if channel == DefaultChannel {
		fresh = b.cache.Check(value)
	} else {
		fresh = b.cache.CheckKey(channel, value)
	}
	if !fresh {
		b.metrics.IncMsgStage(b.name, "suppressed")
		return value, nil
	}
	(*cb).Received(value)
	b.metrics.IncMsgProcessed(b.name)
	return value, nil
}

// Write 选择输入适配器，转换后交给驱动发送
func (b *Base[O, I, CO, CI]) Write(ctx context.Context, data CI) error {
	if b.ConnectorState() != Connected {
		return newError("write", b.name, ErrNotConnected)
	}
	adapter := b.selector.SelectInput(data)
	raw, err := adapter.AdaptInput(data)
	if err != nil {
		return newError("write", b.name, fmt.Errorf("转换写入数据失败: %w", err))
	}
	if err := b.driver.WriteImpl(ctx, raw, adapter.InputChannel()); err != nil {
		b.metrics.IncErrorCount()
		return newError("write", b.name, err)
	}
	b.metrics.IncMsgStage(b.name, "write")
	return nil
}

// WriteValue 实现 Instance
func (b *Base[O, I, CO, CI]) WriteValue(ctx context.Context, data any) error {
	v, ok := data.(CI)
	if !ok {
		return newError("write", b.name, fmt.Errorf("写入数据类型不匹配: 期望 %s, 实际 %T", b.ConnectorInputType(), data))
	}
	return b.Write(ctx, v)
}

// Trigger 立即执行一次读取并通知回调
func (b *Base[O, I, CO, CI]) Trigger(ctx context.Context) error {
	if b.ConnectorState() != Connected {
		return newError("trigger", b.name, ErrNotConnected)
	}
	channel, data, ok, err := b.readNext(ctx)
	if err != nil {
		return newError("trigger", b.name, err)
	}
	if !ok {
		return nil
	}
	if _, err := b.Received(ctx, channel, data, true); err != nil {
		return newError("trigger", b.name, err)
	}
	return nil
}

// TriggerQuery 按查询触发一次读取，驱动不支持查询时等同于 Trigger
func (b *Base[O, I, CO, CI]) TriggerQuery(ctx context.Context, q Query) error {
	if q != nil && q.Delay() > 0 {
		t := b.clock.Timer(q.Delay())
		select {
		case <-ctx.Done():
			t.Stop()
			return newError("trigger", b.name, ctx.Err())
		case <-t.C:
		}
	}
	qr, ok := b.driver.(QueryReader[O])
	if !ok || q == nil {
		return b.Trigger(ctx)
	}
	if b.ConnectorState() != Connected {
		return newError("trigger", b.name, ErrNotConnected)
	}
	data, ok, err := qr.ReadQuery(ctx, q)
	if err != nil {
		return newError("trigger", b.name, err)
	}
	if !ok {
		return nil
	}
	if _, err := b.Received(ctx, DefaultChannel, data, true); err != nil {
		return newError("trigger", b.name, err)
	}
	return nil
}

func (b *Base[O, I, CO, CI]) readNext(ctx context.Context) (string, O, bool, error) {
	if cr, ok := b.driver.(ChannelReader[O]); ok {
		return cr.ReadChannel(ctx)
	}
	data, ok, err := b.driver.Read(ctx)
	return DefaultChannel, data, ok, err
}

// EnablePolling 只控制每次轮询是否执行，不安装或移除轮询任务
func (b *Base[O, I, CO, CI]) EnablePolling(enabled bool) {
	b.pollingEnabled.Store(enabled)
}

// PollingEnabled 返回轮询开关
func (b *Base[O, I, CO, CI]) PollingEnabled() bool {
	return b.pollingEnabled.Load()
}

// EnableNotifications 开启时移除轮询任务，关闭时重新安装
func (b *Base[O, I, CO, CI]) EnableNotifications(enabled bool) {
	b.notifications.Store(enabled)
	if b.ConnectorState() != Connected {
		return
	}
	if enabled {
		b.uninstallPollTask()
	} else {
		b.installPollTask()
	}
}

// NotificationsEnabled 返回通知开关
func (b *Base[O, I, CO, CI]) NotificationsEnabled() bool {
	return b.notifications.Load()
}

// NotificationsChanged 实现 model.NotificationListener
func (b *Base[O, I, CO, CI]) NotificationsChanged(enabled bool) {
	b.EnableNotifications(enabled)
}
