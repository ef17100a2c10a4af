package pkg

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// PerformanceMetrics 存储性能指标数据
type PerformanceMetrics struct {
	// 系统指标
	StartTime      time.Time
	GoroutineCount int64

	// 应用指标
	RequestCount   int64
	ErrorCount     int64
	ProcessingTime int64 // 纳秒
	ProcessedItems int64

	// 消息处理指标 - 使用原子操作或细粒度锁替代全局锁
	msgStats *concurrentMsgStats

	registry   *prometheus.Registry
	msgCounter *prometheus.CounterVec
	errCounter prometheus.Counter
	duration   *prometheus.HistogramVec
}

// concurrentMsgStats 使用分离锁保护不同类型的消息统计
type concurrentMsgStats struct {
	received  sync.Map // string -> *int64
	processed sync.Map // string -> *int64
	errors    sync.Map // string -> *int64
}

// 全局性能指标实例
var (
	perfMetrics *PerformanceMetrics
	once        sync.Once
)

// GetPerformanceMetrics 返回性能指标实例
func GetPerformanceMetrics() *PerformanceMetrics {
	once.Do(func() {
		perfMetrics = NewPerformanceMetrics()
		// 开始定期收集系统指标
		go perfMetrics.collectSystemMetrics()
	})
	return perfMetrics
}

// NewPerformanceMetrics 创建一个独立的指标实例，使用私有的 prometheus registry
func NewPerformanceMetrics() *PerformanceMetrics {
	pm := &PerformanceMetrics{
		StartTime: time.Now(),
		msgStats:  &concurrentMsgStats{},
		registry:  prometheus.NewRegistry(),
		msgCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkgate",
			Name:      "messages_total",
			Help:      "Messages handled by connectors, by type and stage.",
		}, []string{"type", "stage"}),
		errCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "linkgate",
			Name:      "errors_total",
			Help:      "Errors reported by connectors.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "linkgate",
			Name:      "operation_duration_seconds",
			Help:      "Duration of timed connector operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	pm.registry.MustRegister(pm.msgCounter, pm.errCounter, pm.duration)
	pm.registry.MustRegister(prometheus.NewGoCollector())
	return pm
}

// Registry 返回承载指标的 prometheus registry，用于 /metrics
func (pm *PerformanceMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// collectSystemMetrics 定期收集系统指标
func (pm *PerformanceMetrics) collectSystemMetrics() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		atomic.StoreInt64(&pm.GoroutineCount, int64(runtime.NumGoroutine()))
	}
}

// IncRequestCount 增加请求计数并返回当前值
func (pm *PerformanceMetrics) IncRequestCount() int64 {
	return atomic.AddInt64(&pm.RequestCount, 1)
}

// IncErrorCount 增加错误计数并返回当前值
func (pm *PerformanceMetrics) IncErrorCount() int64 {
	pm.errCounter.Inc()
	return atomic.AddInt64(&pm.ErrorCount, 1)
}

// AddProcessingTime 添加处理时间并返回累计时间
func (pm *PerformanceMetrics) AddProcessingTime(duration time.Duration) int64 {
	return atomic.AddInt64(&pm.ProcessingTime, int64(duration))
}

// IncProcessedItems 增加处理项目数并返回当前值
func (pm *PerformanceMetrics) IncProcessedItems() int64 {
	return atomic.AddInt64(&pm.ProcessedItems, 1)
}

// 从sync.Map中获取计数器，如果不存在则创建
func getOrCreateCounter(m *sync.Map, key string) *int64 {
	if val, ok := m.Load(key); ok {
		return val.(*int64)
	}
	counter := new(int64)
	if actual, loaded := m.LoadOrStore(key, counter); loaded {
		return actual.(*int64)
	}
	return counter
}

// IncMsgReceived 增加特定类型的接收消息计数并返回当前值
func (pm *PerformanceMetrics) IncMsgReceived(msgType string) int64 {
	pm.msgCounter.WithLabelValues(msgType, "received").Inc()
	return atomic.AddInt64(getOrCreateCounter(&pm.msgStats.received, msgType), 1)
}

// IncMsgProcessed 增加特定类型的处理消息计数并返回当前值
func (pm *PerformanceMetrics) IncMsgProcessed(msgType string) int64 {
	pm.msgCounter.WithLabelValues(msgType, "processed").Inc()
	return atomic.AddInt64(getOrCreateCounter(&pm.msgStats.processed, msgType), 1)
}

// IncMsgErrors 增加特定类型的错误消息计数并返回当前值
func (pm *PerformanceMetrics) IncMsgErrors(msgType string) int64 {
	pm.msgCounter.WithLabelValues(msgType, "errors").Inc()
	return atomic.AddInt64(getOrCreateCounter(&pm.msgStats.errors, msgType), 1)
}

// IncMsgStage 增加特定类型、特定阶段的消息计数，只记录到 prometheus
func (pm *PerformanceMetrics) IncMsgStage(msgType, stage string) {
	pm.msgCounter.WithLabelValues(msgType, stage).Inc()
}

// GetMsgCount 获取特定类型的消息计数
func (pm *PerformanceMetrics) GetMsgCount(msgType string, statsType string) int64 {
	var m *sync.Map
	switch statsType {
	case "received":
		m = &pm.msgStats.received
	case "processed":
		m = &pm.msgStats.processed
	case "errors":
		m = &pm.msgStats.errors
	default:
		return 0
	}

	if val, ok := m.Load(msgType); ok {
		return atomic.LoadInt64(val.(*int64))
	}
	return 0
}

// GetMetricsReport 获取性能指标报告
func (pm *PerformanceMetrics) GetMetricsReport() string {
	uptime := time.Since(pm.StartTime)
	var avgProcessingTime float64
	if atomic.LoadInt64(&pm.ProcessedItems) > 0 {
		avgProcessingTime = float64(atomic.LoadInt64(&pm.ProcessingTime)) / float64(atomic.LoadInt64(&pm.ProcessedItems)) / float64(time.Millisecond)
	}

	report := fmt.Sprintf(
		"系统运行时间: %s\n"+
			"协程数: %d\n"+
			"请求计数: %d\n"+
			"错误计数: %d\n"+
			"平均处理时间: %.2f ms\n\n",
		uptime,
		atomic.LoadInt64(&pm.GoroutineCount),
		atomic.LoadInt64(&pm.RequestCount),
		atomic.LoadInt64(&pm.ErrorCount),
		avgProcessingTime,
	)

	report += "消息统计:\n"
	msgTypes := make([]string, 0)
	pm.msgStats.received.Range(func(key, _ interface{}) bool {
		msgTypes = append(msgTypes, key.(string))
		return true
	})
	sort.Strings(msgTypes)
	for _, msgType := range msgTypes {
		report += fmt.Sprintf("- %s: 接收=%d, 处理=%d, 错误=%d\n",
			msgType,
			pm.GetMsgCount(msgType, "received"),
			pm.GetMsgCount(msgType, "processed"),
			pm.GetMsgCount(msgType, "errors"))
	}
	return report
}

// LogMetrics 将性能指标写入日志
func (pm *PerformanceMetrics) LogMetrics(logger *zap.Logger) {
	logger.Info("性能指标统计",
		zap.Duration("uptime", time.Since(pm.StartTime)),
		zap.Int64("goroutines", atomic.LoadInt64(&pm.GoroutineCount)),
		zap.Int64("requests", atomic.LoadInt64(&pm.RequestCount)),
		zap.Int64("errors", atomic.LoadInt64(&pm.ErrorCount)),
	)
}

// Timer 简单的计时器结构体
type Timer struct {
	start   time.Time
	metrics *PerformanceMetrics
	name    string
}

// NewTimer 创建一个新的计时器
func (pm *PerformanceMetrics) NewTimer(name string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: pm,
		name:    name,
	}
}

// Stop 停止计时器并记录时间
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.start)

	t.metrics.AddProcessingTime(duration)
	t.metrics.IncProcessedItems()
	t.metrics.duration.WithLabelValues(t.name).Observe(duration.Seconds())

	return duration
}

// StopAndLog 停止计时器并记录到日志
func (t *Timer) StopAndLog(logger *zap.Logger) time.Duration {
	duration := t.Stop()
	logger.Debug("操作计时",
		zap.String("operation", t.name),
		zap.Duration("duration", duration),
	)
	return duration
}
