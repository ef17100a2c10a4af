package internal

import (
	"context"
	"fmt"
	"sync"

	"linkgate/internal/connector"
	"linkgate/internal/pkg"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Pipeline 按配置创建源连接器（以及可选的下游连接器），把源连接器输出的值记录日志、
// 交给观察者，并转发到下游
type Pipeline struct {
	source       connector.Instance
	sourceParams *connector.Parameter
	sink         connector.Instance
	sinkParams   *connector.Parameter

	logger  *zap.Logger
	metrics *pkg.PerformanceMetrics

	mu        sync.RWMutex
	observers []func(any)
	ctx       context.Context
}

// NewPipeline 根据 context 中的配置创建 Pipeline，连接器此时尚未连接
func NewPipeline(ctx context.Context) (*Pipeline, error) {
	cfg := pkg.ConfigFromContext(ctx)
	logger := pkg.LoggerFromContext(ctx)

	source, params, err := newConnector(pkg.WithLoggerAndModule(ctx, logger, "Connector"), cfg, cfg.Connector)
	if err != nil {
		return nil, fmt.Errorf("创建源连接器失败: %w", err)
	}
	p := &Pipeline{
		source:       source,
		sourceParams: params,
		logger:       logger,
		metrics:      pkg.GetPerformanceMetrics(),
		ctx:          ctx,
	}
	if cfg.Sink != nil {
		sink, sinkParams, err := newConnector(pkg.WithLoggerAndModule(ctx, logger, "Sink"), cfg, *cfg.Sink)
		if err != nil {
			return nil, fmt.Errorf("创建下游连接器失败: %w", err)
		}
		p.sink, p.sinkParams = sink, sinkParams
	}
	source.Listen(p.handle)
	return p, nil
}

// newConnector 用一份只替换了 connector 段的配置创建连接器，描述符工厂只读取该段
func newConnector(ctx context.Context, cfg *pkg.Config, cc pkg.ConnectorConfig) (connector.Instance, *connector.Parameter, error) {
	scoped := *cfg
	scoped.Connector = cc
	c, err := connector.New(pkg.WithConfig(ctx, &scoped))
	if err != nil {
		return nil, nil, err
	}
	params, err := connector.ParameterFromConfig(cc)
	if err != nil {
		return nil, nil, fmt.Errorf("解析连接参数失败: %w", err)
	}
	return c, params, nil
}

// Source 返回源连接器
func (p *Pipeline) Source() connector.Instance { return p.source }

// Sink 返回下游连接器，未配置时为 nil
func (p *Pipeline) Sink() connector.Instance { return p.sink }

// Observe 注册一个观察者，每个转换后的新值都会交给它
func (p *Pipeline) Observe(f func(any)) {
	if f == nil {
		return
	}
	p.mu.Lock()
	p.observers = append(p.observers, f)
	p.mu.Unlock()
}

func (p *Pipeline) handle(value any) {
	p.logger.Debug("收到数据", zap.String("connector", p.source.Name()), zap.Any("value", value))
	p.mu.RLock()
	observers := p.observers
	ctx := p.ctx
	p.mu.RUnlock()
	for _, f := range observers {
		f(value)
	}
	if p.sink == nil || p.sink.ConnectorState() != connector.Connected {
		return
	}
	if err := p.sink.WriteValue(ctx, value); err != nil {
		p.metrics.IncMsgErrors(p.sink.Name())
		p.logger.Error("转发数据失败", zap.String("sink", p.sink.Name()), zap.Error(err))
	}
}

// Start 先连接下游再连接源，源的数据从一开始就有去处
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()

	if p.sink != nil {
		if err := p.sink.Connect(pkg.WithLoggerAndModule(ctx, p.logger, "Sink"), p.sinkParams); err != nil {
			pkg.ReportError(ctx, err)
			return err
		}
	}
	if err := p.source.Connect(pkg.WithLoggerAndModule(ctx, p.logger, "Connector"), p.sourceParams); err != nil {
		pkg.ReportError(ctx, err)
		if p.sink != nil {
			err = multierr.Append(err, p.sink.Disconnect(ctx))
		}
		return err
	}
	p.logger.Info("Pipeline 已启动",
		zap.String("connector", p.source.Name()),
		zap.String("id", p.source.ID()),
		zap.Bool("polling", p.source.IsPolling()))
	return nil
}

// Trigger 让源连接器立即读取一次
func (p *Pipeline) Trigger(ctx context.Context) error {
	return p.source.Trigger(ctx)
}

// Write 写入源连接器
func (p *Pipeline) Write(ctx context.Context, value any) error {
	return p.source.WriteValue(ctx, value)
}

// Stop 先断开源再断开下游，未连接的连接器跳过
func (p *Pipeline) Stop(ctx context.Context) error {
	var err error
	if p.source.ConnectorState() == connector.Connected {
		err = multierr.Append(err, p.source.Disconnect(ctx))
	}
	if p.sink != nil && p.sink.ConnectorState() == connector.Connected {
		err = multierr.Append(err, p.sink.Disconnect(ctx))
	}
	if err != nil {
		p.logger.Error("Pipeline 停止时出错", zap.Error(err))
		return err
	}
	p.logger.Info("Pipeline 已停止")
	return nil
}
