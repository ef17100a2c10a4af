package connector

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// installPollTask 按参数中的间隔安装轮询任务，间隔 <= 0、已安装、未连接或已开启通知时什么都不做
// 安装后立即执行第一次轮询
func (b *Base[O, I, CO, CI]) installPollTask() {
	b.mu.RLock()
	params, runCtx := b.params, b.runCtx
	b.mu.RUnlock()
	if params == nil || params.NotificationInterval() <= 0 {
		return
	}

	b.pollMu.Lock()
	defer b.pollMu.Unlock()
	// 在 pollMu 内检查状态，与 Disconnect、EnableNotifications(true) 的移除互斥
	if b.pollCancel != nil || b.ConnectorState() != Connected || b.notifications.Load() {
		return
	}
	ctx, cancel := context.WithCancel(runCtx)
	done := make(chan struct{})
	ticker := b.clock.Ticker(params.NotificationInterval())
	b.pollCancel, b.pollDone = cancel, done

	go func() {
		defer close(done)
		defer ticker.Stop()
		b.doPolling(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.doPolling(ctx)
			}
		}
	}()
	b.Logger().Debug("轮询任务已安装", zap.Duration("interval", params.NotificationInterval()))
}

// uninstallPollTask 移除轮询任务并等待其退出，未安装时什么都不做
// 轮询协程正在执行回调时不等待：调用者可能就是该回调，本次轮询结束后协程自行退出
func (b *Base[O, I, CO, CI]) uninstallPollTask() {
	b.pollMu.Lock()
	cancel, done := b.pollCancel, b.pollDone
	b.pollCancel, b.pollDone = nil, nil
	b.pollMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if b.pollCallbacks.Load() > 0 {
		b.Logger().Debug("轮询任务已取消，当前轮询结束后退出")
		return
	}
	<-done
	b.Logger().Debug("轮询任务已移除")
}

// IsPolling 是否安装了轮询任务
func (b *Base[O, I, CO, CI]) IsPolling() bool {
	b.pollMu.Lock()
	defer b.pollMu.Unlock()
	return b.pollCancel != nil
}

// doPolling 执行一次轮询，失败只记录日志
func (b *Base[O, I, CO, CI]) doPolling(ctx context.Context) {
	if ctx.Err() != nil || !b.pollingEnabled.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.pollFailed(fmt.Errorf("panic: %v", r))
		}
	}()

	channel, data, ok, err := b.readNext(ctx)
	if err != nil {
		b.pollFailed(err)
		return
	}
	if !ok {
		return
	}
	if _, err := b.receivedByPoll(ctx, channel, data); err != nil {
		b.pollFailed(err)
	}
}

func (b *Base[O, I, CO, CI]) receivedByPoll(ctx context.Context, channel string, data O) (CO, error) {
	b.pollCallbacks.Add(1)
	defer b.pollCallbacks.Add(-1)
	return b.Received(ctx, channel, data, true)
}

func (b *Base[O, I, CO, CI]) pollFailed(err error) {
	b.metrics.IncMsgErrors(b.name)
	b.Logger().Error("轮询时读取或转换失败，数据已丢弃", zap.Error(err))
}
