// Package worker 提供工作者标识和按工作者分配的资源管理。
//
// Go 没有可获取的 goroutine 标识，工作者因此是显式的：调用方通过 With(ctx) 把一个
// Worker 放进 context，context 结束即工作者结束。Manager 按工作者标识保存资源，
// 周期回收时释放已结束工作者的资源，每个资源只释放一次。
package worker
