/*
Package pkg 包含了项目的公共类部分。具体地：

config.go -- 统一定义了所有配置的加载项，便于使用

logger.go -- 配置logger项，以及 logger 在 context 中的传递

errChan.go -- 全局错误通道

perf.go -- 性能指标，同时导出为 prometheus 指标

bytesPool.go -- 网络连接器共用的读缓冲池
*/
package pkg
