// Package influx 基于 influxdb-client-go/v2 的连接器。
//
// 写入：JSON 对象（或对象数组）转换为点，tags 中的字段作为 tag，timeField 作为时间戳，通道为
// measurement。写入的 ctx 携带工作者（worker.With）时，点缓存在该工作者独占的会话中，达到
// batchSize 时写入，工作者结束后由周期回收写入剩余的点。
//
// 读取：轮询执行 query 配置的 flux；TriggerQuery 支持 flux 原文（StringQuery）和时间范围查询
// （TimeseriesQuery）。查询结果的记录以 JSON 数组交给适配器。
package influx
