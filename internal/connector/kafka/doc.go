// Package kafka 基于 segmentio/kafka-go 的连接器。
//
// 读取 topics 中的主题（配置 groupID 时以消费组读取并提交位移），每次轮询拉取一条消息，
// 消息所在的主题即通道；写入时发往适配器输入通道对应的主题。
package kafka
