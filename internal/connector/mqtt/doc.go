// Package mqtt 基于 paho 的 MQTT 连接器。
//
// 订阅 topics 中的主题，每个主题是一个通道，消息到达后直接推送给回调；写入时发布到适配器的
// 输入通道（主题），默认通道使用 writeTopic。连接参数中的 username 身份作为 broker 的用户名密码。
package mqtt
