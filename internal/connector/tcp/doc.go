// Package tcp TCP 连接器。
//
// 服务端模式监听 host:port，每个来源的连接按 IP 别名（或远端 IP）成为一个通道；客户端模式连接到
// host:port，断开后按 reconnectDelay 重连。数据流按 delimiter 切分成帧，写入时追加分隔符。
package tcp
