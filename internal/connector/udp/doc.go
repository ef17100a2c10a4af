// Package udp UDP 连接器，服务端模式监听地址并按来源区分通道，客户端模式连接到服务器。
package udp
