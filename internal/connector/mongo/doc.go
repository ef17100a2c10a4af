// Package mongo 基于 mongo-driver 的连接器，集合即通道，文档以 extended JSON 读写。
package mongo
