// Package model 定义适配器访问信息模型的接口。
// 模型本身（属性/操作图）不在本仓库范围内，这里只保留连接器需要的初始化、通知开关和释放。
package model
