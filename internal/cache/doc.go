// Package cache 实现连接器的缓存策略：判断一个值相对上一次是否发生变化，未变化的值不再通知回调。
//
// 模式：
//   - None: 所有值都转发
//   - Hash: 哈希值不同才转发
//   - Equals: 结构不相等才转发
//
// 修改模式不会清除已缓存的值，只有 Clear 会。
package cache
