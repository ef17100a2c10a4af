// Package parser 提供内置连接器使用的协议适配器。
//
// 所有适配器都在字节（协议侧）与任意值（连接器侧）之间转换，按类型注册：
//   - passthrough: 原样传递字节
//   - string: 字节与字符串
//   - csv: 按分隔符拆分，数字转换为 int64/float64，可以按 fields 输出 map
//   - json: JSON 编解码
//   - expr: 使用 expr-lang 表达式转换
//   - frame: 按 section 描述解析定长二进制帧，支持跳过、变量、标签跳转
//
// 适配器可以声明输出通道与输入通道，配合 channel 选择器实现多通道分发。
package parser
