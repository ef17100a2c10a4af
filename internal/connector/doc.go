/*
Package connector 提供连接器的公共部分：生命周期、适配器选择、缓存过滤、轮询和注册表。

一个连接器由三部分组成：

- Driver：协议相关的连接、断开、读取和写入（file、mqtt、udp、tcp、kafka、influx、mongo 子包）。

- ProtocolAdapter：把协议数据（O/I）翻译成连接器数据（CO/CI），每个适配器有输出通道和输入通道。

- AdapterSelector：读取时按通道、写入时按数据选择适配器。

Base 把它们组合起来：Connect 后按通知间隔轮询 Driver.Read，读到的数据经适配器翻译，再由缓存
策略判断是否与上次相同，只有变化的数据才交给回调。推送型驱动（WithNotifications）自己调用
Received，不安装轮询任务。

连接器类型以 Descriptor 的形式在 init() 中注册：

	func init() {
		connector.Register(connector.Descriptor{
			ID:      "my",
			Name:    "My",
			Factory: NewFromContext,
		})
	}

已连接的连接器实例会出现在 Connectors() 中，断开后移除。
*/
package connector
