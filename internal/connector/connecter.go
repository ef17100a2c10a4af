package connector

import (
	"context"
	"reflect"
)

// State 连接状态
type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// DefaultChannel 默认通道
const DefaultChannel = ""

// ReceptionCallback 接收连接器输出
type ReceptionCallback[CO any] interface {
	Received(data CO)
}

// ReceptionFunc 函数形式的 ReceptionCallback
type ReceptionFunc[CO any] func(data CO)

func (f ReceptionFunc[CO]) Received(data CO) { f(data) }

// Info 连接器的只读信息，注册表中保存的就是它
type Info interface {
	ID() string
	Name() string
	ProtocolOutputType() reflect.Type
	ProtocolInputType() reflect.Type
	ConnectorOutputType() reflect.Type
	ConnectorInputType() reflect.Type
	// SupportedEncryption 支持的加密方式，逗号分隔，可能为空
	SupportedEncryption() string
	// EnabledEncryption 当前启用的加密方式，逗号分隔，可能为空
	EnabledEncryption() string
	ConnectorState() State
	IsPolling() bool
}

// Connector 连接器
type Connector[O, I, CO, CI any] interface {
	Info
	Connect(ctx context.Context, params *Parameter) error
	Disconnect(ctx context.Context) error
	// Read 读取一次外部数据，没有数据时第二个返回值为 false
	Read(ctx context.Context) (O, bool, error)
	Write(ctx context.Context, data CI) error
	// Received 转换数据并按需通知回调，总是返回转换后的值
	Received(ctx context.Context, channel string, data O, notify bool) (CO, error)
	SetReceptionCallback(cb ReceptionCallback[CO])
	EnablePolling(enabled bool)
	EnableNotifications(enabled bool)
	Trigger(ctx context.Context) error
	TriggerQuery(ctx context.Context, q Query) error
	Dispose(ctx context.Context) error
}

// Instance 与类型参数无关的连接器视图，描述符工厂返回它
type Instance interface {
	Info
	Connect(ctx context.Context, params *Parameter) error
	Disconnect(ctx context.Context) error
	// Listen 以 any 接收连接器输出，覆盖 SetReceptionCallback 设置的回调
	Listen(f func(data any))
	// WriteValue 写入任意值，类型必须是连接器的输入类型
	WriteValue(ctx context.Context, data any) error
	EnablePolling(enabled bool)
	EnableNotifications(enabled bool)
	Trigger(ctx context.Context) error
	TriggerQuery(ctx context.Context, q Query) error
	Dispose(ctx context.Context) error
}

// Driver 具体协议需要实现的部分
type Driver[O, I any] interface {
	ConnectImpl(ctx context.Context, params *Parameter) error
	DisconnectImpl(ctx context.Context) error
	// Read 没有数据时返回 false，轮询据此跳过本次
	Read(ctx context.Context) (O, bool, error)
	// WriteImpl 发送数据，channel 为所选适配器的输入通道
	WriteImpl(ctx context.Context, data I, channel string) error
}

// ChannelReader 读取时能给出数据所属通道的驱动，轮询使用该通道
type ChannelReader[O any] interface {
	ReadChannel(ctx context.Context) (channel string, data O, ok bool, err error)
}

// QueryReader 支持按查询读取的驱动，TriggerQuery 使用它
type QueryReader[O any] interface {
	ReadQuery(ctx context.Context, q Query) (O, bool, error)
}

// Encrypted 支持加密的驱动
type Encrypted interface {
	SupportedEncryption() string
	EnabledEncryption() string
}

// Sweeper 周期回收的资源集合，worker.Manager 实现了它
type Sweeper interface {
	Start()
	Stop()
	Close() error
}

// WorkerScoped 按工作者分配资源的驱动，连接期间周期回收已结束工作者的资源
type WorkerScoped interface {
	Workers() Sweeper
}
