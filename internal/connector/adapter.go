package connector

import (
	"reflect"
	"sync"

	"linkgate/internal/model"
)

// ProtocolAdapter 在协议数据（O, I）和连接器数据（CO, CI）之间转换
type ProtocolAdapter[O, I, CO, CI any] interface {
	// AdaptOutput 将从协议读到的数据转换为连接器输出
	AdaptOutput(channel string, data O) (CO, error)
	// AdaptInput 将写入连接器的数据转换为协议数据
	AdaptInput(data CI) (I, error)
	// OutputChannel 适配器负责的输出通道，空字符串为默认通道
	OutputChannel() string
	// InputChannel 写入时使用的通道，空字符串为默认通道
	InputChannel() string
	SetModelAccess(access model.Access)
	ModelAccess() model.Access
	// InitializeModelAccess 连接建立后调用，没有模型时什么都不做
	InitializeModelAccess() error
}

// OutputTranslator 协议输出到连接器输出的转换函数
type OutputTranslator[O, CO any] func(channel string, data O) (CO, error)

// InputTranslator 连接器输入到协议输入的转换函数
type InputTranslator[CI, I any] func(data CI) (I, error)

// TranslatingAdapter 由两个转换函数组成的适配器
type TranslatingAdapter[O, I, CO, CI any] struct {
	out           OutputTranslator[O, CO]
	in            InputTranslator[CI, I]
	outputChannel string
	inputChannel  string

	mu     sync.RWMutex
	access model.Access
}

// AdapterOption 配置 TranslatingAdapter 的通道
type AdapterOption func(*adapterChannels)

type adapterChannels struct {
	output, input string
}

// WithOutputChannel 声明适配器负责的输出通道
func WithOutputChannel(channel string) AdapterOption {
	return func(c *adapterChannels) { c.output = channel }
}

// WithInputChannel 声明写入时使用的通道
func WithInputChannel(channel string) AdapterOption {
	return func(c *adapterChannels) { c.input = channel }
}

// NewTranslatingAdapter 创建适配器
func NewTranslatingAdapter[O, I, CO, CI any](out OutputTranslator[O, CO], in InputTranslator[CI, I], opts ...AdapterOption) *TranslatingAdapter[O, I, CO, CI] {
	var c adapterChannels
	for _, opt := range opts {
		opt(&c)
	}
	return &TranslatingAdapter[O, I, CO, CI]{
		out:           out,
		in:            in,
		outputChannel: c.output,
		inputChannel:  c.input,
	}
}

func (a *TranslatingAdapter[O, I, CO, CI]) AdaptOutput(channel string, data O) (CO, error) {
	return a.out(channel, data)
}

func (a *TranslatingAdapter[O, I, CO, CI]) AdaptInput(data CI) (I, error) {
	return a.in(data)
}

func (a *TranslatingAdapter[O, I, CO, CI]) OutputChannel() string { return a.outputChannel }
func (a *TranslatingAdapter[O, I, CO, CI]) InputChannel() string  { return a.inputChannel }

func (a *TranslatingAdapter[O, I, CO, CI]) SetModelAccess(access model.Access) {
	a.mu.Lock()
	a.access = access
	a.mu.Unlock()
}

func (a *TranslatingAdapter[O, I, CO, CI]) ModelAccess() model.Access {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.access
}

func (a *TranslatingAdapter[O, I, CO, CI]) InitializeModelAccess() error {
	if access := a.ModelAccess(); access != nil {
		return access.InitializeModelAccess()
	}
	return nil
}

// NewIdentityAdapter 两个方向都不做转换的适配器
func NewIdentityAdapter[T any](opts ...AdapterOption) *TranslatingAdapter[T, T, T, T] {
	return NewTranslatingAdapter[T, T, T, T](
		func(_ string, data T) (T, error) { return data, nil },
		func(data T) (T, error) { return data, nil },
		opts...,
	)
}

func isNilAdapter(a any) bool {
	if a == nil {
		return true
	}
	v := reflect.ValueOf(a)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Func, reflect.Slice, reflect.Chan:
		return v.IsNil()
	}
	return false
}
