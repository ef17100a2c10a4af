package connector

import (
	"fmt"
	"strings"
)

// AdapterProvider 向选择器提供连接器的适配器
type AdapterProvider[O, I, CO, CI any] interface {
	AdapterCount() int
	Adapter(index int) ProtocolAdapter[O, I, CO, CI]
}

// AdapterSelector 按通道和数据选择适配器，只要至少有一个适配器就必须返回非空
type AdapterSelector[O, I, CO, CI any] interface {
	SelectOutput(channel string, data O) ProtocolAdapter[O, I, CO, CI]
	SelectInput(data CI) ProtocolAdapter[O, I, CO, CI]
	// Init 在构造连接器时调用一次
	Init(provider AdapterProvider[O, I, CO, CI])
}

// DefaultSelector 总是选择第一个适配器
type DefaultSelector[O, I, CO, CI any] struct {
	first ProtocolAdapter[O, I, CO, CI]
}

func (s *DefaultSelector[O, I, CO, CI]) Init(provider AdapterProvider[O, I, CO, CI]) {
	s.first = provider.Adapter(0)
}

func (s *DefaultSelector[O, I, CO, CI]) SelectOutput(string, O) ProtocolAdapter[O, I, CO, CI] {
	return s.first
}

func (s *DefaultSelector[O, I, CO, CI]) SelectInput(CI) ProtocolAdapter[O, I, CO, CI] {
	return s.first
}

// ChannelSelector 按适配器声明的输出通道选择，同一通道先注册的适配器生效，
// 未知通道和所有输入使用第一个适配器
type ChannelSelector[O, I, CO, CI any] struct {
	fallback ProtocolAdapter[O, I, CO, CI]
	channels map[string]ProtocolAdapter[O, I, CO, CI]
}

func (s *ChannelSelector[O, I, CO, CI]) Init(provider AdapterProvider[O, I, CO, CI]) {
	s.fallback = provider.Adapter(0)
	s.channels = make(map[string]ProtocolAdapter[O, I, CO, CI], provider.AdapterCount())
	for i := 0; i < provider.AdapterCount(); i++ {
		a := provider.Adapter(i)
		if _, ok := s.channels[a.OutputChannel()]; !ok {
			s.channels[a.OutputChannel()] = a
		}
	}
}

func (s *ChannelSelector[O, I, CO, CI]) SelectOutput(channel string, _ O) ProtocolAdapter[O, I, CO, CI] {
	if a, ok := s.channels[channel]; ok {
		return a
	}
	return s.fallback
}

func (s *ChannelSelector[O, I, CO, CI]) SelectInput(CI) ProtocolAdapter[O, I, CO, CI] {
	return s.fallback
}

// NewSelector 按名称创建选择器：default 或 channel，空字符串为 default
func NewSelector[O, I, CO, CI any](name string) (AdapterSelector[O, I, CO, CI], error) {
	switch strings.ToLower(name) {
	case "", "default":
		return &DefaultSelector[O, I, CO, CI]{}, nil
	case "channel":
		return &ChannelSelector[O, I, CO, CI]{}, nil
	default:
		return nil, fmt.Errorf("%w: 未知的适配器选择器 %s", ErrConfiguration, name)
	}
}
