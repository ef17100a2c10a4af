package parser

import (
	"fmt"
	"sort"
	"strings"

	"linkgate/internal/connector"
	"linkgate/internal/pkg"
)

// Adapter 字节协议与任意连接器数据之间的适配器，所有内置连接器都使用它
type Adapter = connector.ProtocolAdapter[[]byte, []byte, any, any]

// Selector 与 Adapter 配套的选择器
type Selector = connector.AdapterSelector[[]byte, []byte, any, any]

// FactoryFunc 根据配置创建适配器
type FactoryFunc func(cfg pkg.AdapterConfig) (Adapter, error)

// Factories 全局工厂映射，按适配器类型注册
var Factories = make(map[string]FactoryFunc)

// Register 注册一个适配器类型
func Register(adapterType string, factory FactoryFunc) {
	Factories[adapterType] = factory
}

// Types 返回已注册的适配器类型
func Types() []string {
	types := make([]string, 0, len(Factories))
	for key := range Factories {
		types = append(types, key)
	}
	sort.Strings(types)
	return types
}

// New 创建配置中指定类型的适配器，类型为空时使用 passthrough
func New(cfg pkg.AdapterConfig) (Adapter, error) {
	t := strings.ToLower(cfg.Type)
	if t == "" {
		t = "passthrough"
	}
	factory, ok := Factories[t]
	if !ok {
		return nil, fmt.Errorf("%w: 未找到适配器类型: %s", connector.ErrConfiguration, cfg.Type)
	}
	a, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化适配器 %s 失败: %w", t, err)
	}
	return a, nil
}

// NewAdapters 按顺序创建全部适配器，没有配置时只有一个 passthrough 适配器
func NewAdapters(cfgs []pkg.AdapterConfig) ([]Adapter, error) {
	if len(cfgs) == 0 {
		cfgs = []pkg.AdapterConfig{{Type: "passthrough"}}
	}
	adapters := make([]Adapter, 0, len(cfgs))
	for i, cfg := range cfgs {
		a, err := New(cfg)
		if err != nil {
			return nil, fmt.Errorf("第 %d 个适配器: %w", i, err)
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

// NewSelector 按名称创建选择器
func NewSelector(name string) (Selector, error) {
	return connector.NewSelector[[]byte, []byte, any, any](name)
}

// FromConfig 创建连接器配置中的适配器与选择器
func FromConfig(cfg pkg.ConnectorConfig) ([]Adapter, Selector, error) {
	adapters, err := NewAdapters(cfg.Adapters)
	if err != nil {
		return nil, nil, err
	}
	selector, err := NewSelector(cfg.Selector)
	if err != nil {
		return nil, nil, err
	}
	return adapters, selector, nil
}

func channels(cfg pkg.AdapterConfig) []connector.AdapterOption {
	return []connector.AdapterOption{
		connector.WithOutputChannel(cfg.OutputChannel),
		connector.WithInputChannel(cfg.InputChannel),
	}
}

// toBytes 将写入的值转换为字节，其他类型交给 fallback
func toBytes(data any, fallback func(any) ([]byte, error)) ([]byte, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	}
	return fallback(data)
}
