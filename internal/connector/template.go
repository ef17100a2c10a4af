package connector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"linkgate/internal/pkg"

	"go.uber.org/zap"
)

// Capabilities 连接器类型的能力描述
type Capabilities struct {
	HasModel                   bool     `json:"hasModel" yaml:"hasModel"`
	SupportsEvents             bool     `json:"supportsEvents" yaml:"supportsEvents"`
	SupportsHierarchicalQNames bool     `json:"supportsHierarchicalQNames" yaml:"supportsHierarchicalQNames"`
	SupportsModelCalls         bool     `json:"supportsModelCalls" yaml:"supportsModelCalls"`
	SupportsModelProperties    bool     `json:"supportsModelProperties" yaml:"supportsModelProperties"`
	SupportsModelStructs       bool     `json:"supportsModelStructs" yaml:"supportsModelStructs"`
	SupportsDataTimeDifference bool     `json:"supportsDataTimeDifference" yaml:"supportsDataTimeDifference"`
	SpecificSettings           []string `json:"specificSettings,omitempty" yaml:"specificSettings,omitempty"`
	SupportedQueries           []string `json:"supportedQueries,omitempty" yaml:"supportedQueries,omitempty"`
}

// FactoryFunc 根据 context 中的配置创建连接器
type FactoryFunc func(ctx context.Context) (Instance, error)

// Descriptor 连接器类型的描述
type Descriptor struct {
	ID           string       `json:"id" yaml:"id"`
	Name         string       `json:"name" yaml:"name"`
	Capabilities Capabilities `json:"capabilities" yaml:"capabilities"`
	Factory      FactoryFunc  `json:"-" yaml:"-"`
}

var (
	factoriesMu sync.RWMutex
	// Factories 全局描述符映射，按连接器类型注册
	Factories = make(map[string]Descriptor)
)

// Register 注册一个连接器类型，一般在 init 中调用
func Register(d Descriptor) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	Factories[d.ID] = d
}

// Lookup 查找连接器类型
func Lookup(id string) (Descriptor, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	d, ok := Factories[id]
	return d, ok
}

// Descriptors 返回按 ID 排序的全部连接器类型
func Descriptors() []Descriptor {
	factoriesMu.RLock()
	out := make([]Descriptor, 0, len(Factories))
	for _, d := range Factories {
		out = append(out, d)
	}
	factoriesMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// New 创建配置中指定类型的连接器
var New = func(ctx context.Context) (Instance, error) {
	config := pkg.ConfigFromContext(ctx)
	// 记录可用的工厂类型
	descriptors := Descriptors()
	factoryTypes := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		factoryTypes = append(factoryTypes, d.ID)
	}
	pkg.LoggerFromContext(ctx).Debug("Connector Factory:", zap.Strings("Factories", factoryTypes))
	pkg.LoggerFromContext(ctx).Debug(fmt.Sprintf("===正在创建Connector: %s===", config.Connector.Type))
	d, ok := Lookup(config.Connector.Type)
	if !ok || d.Factory == nil {
		return nil, fmt.Errorf("未找到连接器类型: %s", config.Connector.Type)
	}
	c, err := d.Factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("初始化连接器失败: %w", err)
	}
	return c, nil
}
