package connector

import "sync"

// 已连接的连接器，按连接顺序保存
var registry = &connectorRegistry{}

type connectorRegistry struct {
	mu         sync.RWMutex
	connectors []Info
}

// RegisterConnector 登记已连接的连接器，同一实例只登记一次
func RegisterConnector(c Info) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	for _, e := range registry.connectors {
		if e == c {
			return
		}
	}
	registry.connectors = append(registry.connectors, c)
}

// UnregisterConnector 按实例移除连接器，不存在时什么都不做
func UnregisterConnector(c Info) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	for i, e := range registry.connectors {
		if e == c {
			registry.connectors = append(registry.connectors[:i:i], registry.connectors[i+1:]...)
			return
		}
	}
}

// Connectors 返回已连接连接器的快照，顺序为连接顺序
func Connectors() []Info {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	out := make([]Info, len(registry.connectors))
	copy(out, registry.connectors)
	return out
}

// ConnectorCount 返回已连接连接器的数量
func ConnectorCount() int {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	return len(registry.connectors)
}
