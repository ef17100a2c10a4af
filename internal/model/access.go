package model

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownProperty 属性不存在
var ErrUnknownProperty = errors.New("属性不存在")

// NotificationListener 接收模型对通知开关的修改
type NotificationListener interface {
	NotificationsChanged(enabled bool)
}

// Access 适配器访问信息模型的窄接口
type Access interface {
	// InitializeModelAccess 在连接建立后调用一次
	InitializeModelAccess() error
	// SetNotificationListener 设置通知开关的接收方，一般是连接器
	SetNotificationListener(l NotificationListener)
	// UseNotifications 由模型决定是否改用通知代替轮询
	UseNotifications(enabled bool)
	// Dispose 释放模型访问占用的资源
	Dispose() error
}

// MemoryAccess 以内存中的属性表作为信息模型
type MemoryAccess struct {
	mu          sync.RWMutex
	props       map[string]any
	listener    NotificationListener
	initialized bool
	disposed    bool
}

// NewMemoryAccess 创建内存模型
func NewMemoryAccess() *MemoryAccess {
	return &MemoryAccess{props: make(map[string]any)}
}

func (m *MemoryAccess) InitializeModelAccess() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return fmt.Errorf("模型已释放")
	}
	m.initialized = true
	return nil
}

// Initialized 判断是否已初始化
func (m *MemoryAccess) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

func (m *MemoryAccess) SetNotificationListener(l NotificationListener) {
	m.mu.Lock()
	m.listener = l
	m.mu.Unlock()
}

func (m *MemoryAccess) UseNotifications(enabled bool) {
	m.mu.RLock()
	l := m.listener
	m.mu.RUnlock()
	if l != nil {
		l.NotificationsChanged(enabled)
	}
}

// Set 写入属性
func (m *MemoryAccess) Set(name string, value any) {
	m.mu.Lock()
	m.props[name] = value
	m.mu.Unlock()
}

// Get 读取属性
func (m *MemoryAccess) Get(name string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.props[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProperty, name)
	}
	return v, nil
}

// Names 返回排序后的属性名
func (m *MemoryAccess) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.props))
	for k := range m.props {
		names = append(names, k)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (m *MemoryAccess) Dispose() error {
	m.mu.Lock()
	m.disposed = true
	m.initialized = false
	m.props = make(map[string]any)
	m.mu.Unlock()
	return nil
}

// Disposed 判断是否已释放
func (m *MemoryAccess) Disposed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.disposed
}
