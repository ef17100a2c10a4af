package cache

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Mode 缓存模式
type Mode int

const (
	// None 不缓存，所有数据都会转发
	None Mode = iota
	// Hash 按哈希值比较
	Hash
	// Equals 按结构相等比较
	Equals
)

func (m Mode) String() string {
	switch m {
	case Hash:
		return "hash"
	case Equals:
		return "equals"
	default:
		return "none"
	}
}

// ParseMode 解析配置中的缓存模式，大小写不敏感，空字符串为 None
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "no":
		return None, nil
	case "hash":
		return Hash, nil
	case "equals", "equal":
		return Equals, nil
	default:
		return None, fmt.Errorf("未知的缓存模式: %s", s)
	}
}

// Hasher 由需要自定义哈希的值实现
type Hasher interface {
	Hash() uint64
}

// Equaler 由需要自定义相等判断的值实现
type Equaler interface {
	Equal(other any) bool
}

// Strategy 判断一个值是否需要继续转发
// 单值检查使用一个槽位，多键检查按 key 分别记录
type Strategy struct {
	mu       sync.Mutex
	mode     Mode
	hasValue bool
	last     entry
	keyed    map[string]entry
	bounded  *lru.Cache[string, entry]
	maxKeys  int
}

type entry struct {
	value any
	hash  uint64
}

// Option 配置 Strategy
type Option func(*Strategy)

// WithMaxKeys 限制多键缓存的 key 数量，超出后按 LRU 淘汰，n <= 0 表示不限制
func WithMaxKeys(n int) Option {
	return func(s *Strategy) {
		s.maxKeys = n
	}
}

// New 创建缓存策略
func New(mode Mode, opts ...Option) *Strategy {
	s := &Strategy{mode: mode}
	for _, opt := range opts {
		opt(s)
	}
	s.reset()
	return s
}

func (s *Strategy) reset() {
	s.hasValue = false
	s.last = entry{}
	if s.maxKeys > 0 {
		// 仅在 size <= 0 时返回错误
		s.bounded, _ = lru.New[string, entry](s.maxKeys)
		s.keyed = nil
		return
	}
	s.keyed = make(map[string]entry)
}

// Mode 返回当前模式
func (s *Strategy) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode 修改缓存模式，不清除已缓存的值
func (s *Strategy) SetMode(mode Mode) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
}

// Check 单值检查，返回 true 表示值需要转发，转发时记录该值
func (s *Strategy) Check(value any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == None {
		return true
	}
	next := s.entryOf(value)
	if s.hasValue && s.same(s.last, next) {
		return false
	}
	s.last = next
	s.hasValue = true
	return true
}

// CheckKey 多键检查，语义与 Check 相同，但每个 key 各自记录
func (s *Strategy) CheckKey(key string, value any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == None {
		return true
	}
	next := s.entryOf(value)
	if prev, ok := s.load(key); ok && s.same(prev, next) {
		return false
	}
	s.store(key, next)
	return true
}

// Clear 清除所有缓存的值
func (s *Strategy) Clear() {
	s.mu.Lock()
	s.reset()
	s.mu.Unlock()
}

// Len 返回已缓存的条目数，单值槽位计为一条
func (s *Strategy) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	if s.hasValue {
		n++
	}
	if s.bounded != nil {
		return n + s.bounded.Len()
	}
	return n + len(s.keyed)
}

func (s *Strategy) load(key string) (entry, bool) {
	if s.bounded != nil {
		return s.bounded.Get(key)
	}
	e, ok := s.keyed[key]
	return e, ok
}

func (s *Strategy) store(key string, e entry) {
	if s.bounded != nil {
		s.bounded.Add(key, e)
		return
	}
	s.keyed[key] = e
}

// entryOf 总是同时记录值和哈希，模式切换后旧的缓存仍然可用
func (s *Strategy) entryOf(value any) entry {
	return entry{value: value, hash: HashOf(value)}
}

func (s *Strategy) same(prev, next entry) bool {
	switch s.mode {
	case Hash:
		return prev.hash == next.hash
	case Equals:
		return Equal(prev.value, next.value)
	default:
		return false
	}
}

// HashOf 计算值的 64 位哈希
// 实现 Hasher 的值使用自身哈希，[]byte 与 string 直接计算，其余值先解引用再按 Go 语法表示（%#v）计算，
// 未导出字段同样参与哈希；map 按键排序输出，结果稳定
func HashOf(value any) uint64 {
	switch v := value.(type) {
	case nil:
		return 0
	case Hasher:
		return v.Hash()
	case []byte:
		return xxhash.Sum64(v)
	case string:
		return xxhash.Sum64String(v)
	}
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return 0
		}
		rv = rv.Elem()
	}
	return xxhash.Sum64String(fmt.Sprintf("%#v", rv.Interface()))
}

// Equal 判断两个值是否结构相等
func Equal(a, b any) bool {
	if e, ok := a.(Equaler); ok {
		return e.Equal(b)
	}
	return reflect.DeepEqual(a, b)
}
