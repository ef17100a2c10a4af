package pkg

import "sync"

// BytesPool 是一个字节池，用于缓存读缓冲区
// 减少gc， 减少内存分配
type BytesPool struct {
	size int
	pool *sync.Pool
}

// NewBytesPool 创建一个字节池
// size 是每个缓冲区的大小
func NewBytesPool(size int) *BytesPool {
	return &BytesPool{
		size: size,
		pool: &sync.Pool{
			New: func() interface{} {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

// Size 返回缓冲区大小
func (p *BytesPool) Size() int {
	return p.size
}

// Get 从字节池中获取一个字节数组
func (p *BytesPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

// Put 将一个字节数组放回字节池
func (p *BytesPool) Put(b *[]byte) {
	p.pool.Put(b)
}

// CopyOf 复制缓冲区中的有效数据，缓冲区可随后归还
func CopyOf(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// BytesPoolInstance 是BytesPool的单例
// 默认大小为65536， 是udp默认最大数据包大小
var BytesPoolInstance = NewBytesPool(65536)
