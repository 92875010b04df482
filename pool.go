package chatsock

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrOutOfMemory is returned when a pool refuses to hand out another buffer.
var ErrOutOfMemory = errors.New("chatsock: out of buffer memory")

// BufferPool recycles message buffers.
// A pool created with a positive limit refuses to have more than that many
// buffers live at once, which is how allocation failure surfaces to callers.
type BufferPool struct {
	pool  sync.Pool
	limit int64
	live  atomic.Int64
}

// NewBufferPool creates a pool. A limit of zero or less means unlimited.
func NewBufferPool(limit int) *BufferPool {
	p := &BufferPool{limit: int64(limit)}
	p.pool.New = func() any { return new(Buffer) }
	return p
}

var defaultPool = NewBufferPool(0)

// DefaultPool returns the process-wide unlimited pool.
func DefaultPool() *BufferPool {
	return defaultPool
}

// NewBuffer takes a buffer with one holder from the default pool.
func NewBuffer() (*Buffer, error) {
	return defaultPool.Get()
}

// Get returns an empty buffer with a reference count of one.
func (p *BufferPool) Get() (*Buffer, error) {
	if n := p.live.Add(1); p.limit > 0 && n > p.limit {
		p.live.Add(-1)
		return nil, ErrOutOfMemory
	}

	b := p.pool.Get().(*Buffer)
	b.pool = p
	b.reset()
	b.refs.Store(1)
	return b, nil
}

// Live returns the number of buffers handed out and not yet released.
func (p *BufferPool) Live() int {
	return int(p.live.Load())
}

func (p *BufferPool) put(b *Buffer) {
	p.live.Add(-1)
	p.pool.Put(b)
}
