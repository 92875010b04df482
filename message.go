package chatsock

import (
	"encoding/binary"
	"errors"
	"sync/atomic"
)

// Frame geometry. Every frame starts with a 2-byte big-endian header
// carrying the total frame length, header included.
const (
	// BufferSize is the fixed capacity of a message buffer.
	BufferSize = 2048
	// HeaderSize is the size of the length header.
	HeaderSize = 2
	// MaxBodySize is the largest body a single frame can carry.
	MaxBodySize = BufferSize - HeaderSize
)

// ErrBodyTooLarge is returned by SetBody when the body does not fit in a frame.
var ErrBodyTooLarge = errors.New("chatsock: body too large")

// Buffer holds exactly one wire frame.
//
// A Buffer is shared between queues by reference counting: Retain adds a
// holder, Release drops one, and the storage goes back to its pool when the
// last holder lets go. A released buffer must not be touched again.
type Buffer struct {
	data [BufferSize]byte
	refs atomic.Int32
	pool *BufferPool
}

// Retain adds a holder and returns the same buffer.
func (b *Buffer) Retain() *Buffer {
	if b.refs.Add(1) <= 1 {
		panic("chatsock: retain of released buffer")
	}
	return b
}

// Release drops a holder. The buffer is recycled when no holders remain.
func (b *Buffer) Release() {
	n := b.refs.Add(-1)
	switch {
	case n == 0:
		if b.pool != nil {
			b.pool.put(b)
		}
	case n < 0:
		panic("chatsock: release of released buffer")
	}
}

// Refs returns the current number of holders.
func (b *Buffer) Refs() int {
	return int(b.refs.Load())
}

// Length returns the total frame length encoded in the header.
func (b *Buffer) Length() int {
	return int(binary.BigEndian.Uint16(b.data[:HeaderSize]))
}

// BodyLength returns the length of the frame body.
func (b *Buffer) BodyLength() int {
	if n := b.Length(); n > HeaderSize {
		return n - HeaderSize
	}
	return 0
}

// Body returns the frame body. The slice aliases the buffer storage.
func (b *Buffer) Body() []byte {
	return b.data[HeaderSize : HeaderSize+b.BodyLength()]
}

// Bytes returns the whole frame, header included.
func (b *Buffer) Bytes() []byte {
	return b.data[:HeaderSize+b.BodyLength()]
}

// SetBody copies body into the frame and writes the matching header.
// The buffer is left untouched when the body does not fit.
func (b *Buffer) SetBody(body []byte) error {
	if HeaderSize+len(body) > BufferSize {
		return ErrBodyTooLarge
	}
	binary.BigEndian.PutUint16(b.data[:HeaderSize], uint16(HeaderSize+len(body)))
	copy(b.data[HeaderSize:], body)
	return nil
}

// reset clears the header so a recycled buffer reads as an empty frame.
func (b *Buffer) reset() {
	b.data[0], b.data[1] = 0, 0
}
