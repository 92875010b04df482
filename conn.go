// Package chatsock is the transport core of a small multi-user chat.
// It provides reference-counted frame buffers, bounded frame queues, and
// an Endpoint that moves length-prefixed frames over a non-blocking socket
// one readiness event at a time, resuming partial reads and writes where
// they stopped.
package chatsock

import (
	"errors"
	"fmt"
	"io"
)

// Errors returned by endpoint operations.
var (
	// ErrFraming is returned when a peer sends a header that cannot start a frame.
	ErrFraming = errors.New("chatsock: framing error")
	// ErrEndpointClosed is returned when operating on a closed endpoint.
	ErrEndpointClosed = errors.New("chatsock: endpoint closed")
	// ErrAlreadyBound is returned when an endpoint identity is bound twice.
	ErrAlreadyBound = errors.New("chatsock: identity already bound")
	// ErrInvalidIdentity is returned for an empty or oversized identity.
	ErrInvalidIdentity = errors.New("chatsock: invalid identity")
)

// MaxIdentityLen is the longest identity an endpoint can be bound to.
const MaxIdentityLen = 36

// Endpoint is the state of one connection: its transport, outbound and
// inbound frame queues, the frame currently being received and how far
// the head of the outbound queue has been written.
//
// An Endpoint is not safe for concurrent use; it belongs to the goroutine
// running the event loop.
type Endpoint struct {
	transport Transport
	logger    Logger
	pool      *BufferPool

	out *Queue
	in  *Queue

	recv     *Buffer // frame being received, nil when idle
	received int     // bytes of recv filled so far
	sent     int     // bytes of the outbound head written so far

	identity string
	bound    bool
	closed   bool
}

// NewEndpoint wraps a non-blocking transport.
func NewEndpoint(t Transport, opt ...Option) *Endpoint {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	return &Endpoint{
		transport: t,
		logger:    opts.logger,
		pool:      opts.pool,
		out:       NewQueue(opts.queueDepth),
		in:        NewQueue(opts.queueDepth),
	}
}

// Fd returns the descriptor to poll.
func (e *Endpoint) Fd() int {
	return e.transport.Fd()
}

// Addr describes the peer, for logging.
func (e *Endpoint) Addr() string {
	if s, ok := e.transport.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("fd:%d", e.transport.Fd())
}

// Enqueue queues b for sending. The endpoint takes its own reference.
//
// Returns ErrQueueFull when the outbound queue is at capacity; the frame
// is not queued and the caller decides whether to drop or report it.
func (e *Endpoint) Enqueue(b *Buffer) error {
	if e.closed {
		return ErrEndpointClosed
	}
	return e.out.Enqueue(b)
}

// WantsWrite reports whether frames are waiting to be sent.
func (e *Endpoint) WantsWrite() bool {
	return !e.closed && e.out.Len() > 0
}

// Pending returns the number of frames waiting to be sent.
func (e *Endpoint) Pending() int {
	return e.out.Len()
}

// Flush writes queued frames head to tail until the queue is empty, the
// socket would block or a write fails. Fully written frames are released
// and removed; a partly written head keeps its progress for the next call.
//
// It returns the number of frames still queued. Would-block is not an
// error; any other error is fatal to the endpoint.
func (e *Endpoint) Flush() (int, error) {
	if e.closed {
		return 0, ErrEndpointClosed
	}

	for {
		b, ok := e.out.Peek()
		if !ok {
			return 0, nil
		}

		frame := b.Bytes()
		for e.sent < len(frame) {
			n, err := e.transport.Write(frame[e.sent:])
			if n > 0 {
				e.sent += n
			}
			if err != nil {
				if errors.Is(err, ErrWouldBlock) {
					return e.out.Len(), nil
				}
				e.logger.Debug("write error", "addr", e.Addr(), "error", err)
				return e.out.Len(), err
			}
			if n == 0 {
				return e.out.Len(), nil
			}
		}

		e.out.Dequeue()
		b.Release()
		e.sent = 0
	}
}

// Receive reads frames until the socket would block or the inbound queue
// is full. Completed frames are collected with Next. A partly received
// frame keeps its progress for the next call.
//
// It returns the number of frames completed by this call. io.EOF means
// the peer shut down; ErrFraming means the peer sent an impossible
// header; ErrOutOfMemory means no buffer could be taken and nothing was
// read. Any error other than ErrOutOfMemory is fatal to the endpoint.
func (e *Endpoint) Receive() (int, error) {
	if e.closed {
		return 0, ErrEndpointClosed
	}

	frames := 0
	for !e.in.Full() {
		err := e.receiveOne()
		if errors.Is(err, ErrWouldBlock) {
			return frames, nil
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.logger.Debug("read error", "addr", e.Addr(), "error", err)
			}
			return frames, err
		}
		frames++
	}
	return frames, nil
}

// receiveOne drives the current frame to completion. The header is read
// first; only once both header bytes are in is the frame length known.
func (e *Endpoint) receiveOne() error {
	if e.recv == nil {
		b, err := e.pool.Get()
		if err != nil {
			return err
		}
		e.recv = b
	}

	raw := e.recv.data[:]
	need := HeaderSize
	if e.received >= HeaderSize {
		need = e.recv.Length()
	}

	for e.received < need {
		n, err := e.transport.Read(raw[e.received:need])
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrWouldBlock
		}

		e.received += n
		if e.received == HeaderSize {
			need = e.recv.Length()
			if need < HeaderSize || need > BufferSize {
				return fmt.Errorf("%w: frame length %d", ErrFraming, need)
			}
		}
	}

	b := e.recv
	e.recv, e.received = nil, 0
	err := e.in.Enqueue(b)
	b.Release()
	return err
}

// Next removes the oldest completed inbound frame.
// The caller owns the returned reference and must Release it.
func (e *Endpoint) Next() (*Buffer, bool) {
	return e.in.Dequeue()
}

// Bind sets the endpoint identity. An identity can only be bound once.
func (e *Endpoint) Bind(identity string) error {
	if e.bound {
		return ErrAlreadyBound
	}
	if identity == "" || len(identity) > MaxIdentityLen {
		return ErrInvalidIdentity
	}
	e.identity, e.bound = identity, true
	return nil
}

// Identity returns the bound identity, if any.
func (e *Endpoint) Identity() (string, bool) {
	return e.identity, e.bound
}

// Close releases every queued and partly received frame and closes the
// transport. Safe to call multiple times.
func (e *Endpoint) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	dropped := e.out.Reset() + e.in.Reset()
	if e.recv != nil {
		e.recv.Release()
		e.recv = nil
	}
	e.sent, e.received = 0, 0

	if dropped > 0 {
		e.logger.Debug("endpoint closed with queued frames", "addr", e.Addr(), "dropped", dropped)
	}
	return e.transport.Close()
}

// IsClosed returns true if the endpoint has been closed.
func (e *Endpoint) IsClosed() bool {
	return e.closed
}
