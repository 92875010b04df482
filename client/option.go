package client

import (
	"time"

	"github.com/Zereker/chatsock"
)

type options struct {
	pool        *chatsock.BufferPool
	logger      chatsock.Logger
	queueDepth  int
	dialTimeout time.Duration
}

// Option configures a Client.
type Option func(*options)

// LoggerOption sets the client logger.
func LoggerOption(logger chatsock.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// QueueDepthOption sets the capacity of the connection queues.
func QueueDepthOption(depth int) Option {
	return func(o *options) {
		o.queueDepth = depth
	}
}

// BufferPoolOption sets the pool frame buffers are taken from.
func BufferPoolOption(pool *chatsock.BufferPool) Option {
	return func(o *options) {
		o.pool = pool
	}
}

// DialTimeoutOption bounds how long Dial waits for the connection.
func DialTimeoutOption(d time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = d
	}
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.pool == nil {
		o.pool = chatsock.DefaultPool()
	}
	if o.logger == nil {
		o.logger = chatsock.DefaultLogger()
	}
	if o.queueDepth <= 0 {
		o.queueDepth = chatsock.DefaultQueueDepth
	}
	if o.dialTimeout <= 0 {
		o.dialTimeout = 10 * time.Second
	}
	return o
}
