package chatsock

// options holds the configuration for an endpoint.
type options struct {
	pool   *BufferPool
	logger Logger

	queueDepth int // capacity of the inbound and outbound queues
}

// Option is a function that configures endpoint options.
type Option func(*options)

// QueueDepthOption sets the capacity of both endpoint queues.
// A deeper outbound queue absorbs longer bursts before frames are dropped.
func QueueDepthOption(depth int) Option {
	return func(o *options) {
		o.queueDepth = depth
	}
}

// BufferPoolOption sets the pool receive buffers are taken from.
// If not set, the process-wide default pool is used.
func BufferPoolOption(pool *BufferPool) Option {
	return func(o *options) {
		o.pool = pool
	}
}

// LoggerOption sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// checkOptions fills in defaults for unset options.
func checkOptions(opts *options) {
	if opts.queueDepth <= 0 {
		opts.queueDepth = DefaultQueueDepth
	}

	if opts.pool == nil {
		opts.pool = defaultPool
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
}
