package server

import "github.com/Zereker/chatsock"

// DefaultMaxConnections is the connection limit when none is configured.
const DefaultMaxConnections = 16

// Metrics receives the server loop's counters. Implementations must be
// safe to read from other goroutines; the loop only ever writes.
type Metrics interface {
	Connected(n int)
	Members(n int)
	FrameReceived(kind string)
	FrameDropped()
	Disconnected(reason string)
}

type nopMetrics struct{}

func (nopMetrics) Connected(int)        {}
func (nopMetrics) Members(int)          {}
func (nopMetrics) FrameReceived(string) {}
func (nopMetrics) FrameDropped()        {}
func (nopMetrics) Disconnected(string)  {}

// Option configures a Server.
type Option func(*Server)

// LoggerOption sets the logger for the server and its endpoints.
func LoggerOption(logger chatsock.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// MaxConnectionsOption sets how many endpoints may be connected at once.
// Connections beyond the limit are accepted and closed straight away.
func MaxConnectionsOption(n int) Option {
	return func(s *Server) {
		s.maxConns = n
	}
}

// QueueDepthOption sets the per-endpoint queue capacity.
func QueueDepthOption(depth int) Option {
	return func(s *Server) {
		s.queueDepth = depth
	}
}

// BufferPoolOption sets the pool every frame buffer is taken from.
func BufferPoolOption(pool *chatsock.BufferPool) Option {
	return func(s *Server) {
		s.pool = pool
	}
}

// MetricsOption sets the metrics sink.
func MetricsOption(m Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}
