// Package server runs the chat server: a single goroutine that polls the
// listener and every connected endpoint, rebroadcasts chat traffic and
// announces members joining and leaving.
package server

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/Zereker/chatsock"
	"github.com/Zereker/chatsock/chat"
)

// Disconnect reasons reported to Metrics.
const (
	reasonPeerClosed = "peer_closed"
	reasonProtocol   = "protocol"
	reasonIO         = "io"
	reasonShutdown   = "shutdown"
)

// Server owns the listener, the endpoint table and the roster. All of it is
// touched only by the goroutine running Serve.
type Server struct {
	listener *chatsock.Listener
	poller   *chatsock.Poller
	table    *chatsock.Table
	roster   *Roster

	logger     chatsock.Logger
	metrics    Metrics
	pool       *chatsock.BufferPool
	maxConns   int
	queueDepth int

	handles []chatsock.Handle
	closed  bool
}

// New creates a server bound to addr.
// Returns an error if the address cannot be bound.
func New(addr *net.TCPAddr, opts ...Option) (*Server, error) {
	s := &Server{
		logger:     chatsock.DefaultLogger(),
		metrics:    nopMetrics{},
		pool:       chatsock.DefaultPool(),
		maxConns:   DefaultMaxConnections,
		queueDepth: chatsock.DefaultQueueDepth,
		roster:     NewRoster(),
	}
	for _, opt := range opts {
		opt(s)
	}

	listener, err := chatsock.Listen(addr)
	if err != nil {
		return nil, err
	}

	poller, err := chatsock.NewPoller()
	if err != nil {
		listener.Close()
		return nil, err
	}

	s.listener = listener
	s.poller = poller
	s.table = chatsock.NewTable(s.maxConns)
	return s, nil
}

// Serve runs the event loop until ctx is canceled or polling fails.
// Cancellation is checked once per loop iteration; a canceled context
// also wakes a pending poll. Serve closes the server before returning.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("server started", "addr", s.Addr(), "max_connections", s.maxConns)

	stop := context.AfterFunc(ctx, func() {
		_ = s.poller.Wake()
	})
	defer func() {
		stop()
		s.Close()
	}()

	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("server stopped", "addr", s.Addr())
			return err
		}
		if err := s.step(-1); err != nil {
			s.logger.Error("poll failed", "error", err)
			return err
		}
	}
}

// step runs one readiness round.
func (s *Server) step(timeoutMs int) error {
	s.poller.Reset()
	listenSlot := s.poller.Add(s.listener.Fd(), chatsock.PollIn)

	s.handles = s.table.AppendHandles(s.handles[:0])
	first := listenSlot + 1
	for _, h := range s.handles {
		ep, _ := s.table.Get(h)
		events := chatsock.PollIn
		if ep.WantsWrite() {
			events |= chatsock.PollOut
		}
		s.poller.Add(ep.Fd(), events)
	}

	n, err := s.poller.Wait(timeoutMs)
	if err != nil || n == 0 {
		return err
	}

	if s.poller.Ready(listenSlot).Readable() {
		s.accept()
	}

	for i, h := range s.handles {
		events := s.poller.Ready(first + i)
		if events == 0 {
			continue
		}
		ep, ok := s.table.Get(h)
		if !ok {
			continue
		}

		if events.Readable() {
			if err := s.handleInput(h, ep); err != nil {
				s.disconnect(h, err)
				continue
			}
		}

		if events.Writable() {
			if _, err := ep.Flush(); err != nil {
				s.disconnect(h, err)
			}
		}
	}
	return nil
}

func (s *Server) accept() {
	sock, err := s.listener.Accept()
	if errors.Is(err, chatsock.ErrWouldBlock) {
		return
	}
	if err != nil {
		s.logger.Error("accept error", "error", err)
		return
	}

	if s.table.Full() {
		s.logger.Error("server at capacity, dropping connection", "remote_addr", sock.String())
		sock.Close()
		return
	}

	ep := chatsock.NewEndpoint(sock,
		chatsock.QueueDepthOption(s.queueDepth),
		chatsock.BufferPoolOption(s.pool),
		chatsock.LoggerOption(s.logger),
	)
	h, err := s.table.Insert(ep)
	if err != nil {
		s.logger.Error("unable to add endpoint", "remote_addr", sock.String(), "error", err)
		ep.Close()
		return
	}

	s.logger.Debug("accepted connection", "remote_addr", sock.String(), "handle", h)
	s.metrics.Connected(s.table.Len())
}

// handleInput receives what the socket has and dispatches every complete
// frame. Frames completed before a receive error are still dispatched.
func (s *Server) handleInput(h chatsock.Handle, ep *chatsock.Endpoint) error {
	_, rerr := ep.Receive()

	for {
		b, ok := ep.Next()
		if !ok {
			break
		}
		obj, err := chat.DecodeFrame(b)
		b.Release()
		if err != nil {
			return err
		}
		s.dispatch(h, ep, obj)
	}

	if errors.Is(rerr, chatsock.ErrOutOfMemory) {
		s.logger.Error("unable to receive data", "handle", h, "error", rerr)
		return nil
	}
	return rerr
}

func (s *Server) dispatch(h chatsock.Handle, ep *chatsock.Endpoint, obj chat.Object) {
	s.metrics.FrameReceived(obj.Kind().String())

	switch o := obj.(type) {
	case chat.Message:
		name, ok := ep.Identity()
		if !ok {
			s.logger.Debug("message from endpoint that never joined", "handle", h)
			return
		}
		// The sender field is always the joined name, whatever the client wrote.
		o.Sender = name
		s.broadcast(o)

	case chat.MemberJoin:
		if err := ep.Bind(o.Sender); err != nil {
			s.logger.Debug("join ignored", "handle", h, "error", err)
			return
		}
		if err := s.roster.Join(h, o.Sender); err != nil {
			s.logger.Error("roster out of sync", "handle", h, "error", err)
			return
		}
		s.metrics.Members(s.roster.Len())
		s.logger.Info("chat member joined", "identity", o.Sender, "addr", ep.Addr())
		s.broadcast(o)

	case chat.MemberLeave:
		s.logger.Info("received an illegal chat object from client", "handle", h, "kind", o.Kind().String())
	}
}

// broadcast queues obj on every connected endpoint, the originator
// included. An endpoint whose queue is full misses the frame.
func (s *Server) broadcast(obj chat.Object) {
	b, err := chat.NewFrame(s.pool, obj)
	if err != nil {
		s.logger.Error("unable to build frame", "kind", obj.Kind().String(), "error", err)
		return
	}
	defer b.Release()

	s.table.Each(func(h chatsock.Handle, ep *chatsock.Endpoint) {
		if err := ep.Enqueue(b); err != nil {
			s.metrics.FrameDropped()
			s.logger.Error("frame dropped", "handle", h, "kind", obj.Kind().String(), "error", err)
		}
	})
}

// disconnect drops h, releases everything it held and tells the remaining
// members when a joined member is gone.
func (s *Server) disconnect(h chatsock.Handle, cause error) {
	ep, ok := s.table.Remove(h)
	if !ok {
		return
	}
	_ = ep.Close()

	reason := disconnectReason(cause)
	if reason == reasonPeerClosed {
		s.logger.Debug("peer closed connection", "handle", h)
	} else {
		s.logger.Error("dropping connection", "handle", h, "reason", reason, "error", cause)
	}
	s.metrics.Disconnected(reason)
	s.metrics.Connected(s.table.Len())

	name, joined := s.roster.Leave(h)
	if !joined {
		return
	}
	s.metrics.Members(s.roster.Len())
	s.logger.Info("chat member disconnected", "identity", name)
	s.broadcast(chat.MemberLeave{Sender: name})
}

func disconnectReason(err error) string {
	switch {
	case errors.Is(err, io.EOF):
		return reasonPeerClosed
	case errors.Is(err, chatsock.ErrFraming),
		errors.Is(err, chat.ErrFraming),
		errors.Is(err, chat.ErrFieldTooLong),
		errors.Is(err, chat.ErrUnknownType):
		return reasonProtocol
	default:
		return reasonIO
	}
}

// Members returns the names of every joined member.
// Call it from the goroutine running Serve, or after Serve has returned.
func (s *Server) Members() []string {
	return s.roster.Names()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close closes every endpoint and the listener. Serve calls it on the way
// out; to stop a running server cancel the context passed to Serve.
// Safe to call multiple times.
func (s *Server) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.handles = s.table.AppendHandles(s.handles[:0])
	for _, h := range s.handles {
		if ep, ok := s.table.Remove(h); ok {
			_ = ep.Close()
			s.roster.Leave(h)
			s.metrics.Disconnected(reasonShutdown)
		}
	}
	s.metrics.Connected(0)
	s.metrics.Members(0)

	_ = s.poller.Close()
	return s.listener.Close()
}
