// Package client runs the chat client loop: it polls the user's input and
// the server connection, turns typed lines into chat messages and hands
// everything the server sends to the display.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/Zereker/chatsock"
	"github.com/Zereker/chatsock/chat"
)

// ErrServerClosed is returned by Run when the server connection is lost.
var ErrServerClosed = errors.New("client: server connection closed")

// ErrInvalidUsername is returned for an empty or oversized username.
var ErrInvalidUsername = errors.New("client: invalid username")

// Category tells the display how to present a line.
type Category int

const (
	CategoryMessage Category = iota
	CategoryJoin
	CategoryLeave
	CategoryNotice
	CategoryError
)

// UI is the terminal collaborator.
type UI interface {
	// Fd returns the input descriptor to poll for readability.
	Fd() int
	// ReadLine returns one completed input line without blocking.
	// ok is false when no complete line is available yet; io.EOF means
	// the input is exhausted.
	ReadLine() (line string, ok bool, err error)
	// Append adds a line to the display.
	Append(c Category, text string)
}

// Client is one chat session. It is driven by a single goroutine in Run.
type Client struct {
	ep       *chatsock.Endpoint
	ui       UI
	username string
	poller   *chatsock.Poller
	pool     *chatsock.BufferPool
	logger   chatsock.Logger
	opts     options
}

// Dial connects to the server at address:port and joins as username.
func Dial(address string, port int, username string, ui UI, opts ...Option) (*Client, error) {
	o := newOptions(opts)
	if err := checkUsername(username); err != nil {
		return nil, err
	}

	sock, err := chatsock.Dial(address, port, o.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to %s:%d: %w", address, port, err)
	}

	c, err := newClient(sock, username, ui, o)
	if err != nil {
		sock.Close()
		return nil, err
	}
	return c, nil
}

// New starts a session over an already connected non-blocking transport.
func New(t chatsock.Transport, username string, ui UI, opts ...Option) (*Client, error) {
	if err := checkUsername(username); err != nil {
		return nil, err
	}
	return newClient(t, username, ui, newOptions(opts))
}

func newClient(t chatsock.Transport, username string, ui UI, o options) (*Client, error) {
	poller, err := chatsock.NewPoller()
	if err != nil {
		return nil, err
	}

	c := &Client{
		ep: chatsock.NewEndpoint(t,
			chatsock.QueueDepthOption(o.queueDepth),
			chatsock.BufferPoolOption(o.pool),
			chatsock.LoggerOption(o.logger),
		),
		ui:       ui,
		username: username,
		poller:   poller,
		pool:     o.pool,
		logger:   o.logger,
		opts:     o,
	}

	// The server ignores messages until it has seen a join.
	if err := c.send(chat.MemberJoin{Sender: username}); err != nil {
		poller.Close()
		return nil, err
	}
	return c, nil
}

// Run drives the session until the server goes away, the input ends or
// ctx is canceled. Input ending is a normal exit: lines still queued are
// sent, then Run returns nil.
func (c *Client) Run(ctx context.Context) error {
	c.logger.Info("connected", "addr", c.ep.Addr(), "username", c.username)

	stop := context.AfterFunc(ctx, func() {
		_ = c.poller.Wake()
	})
	defer stop()

	inputDone := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if inputDone && !c.ep.WantsWrite() {
			return nil
		}

		c.poller.Reset()
		inSlot := -1
		if !inputDone {
			inSlot = c.poller.Add(c.ui.Fd(), chatsock.PollIn)
		}
		events := chatsock.PollIn
		if c.ep.WantsWrite() {
			events |= chatsock.PollOut
		}
		srvSlot := c.poller.Add(c.ep.Fd(), events)

		n, err := c.poller.Wait(-1)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}

		if inSlot >= 0 && c.poller.Ready(inSlot).Readable() {
			if err := c.handleUserInput(); err != nil {
				if !errors.Is(err, io.EOF) {
					return err
				}
				c.logger.Info("input closed", "pending", c.ep.Pending())
				inputDone = true
			}
		}

		ready := c.poller.Ready(srvSlot)
		if ready.Readable() {
			if err := c.handleServerInput(); err != nil {
				return err
			}
		}
		if ready.Writable() {
			if _, err := c.ep.Flush(); err != nil {
				return fmt.Errorf("%w: %v", ErrServerClosed, err)
			}
		}
	}
}

// Close closes the connection and releases everything queued on it.
func (c *Client) Close() error {
	err := c.ep.Close()
	c.poller.Close()
	return err
}

func (c *Client) handleUserInput() error {
	for {
		line, ok, err := c.ui.ReadLine()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		text := truncate(strings.TrimRight(line, "\r\n"), chat.MaxTextLen)
		if text == "" {
			continue
		}

		err = c.send(chat.Message{Sender: c.username, Text: text})
		switch {
		case errors.Is(err, chatsock.ErrQueueFull):
			c.ui.Append(CategoryError, "message not sent: send queue is full")
		case err != nil:
			c.ui.Append(CategoryError, "message not sent: "+err.Error())
		}
	}
}

func (c *Client) handleServerInput() error {
	_, rerr := c.ep.Receive()

	for {
		b, ok := c.ep.Next()
		if !ok {
			break
		}
		obj, err := chat.DecodeFrame(b)
		b.Release()
		if err != nil {
			c.logger.Error("received corrupted message", "error", err)
			return fmt.Errorf("%w: %v", ErrServerClosed, err)
		}
		c.display(obj)
	}

	switch {
	case rerr == nil:
		return nil
	case errors.Is(rerr, chatsock.ErrOutOfMemory):
		c.logger.Error("unable to receive data", "error", rerr)
		return nil
	case errors.Is(rerr, io.EOF):
		return ErrServerClosed
	default:
		return fmt.Errorf("%w: %v", ErrServerClosed, rerr)
	}
}

func (c *Client) display(obj chat.Object) {
	switch o := obj.(type) {
	case chat.Message:
		c.ui.Append(CategoryMessage, o.Sender+": "+o.Text)
	case chat.MemberJoin:
		c.ui.Append(CategoryJoin, o.Sender+" joined the chat")
	case chat.MemberLeave:
		c.ui.Append(CategoryLeave, o.Sender+" left the chat")
	}
}

// send encodes obj and queues it for the server.
func (c *Client) send(obj chat.Object) error {
	b, err := chat.NewFrame(c.pool, obj)
	if err != nil {
		return err
	}
	defer b.Release()
	return c.ep.Enqueue(b)
}

func checkUsername(name string) error {
	if name == "" || len(name) > chat.MaxSenderLen || strings.IndexByte(name, 0) >= 0 {
		return ErrInvalidUsername
	}
	return nil
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
