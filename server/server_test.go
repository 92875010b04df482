package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/Zereker/chatsock"
	"github.com/Zereker/chatsock/chat"
)

// recordingMetrics keeps the last gauge values and every disconnect reason.
type recordingMetrics struct {
	mu          sync.Mutex
	connected   int
	members     int
	received    map[string]int
	dropped     int
	disconnects []string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{received: make(map[string]int)}
}

func (m *recordingMetrics) Connected(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = n
}

func (m *recordingMetrics) Members(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members = n
}

func (m *recordingMetrics) FrameReceived(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received[kind]++
}

func (m *recordingMetrics) FrameDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

func (m *recordingMetrics) Disconnected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects = append(m.disconnects, reason)
}

func (m *recordingMetrics) snapshot() (connected, members int, disconnects []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected, m.members, append([]string(nil), m.disconnects...)
}

func (m *recordingMetrics) droppedFrames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// startServer runs a server on an ephemeral loopback port until the test ends.
func startServer(t *testing.T, opts ...Option) (*Server, string) {
	t.Helper()

	opts = append([]Option{LoggerOption(chatsock.NopLogger{})}, opts...)
	srv, err := New(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after cancel")
		}
	})
	return srv, srv.Addr().String()
}

type testClient struct {
	t    *testing.T
	conn net.Conn
}

func dialClient(t *testing.T, addr string) *testClient {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(obj chat.Object) {
	c.t.Helper()

	frame, err := chat.Marshal(obj)
	if err != nil {
		c.t.Fatalf("Marshal failed: %v", err)
	}
	c.sendRaw(frame)
}

func (c *testClient) sendRaw(b []byte) {
	c.t.Helper()

	if _, err := c.conn.Write(b); err != nil {
		c.t.Fatalf("Write failed: %v", err)
	}
}

func (c *testClient) readFrame() (chat.Object, error) {
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var header [chatsock.HeaderSize]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return nil, err
	}
	n := int(header[0])<<8 | int(header[1])
	body := make([]byte, n-chatsock.HeaderSize)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return nil, err
	}
	return chat.Decode(body)
}

func (c *testClient) expect(want chat.Object) {
	c.t.Helper()

	got, err := c.readFrame()
	if err != nil {
		c.t.Fatalf("read failed waiting for %#v: %v", want, err)
	}
	if got != want {
		c.t.Fatalf("got %#v, want %#v", got, want)
	}
}

func (c *testClient) expectClosed() {
	c.t.Helper()

	if _, err := c.readFrame(); err == nil {
		c.t.Fatal("connection still open")
	}
}

// joinAll connects one client per name. Every client has seen every join
// that happened after it connected by the time joinAll returns.
func joinAll(t *testing.T, addr string, names ...string) []*testClient {
	t.Helper()

	var clients []*testClient
	for _, name := range names {
		c := dialClient(t, addr)
		c.send(chat.MemberJoin{Sender: name})
		clients = append(clients, c)
		for _, other := range clients {
			other.expect(chat.MemberJoin{Sender: name})
		}
	}
	return clients
}

func TestNew_AddressInUse(t *testing.T) {
	srv, _ := startServer(t)
	port := srv.Addr().(*net.TCPAddr).Port

	if _, err := New(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}); err == nil {
		t.Error("New on a bound port succeeded")
	}
}

func TestServer_JoinBroadcast(t *testing.T) {
	_, addr := startServer(t)
	joinAll(t, addr, "alice", "bob", "carol")
}

func TestServer_MessageFanOut(t *testing.T) {
	_, addr := startServer(t)
	c := joinAll(t, addr, "alice", "bob", "carol")

	c[0].send(chat.Message{Sender: "alice", Text: "hi all"})

	want := chat.Message{Sender: "alice", Text: "hi all"}
	for _, cl := range c {
		cl.expect(want)
	}
}

func TestServer_SenderOverwritten(t *testing.T) {
	_, addr := startServer(t)
	c := joinAll(t, addr, "alice", "bob")

	c[0].send(chat.Message{Sender: "mallory", Text: "trust me"})

	c[1].expect(chat.Message{Sender: "alice", Text: "trust me"})
	c[0].expect(chat.Message{Sender: "alice", Text: "trust me"})
}

func TestServer_MessageBeforeJoinIgnored(t *testing.T) {
	_, addr := startServer(t)
	c := joinAll(t, addr, "alice")

	lurker := dialClient(t, addr)
	lurker.send(chat.Message{Sender: "lurker", Text: "ignored"})
	lurker.send(chat.MemberJoin{Sender: "lurker"})

	c[0].expect(chat.MemberJoin{Sender: "lurker"})
	lurker.expect(chat.MemberJoin{Sender: "lurker"})
}

func TestServer_SecondJoinIgnored(t *testing.T) {
	_, addr := startServer(t)
	c := joinAll(t, addr, "alice", "bob")

	c[0].send(chat.MemberJoin{Sender: "impostor"})
	c[0].send(chat.Message{Sender: "alice", Text: "still me"})

	c[1].expect(chat.Message{Sender: "alice", Text: "still me"})
}

func TestServer_MemberLeaveFromClientIgnored(t *testing.T) {
	_, addr := startServer(t)
	c := joinAll(t, addr, "alice", "bob")

	c[0].send(chat.MemberLeave{Sender: "bob"})
	c[0].send(chat.Message{Sender: "alice", Text: "after leave"})

	c[1].expect(chat.Message{Sender: "alice", Text: "after leave"})
}

func TestServer_LeaveOnDisconnect(t *testing.T) {
	metrics := newRecordingMetrics()
	_, addr := startServer(t, MetricsOption(metrics))
	c := joinAll(t, addr, "alice", "bob")

	c[0].conn.Close()
	c[1].expect(chat.MemberLeave{Sender: "alice"})

	_, members, disconnects := metrics.snapshot()
	if members != 1 {
		t.Errorf("members = %d, want 1", members)
	}
	if len(disconnects) != 1 || disconnects[0] != reasonPeerClosed {
		t.Errorf("disconnects = %v, want [%s]", disconnects, reasonPeerClosed)
	}
}

func TestServer_UnjoinedDisconnectIsSilent(t *testing.T) {
	_, addr := startServer(t)
	c := joinAll(t, addr, "alice", "bob")

	lurker := dialClient(t, addr)
	lurker.conn.Close()

	c[0].send(chat.Message{Sender: "alice", Text: "anyone?"})
	c[1].expect(chat.Message{Sender: "alice", Text: "anyone?"})
}

func TestServer_MalformedFrameDisconnects(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"impossible length", []byte{0x00, 0x01}},
		{"oversized length", []byte{0xFF, 0xFF}},
		{"unknown tag", []byte{0x00, 0x03, 0x09}},
		{"missing terminator", []byte{0x00, 0x05, 0x00, 'h', 'i'}},
		{"empty body", []byte{0x00, 0x02}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := newRecordingMetrics()
			_, addr := startServer(t, MetricsOption(metrics))
			c := joinAll(t, addr, "alice", "bob")

			c[0].sendRaw(tt.frame)

			c[1].expect(chat.MemberLeave{Sender: "alice"})
			c[0].expectClosed()

			_, _, disconnects := metrics.snapshot()
			if len(disconnects) != 1 || disconnects[0] != reasonProtocol {
				t.Errorf("disconnects = %v, want [%s]", disconnects, reasonProtocol)
			}
		})
	}
}

func TestServer_Capacity(t *testing.T) {
	metrics := newRecordingMetrics()
	_, addr := startServer(t, MaxConnectionsOption(1), MetricsOption(metrics))
	c := joinAll(t, addr, "alice")

	extra := dialClient(t, addr)
	extra.expectClosed()

	c[0].send(chat.Message{Sender: "alice", Text: "still here"})
	c[0].expect(chat.Message{Sender: "alice", Text: "still here"})

	if connected, _, _ := metrics.snapshot(); connected != 1 {
		t.Errorf("connected = %d, want 1", connected)
	}
}

func TestServer_SlotReusedAfterDisconnect(t *testing.T) {
	_, addr := startServer(t, MaxConnectionsOption(1))
	c := joinAll(t, addr, "alice")

	c[0].conn.Close()

	// The server may not have noticed the close yet; retry until a new
	// client gets through.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		next := dialClient(t, addr)
		next.send(chat.MemberJoin{Sender: "bob"})
		if got, err := next.readFrame(); err == nil {
			if got != (chat.MemberJoin{Sender: "bob"}) {
				t.Fatalf("got %#v", got)
			}
			return
		}
		next.conn.Close()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("slot never freed")
}

func TestServer_FrameLargerThanOneRead(t *testing.T) {
	_, addr := startServer(t)
	c := joinAll(t, addr, "alice", "bob")

	text := make([]byte, chat.MaxTextLen)
	for i := range text {
		text[i] = 'a' + byte(i%26)
	}
	frame, err := chat.Marshal(chat.Message{Sender: "alice", Text: string(text)})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	for _, b := range frame {
		c[0].sendRaw([]byte{b})
	}
	c[1].expect(chat.Message{Sender: "alice", Text: string(text)})
}

func TestServer_ServeReturnsOnCancel(t *testing.T) {
	srv, err := New(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}, LoggerOption(chatsock.NopLogger{}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx)
	}()

	addr := srv.Addr().String()
	c := joinAll(t, addr, "alice")

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}

	c[0].expectClosed()
	if members := srv.Members(); len(members) != 0 {
		t.Errorf("Members() = %v after shutdown, want none", members)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestServer_SmallBufferPool(t *testing.T) {
	// Two live buffers cover one receive in progress plus one broadcast frame.
	pool := chatsock.NewBufferPool(2)
	_, addr := startServer(t, BufferPoolOption(pool))
	c := joinAll(t, addr, "alice")

	c[0].send(chat.Message{Sender: "alice", Text: "ping"})
	c[0].expect(chat.Message{Sender: "alice", Text: "ping"})
}

func TestServer_BroadcastDropsWhenQueueFull(t *testing.T) {
	metrics := newRecordingMetrics()
	_, addr := startServer(t, QueueDepthOption(1), MetricsOption(metrics))
	c := joinAll(t, addr, "alice", "bob")

	// With one slot per queue the second message is read while the first
	// still waits on alice's outbound queue. bob never reads.
	one, _ := chat.Marshal(chat.Message{Sender: "alice", Text: "one"})
	two, _ := chat.Marshal(chat.Message{Sender: "alice", Text: "two"})
	c[0].sendRaw(append(one, two...))

	c[0].expect(chat.Message{Sender: "alice", Text: "one"})

	deadline := time.Now().Add(5 * time.Second)
	for metrics.droppedFrames() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no frame dropped on a full queue")
		}
		time.Sleep(time.Millisecond)
	}

	// Dropping is not fatal to anyone.
	_, _, disconnects := metrics.snapshot()
	if len(disconnects) != 0 {
		t.Errorf("disconnects = %v, want none", disconnects)
	}
}

func TestDisconnectReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{io.EOF, reasonPeerClosed},
		{chatsock.ErrFraming, reasonProtocol},
		{chat.ErrFraming, reasonProtocol},
		{chat.ErrFieldTooLong, reasonProtocol},
		{chat.ErrUnknownType, reasonProtocol},
		{errors.New("connection reset"), reasonIO},
	}
	for _, tt := range tests {
		if got := disconnectReason(tt.err); got != tt.want {
			t.Errorf("disconnectReason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
