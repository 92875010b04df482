package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Zereker/chatsock/server"
)

var _ server.Metrics = (*Collector)(nil)

func TestCollector_Gauges(t *testing.T) {
	c := New()

	c.Connected(3)
	c.Members(2)
	c.Connected(1)

	if got := testutil.ToFloat64(c.connected); got != 1 {
		t.Errorf("connected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.members); got != 2 {
		t.Errorf("members = %v, want 2", got)
	}
}

func TestCollector_Counters(t *testing.T) {
	c := New()

	c.FrameReceived("message")
	c.FrameReceived("message")
	c.FrameReceived("member_join")
	c.FrameDropped()
	c.Disconnected("protocol")

	if got := testutil.ToFloat64(c.frames.WithLabelValues("message")); got != 2 {
		t.Errorf("message frames = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.frames.WithLabelValues("member_join")); got != 1 {
		t.Errorf("join frames = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.dropped); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.disconnects.WithLabelValues("protocol")); got != 1 {
		t.Errorf("protocol disconnects = %v, want 1", got)
	}
}

func TestCollector_Registry(t *testing.T) {
	c := New()
	c.FrameDropped()

	n, err := testutil.GatherAndCount(c.Registry(), "chat_frames_dropped_total")
	if err != nil {
		t.Fatalf("GatherAndCount failed: %v", err)
	}
	if n != 1 {
		t.Errorf("GatherAndCount = %d, want 1", n)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.Connected(5)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "chat_connected_endpoints 5") {
		t.Errorf("exposition missing gauge:\n%s", body)
	}
}
