package chatsock

import (
	"log/slog"
	"testing"
)

func TestLogger_Interface(t *testing.T) {
	// *slog.Logger satisfies Logger without an adapter.
	var _ Logger = slog.Default()
	var _ Logger = NopLogger{}
}

func TestDefaultLogger(t *testing.T) {
	logger := defaultLogger()

	if logger == nil {
		t.Fatal("defaultLogger returned nil")
	}
	if logger != slog.Default() {
		t.Error("defaultLogger did not return slog.Default()")
	}
	if DefaultLogger() != logger {
		t.Error("DefaultLogger and defaultLogger disagree")
	}
}

// mockLogger records the last call per level.
type mockLogger struct {
	calls    map[string]int
	lastMsg  string
	lastArgs []any
}

func (l *mockLogger) record(level, msg string, args []any) {
	if l.calls == nil {
		l.calls = make(map[string]int)
	}
	l.calls[level]++
	l.lastMsg = msg
	l.lastArgs = args
}

func (l *mockLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }
func (l *mockLogger) Info(msg string, args ...any)  { l.record("info", msg, args) }
func (l *mockLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args) }
func (l *mockLogger) Error(msg string, args ...any) { l.record("error", msg, args) }

func TestEndpoint_LogsReadErrors(t *testing.T) {
	logger := &mockLogger{}
	ft := &fakeTransport{input: []byte{0x00, 0x01}}
	ep := NewEndpoint(ft, LoggerOption(logger), BufferPoolOption(NewBufferPool(0)))
	defer ep.Close()

	if _, err := ep.Receive(); err == nil {
		t.Fatal("Receive accepted a bad header")
	}
	if logger.calls["debug"] != 1 || logger.lastMsg != "read error" {
		t.Errorf("calls = %v, last = %q", logger.calls, logger.lastMsg)
	}
	if len(logger.lastArgs) != 4 || logger.lastArgs[0] != "addr" || logger.lastArgs[2] != "error" {
		t.Errorf("args = %v", logger.lastArgs)
	}
}

func TestEndpoint_PeerCloseIsNotLogged(t *testing.T) {
	logger := &mockLogger{}
	ft := &fakeTransport{eof: true}
	ep := NewEndpoint(ft, LoggerOption(logger), BufferPoolOption(NewBufferPool(0)))
	defer ep.Close()

	ep.Receive()
	if logger.calls["debug"] != 0 {
		t.Errorf("peer close logged: %v", logger.calls)
	}
}

func TestNopLogger(t *testing.T) {
	var logger Logger = NopLogger{}

	logger.Debug("dropped", "key", "value")
	logger.Info("dropped")
	logger.Warn("dropped")
	logger.Error("dropped", "error", nil)
}
