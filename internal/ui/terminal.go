// Package ui is the line-oriented terminal the chat client reads typed
// messages from and prints chat traffic to.
package ui

import (
	"bytes"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/Zereker/chatsock/client"
)

// maxLineLen bounds how much unterminated input is buffered before it is
// handed over as a line of its own.
const maxLineLen = 4096

var (
	joinStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	leaveStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	timeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Terminal implements client.UI over a pair of files.
type Terminal struct {
	in  *os.File
	fd  int
	out io.Writer

	color      bool
	timestamps bool
	now        func() time.Time

	mu      sync.Mutex // guards out
	buf     []byte
	lines   []string
	eof     bool
	restore bool
}

// Option configures a Terminal.
type Option func(*Terminal)

// ColorOption forces colored output on or off.
func ColorOption(on bool) Option {
	return func(t *Terminal) {
		t.color = on
	}
}

// TimestampOption prefixes every displayed line with the local time.
func TimestampOption(on bool) Option {
	return func(t *Terminal) {
		t.timestamps = on
	}
}

// New switches in to non-blocking mode and returns a terminal reading from
// it. Color defaults to on when out is a terminal.
func New(in *os.File, out io.Writer, opts ...Option) (*Terminal, error) {
	// Fd puts the file in blocking mode, so take it before SetNonblock.
	fd := int(in.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, os.NewSyscallError("setnonblock", err)
	}

	t := &Terminal{
		in:      in,
		fd:      fd,
		out:     out,
		color:   isTerminal(out),
		now:     time.Now,
		restore: true,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Fd returns the input descriptor.
func (t *Terminal) Fd() int {
	return t.fd
}

// ReadLine returns the next complete input line without its newline.
// ok is false when only part of a line has arrived. Once the input is
// exhausted any unterminated tail is returned, then io.EOF.
func (t *Terminal) ReadLine() (string, bool, error) {
	if len(t.lines) == 0 && !t.eof {
		if err := t.fill(); err != nil {
			return "", false, err
		}
	}

	if len(t.lines) > 0 {
		line := t.lines[0]
		t.lines = t.lines[1:]
		return line, true, nil
	}
	if t.eof {
		if len(t.buf) > 0 {
			line := string(t.buf)
			t.buf = t.buf[:0]
			return line, true, nil
		}
		return "", false, io.EOF
	}
	return "", false, nil
}

// fill reads what is available and splits it into lines.
func (t *Terminal) fill() error {
	var chunk [1024]byte
	for {
		n, err := unix.Read(t.fd, chunk[:])
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return nil
		case err != nil:
			return os.NewSyscallError("read", err)
		case n == 0:
			t.eof = true
			return nil
		}

		t.buf = append(t.buf, chunk[:n]...)
		for {
			i := bytes.IndexByte(t.buf, '\n')
			if i < 0 {
				break
			}
			t.lines = append(t.lines, string(t.buf[:i]))
			t.buf = t.buf[i+1:]
		}
		if len(t.buf) >= maxLineLen {
			t.lines = append(t.lines, string(t.buf))
			t.buf = t.buf[:0]
		}
		if len(t.lines) > 0 {
			return nil
		}
	}
}

// Append prints one line styled by category.
func (t *Terminal) Append(c client.Category, text string) {
	line := t.render(c, text)
	if t.timestamps {
		stamp := t.now().Format("15:04:05")
		if t.color {
			stamp = timeStyle.Render(stamp)
		}
		line = stamp + " " + line
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	io.WriteString(t.out, line+"\n")
}

func (t *Terminal) render(c client.Category, text string) string {
	if !t.color {
		return text
	}
	switch c {
	case client.CategoryJoin:
		return joinStyle.Render(text)
	case client.CategoryLeave:
		return leaveStyle.Render(text)
	case client.CategoryNotice:
		return noticeStyle.Render(text)
	case client.CategoryError:
		return errorStyle.Render(text)
	default:
		return text
	}
}

// Close puts the input back in blocking mode. The files stay open.
func (t *Terminal) Close() error {
	if !t.restore {
		return nil
	}
	t.restore = false
	return os.NewSyscallError("setnonblock", unix.SetNonblock(t.fd, false))
}
