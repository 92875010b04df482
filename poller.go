package chatsock

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Events is a readiness bit set as reported by poll(2).
type Events int16

// Interest flags for Poller.Add.
const (
	PollIn  Events = unix.POLLIN
	PollOut Events = unix.POLLOUT
)

// Readable reports whether a read will make progress. Hangups and errors
// count as readable so the read itself surfaces the condition.
func (e Events) Readable() bool {
	return e&(unix.POLLIN|unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0
}

// Writable reports whether a write will make progress.
func (e Events) Writable() bool {
	return e&unix.POLLOUT != 0
}

// Poller waits for readiness on a set of descriptors rebuilt every round.
//
// Slot zero is always a wake pipe: Wake may be called from any goroutine
// to cut a pending Wait short. Everything else is owned by the goroutine
// running the loop.
type Poller struct {
	fds []unix.PollFd

	mu     sync.Mutex
	wakeR  int
	wakeW  int
	closed bool
}

// NewPoller creates a poller and its wake pipe.
func NewPoller() (*Poller, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, os.NewSyscallError("pipe", err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, os.NewSyscallError("setnonblock", err)
		}
	}

	pl := &Poller{wakeR: p[0], wakeW: p[1]}
	pl.Reset()
	return pl, nil
}

// Reset empties the interest set, keeping only the wake pipe.
func (p *Poller) Reset() {
	p.fds = append(p.fds[:0], unix.PollFd{Fd: int32(p.wakeR), Events: unix.POLLIN})
}

// Add registers interest in fd and returns its slot for Ready.
func (p *Poller) Add(fd int, events Events) int {
	p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: int16(events)})
	return len(p.fds) - 1
}

// Wait blocks until a registered descriptor is ready, Wake is called or
// timeoutMs elapses (negative waits forever). It returns the number of
// ready slots, not counting the wake pipe. A signal interrupting the wait
// is reported as zero ready slots.
func (p *Poller) Wait(timeoutMs int) (int, error) {
	n, err := unix.Poll(p.fds, timeoutMs)
	if err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return 0, os.NewSyscallError("poll", err)
	}

	if p.fds[0].Revents != 0 {
		p.drain()
		n--
	}
	return n, nil
}

// Ready returns the events reported for slot i by the last Wait.
func (p *Poller) Ready(i int) Events {
	if i <= 0 || i >= len(p.fds) {
		return 0
	}
	return Events(p.fds[i].Revents)
}

// Wake interrupts a pending or upcoming Wait. Safe for concurrent use.
func (p *Poller) Wake() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	_, err := unix.Write(p.wakeW, []byte{1})
	if err != nil && !isWouldBlock(err) {
		return os.NewSyscallError("write", err)
	}
	return nil
}

// Close releases the wake pipe.
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	unix.Close(p.wakeW)
	return os.NewSyscallError("close", unix.Close(p.wakeR))
}

func (p *Poller) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(p.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}
