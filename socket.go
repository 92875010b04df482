package chatsock

import (
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock reports that a non-blocking operation cannot make progress yet.
// It is a control-flow signal, not a failure.
var ErrWouldBlock = errors.New("chatsock: operation would block")

// Transport is the byte stream under an Endpoint.
// Read and Write never block; they return ErrWouldBlock instead.
// Read returns io.EOF once the peer has shut down.
type Transport interface {
	io.ReadWriteCloser
	// Fd returns the descriptor to poll for readiness.
	Fd() int
}

// Socket is a non-blocking TCP socket driven directly through its descriptor.
type Socket struct {
	fd     int
	remote net.Addr
	closed bool
}

func newSocket(fd int, remote net.Addr) (*Socket, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, os.NewSyscallError("setnonblock", err)
	}
	unix.CloseOnExec(fd)
	return &Socket{fd: fd, remote: remote}, nil
}

// Read reads whatever is available without blocking.
func (s *Socket) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case isWouldBlock(err):
			return 0, ErrWouldBlock
		case err != nil:
			return 0, os.NewSyscallError("read", err)
		case n == 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

// Write writes as much of p as the socket accepts without blocking.
func (s *Socket) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(s.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case isWouldBlock(err):
			return 0, ErrWouldBlock
		case err != nil:
			return 0, os.NewSyscallError("write", err)
		}
		return n, nil
	}
}

// Close closes the descriptor. Closing twice is a no-op.
func (s *Socket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return os.NewSyscallError("close", unix.Close(s.fd))
}

// Fd returns the socket descriptor.
func (s *Socket) Fd() int {
	return s.fd
}

// RemoteAddr returns the peer address.
func (s *Socket) RemoteAddr() net.Addr {
	return s.remote
}

// String returns the peer address, for logging.
func (s *Socket) String() string {
	if s.remote == nil {
		return "fd:" + strconv.Itoa(s.fd)
	}
	return s.remote.String()
}

// Dial connects to host:port and returns a non-blocking socket.
// Every resolved address is tried in order until one connects.
func Dial(host string, port int, timeout time.Duration) (*Socket, error) {
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, ip := range ips {
		s, err := dialIP(ip, port, timeout)
		if err == nil {
			return s, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = &net.AddrError{Err: "no addresses", Addr: host}
	}
	return nil, lastErr
}

func dialIP(ip net.IP, port int, timeout time.Duration) (*Socket, error) {
	family, sa := sockaddr(ip, port)
	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}

	s, err := newSocket(fd, &net.TCPAddr{IP: ip, Port: port})
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	if err := s.connect(sa, timeout); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// connect runs a non-blocking connect and waits for it to settle.
func (s *Socket) connect(sa unix.Sockaddr, timeout time.Duration) error {
	err := unix.Connect(s.fd, sa)
	switch err {
	case nil:
		return nil
	case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
	default:
		return os.NewSyscallError("connect", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		wait := -1
		if timeout > 0 {
			left := time.Until(deadline)
			if left <= 0 {
				return os.NewSyscallError("connect", unix.ETIMEDOUT)
			}
			wait = int(left / time.Millisecond)
		}

		fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(fds, wait)
		if err == unix.EINTR || n == 0 {
			continue
		}
		if err != nil {
			return os.NewSyscallError("poll", err)
		}

		soerr, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return os.NewSyscallError("getsockopt", err)
		}
		if soerr != 0 {
			return os.NewSyscallError("connect", unix.Errno(soerr))
		}
		return nil
	}
}

func isWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

func sockaddr(ip net.IP, port int) (int, unix.Sockaddr) {
	if ip4 := ip.To4(); ip4 != nil || ip == nil {
		sa := &unix.SockaddrInet4{Port: port}
		if ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return unix.AF_INET, sa
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.To16())
	return unix.AF_INET6, sa
}

func tcpAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), sa.Addr[:]...)), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), sa.Addr[:]...)), Port: sa.Port}
	}
	return nil
}
