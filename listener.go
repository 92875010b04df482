package chatsock

import (
	"net"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// listenBacklog is the pending connection queue length passed to listen(2).
const listenBacklog = 16

// Listener is a non-blocking TCP listener.
// Accept never blocks; poll Fd for readability to learn when a
// connection is waiting.
type Listener struct {
	fd     int
	addr   net.Addr
	closed bool
}

// Listen binds a TCP listener to addr. A nil IP binds every IPv4 interface,
// port zero picks an ephemeral port.
func Listen(addr *net.TCPAddr) (*Listener, error) {
	var ip net.IP
	port := 0
	if addr != nil {
		ip, port = addr.IP, addr.Port
	}

	family, sa := sockaddr(ip, port)
	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, errors.Wrap(os.NewSyscallError("socket", err), "listen")
	}
	unix.CloseOnExec(fd)

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(os.NewSyscallError("setsockopt", err), "listen")
	}

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(os.NewSyscallError("bind", err), "listen on port %d", port)
	}

	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(os.NewSyscallError("listen", err), "listen")
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(os.NewSyscallError("setnonblock", err), "listen")
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(os.NewSyscallError("getsockname", err), "listen")
	}

	return &Listener{fd: fd, addr: tcpAddr(bound)}, nil
}

// Accept takes one pending connection off the backlog.
// It returns ErrWouldBlock when nothing is waiting.
func (l *Listener) Accept() (*Socket, error) {
	for {
		fd, sa, err := unix.Accept(l.fd)
		switch {
		case err == unix.EINTR:
			continue
		case isWouldBlock(err), err == unix.ECONNABORTED:
			return nil, ErrWouldBlock
		case err != nil:
			return nil, os.NewSyscallError("accept", err)
		}

		s, err := newSocket(fd, tcpAddr(sa))
		if err != nil {
			unix.Close(fd)
			return nil, err
		}
		return s, nil
	}
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.addr
}

// Fd returns the listening descriptor.
func (l *Listener) Fd() int {
	return l.fd
}

// Close stops listening. Closing twice is a no-op.
func (l *Listener) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	return os.NewSyscallError("close", unix.Close(l.fd))
}
