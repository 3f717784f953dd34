// Package rawsock wraps the syscalls behind a non-blocking TCP socket.
// net.Listener/net.Conn don't expose their file descriptors for use with an
// external readiness monitor, so the thread-per-request and cooperative
// server strategies — which each watch many connections through one evloop
// readiness monitor — talk to sockets at this level instead. Thread-per-client has no such need
// and uses the standard net package directly.
package rawsock

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// Listener is a non-blocking, unconnected listening socket.
type Listener struct {
	FD int
}

// Listen opens a non-blocking TCP listener on host:port. An empty host
// binds all interfaces.
func Listen(host string, port int) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("rawsock: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rawsock: setsockopt SO_REUSEADDR: %w", err)
	}

	addr, err := resolveIPv4(host)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	sa := &unix.SockaddrInet4{Port: port, Addr: addr}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rawsock: bind: %w", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rawsock: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rawsock: set nonblocking: %w", err)
	}

	return &Listener{FD: fd}, nil
}

// Accept tries to accept a pending connection. A nil Conn with a nil error
// means no connection was waiting (EAGAIN) — the caller should suspend on a
// ResourceTask{FD: l.FD, Want: Readable} and retry.
func (l *Listener) Accept() (*Conn, error) {
	nfd, _, err := unix.Accept(l.FD)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, nil
		}
		return nil, fmt.Errorf("rawsock: accept: %w", err)
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return nil, fmt.Errorf("rawsock: set nonblocking: %w", err)
	}
	return &Conn{FD: nfd}, nil
}

// Close releases the listening socket.
func (l *Listener) Close() error {
	return unix.Close(l.FD)
}

// Conn is a non-blocking, connected TCP socket.
type Conn struct {
	FD int
}

// Dial opens a non-blocking connection to host:port. The connect itself is
// started but may not complete synchronously; callers should suspend on a
// ResourceTask{FD, Want: Writable} and confirm success via SO_ERROR before
// using the Conn, mirroring how non-blocking connect works at the C level.
func Dial(host string, port int) (*Conn, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("rawsock: socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rawsock: set nonblocking: %w", err)
	}

	addr, err := resolveIPv4(host)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	sa := &unix.SockaddrInet4{Port: port, Addr: addr}
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, fmt.Errorf("rawsock: connect: %w", err)
	}

	return &Conn{FD: fd}, nil
}

// ConnectError returns the pending error on a socket mid non-blocking
// connect, once it becomes writable. nil means the connect succeeded.
func (c *Conn) ConnectError() error {
	errno, err := unix.GetsockoptInt(c.FD, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}

// Read behaves like a non-blocking read(2): 0 bytes and a nil error with
// ok=false means EAGAIN, the caller should suspend and retry. 0 bytes with
// ok=true is EOF.
func (c *Conn) Read(p []byte) (n int, ok bool, err error) {
	n, err = unix.Read(c.FD, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, false, nil
		}
		return 0, false, err
	}
	return n, true, nil
}

// Write behaves like a non-blocking write(2): ok=false means EAGAIN, the
// caller should suspend on a Writable ResourceTask and retry.
func (c *Conn) Write(p []byte) (n int, ok bool, err error) {
	n, err = unix.Write(c.FD, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, false, nil
		}
		return 0, false, err
	}
	return n, true, nil
}

// Close releases the connection.
func (c *Conn) Close() error {
	return unix.Close(c.FD)
}

func resolveIPv4(host string) ([4]byte, error) {
	var zero [4]byte
	if host == "" {
		return zero, nil
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return zero, fmt.Errorf("rawsock: resolve %q: %w", host, err)
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			var out [4]byte
			copy(out[:], v4)
			return out, nil
		}
	}
	return zero, fmt.Errorf("rawsock: %q has no IPv4 address", host)
}

// SplitHostPort splits a "host:port" string into its host and numeric
// port.
func SplitHostPort(hostport string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("rawsock: invalid port %q: %w", portStr, err)
	}
	return host, port, nil
}
