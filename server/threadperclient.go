package server

import (
	"errors"
	"net"
	"time"

	"github.com/kestrel-systems/frontproxy"
)

const clientIdleTimeout = 3 * time.Second

// ThreadPerClient is the simplest strategy: a blocking net.Listener hands
// each accepted connection to its own goroutine, Go's idiomatic stand-in
// for an OS thread per client. No shared mutable state crosses
// connections — each goroutine owns its socket outright.
type ThreadPerClient struct {
	cfg      Config
	listener net.Listener
}

func NewThreadPerClient(cfg Config) *ThreadPerClient {
	return &ThreadPerClient{cfg: cfg}
}

func (s *ThreadPerClient) Start() error {
	ln, err := net.Listen("tcp", s.cfg.addr())
	if err != nil {
		return err
	}
	s.listener = ln
	s.cfg.logf("thread-per-client listening on %s", s.cfg.addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.cfg.logf("accept error: %v", err)
			continue
		}
		go s.serveClient(conn)
	}
}

func (s *ThreadPerClient) Stop() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// serveClient runs the per-connection loop: read one request -> match ->
// handle -> write, until the client closes, the idle timeout fires, the
// connection resets, the pipe breaks, or parsing fails.
func (s *ThreadPerClient) serveClient(conn net.Conn) {
	defer conn.Close()

	for {
		conn.SetDeadline(time.Now().Add(clientIdleTimeout))

		if err := serveOnce(conn, s.cfg.Table, s.cfg.Stats); err != nil {
			if !errors.Is(err, frontproxy.ErrClientClosing) {
				s.cfg.logf("closing client: %v", err)
			}
			return
		}
	}
}
