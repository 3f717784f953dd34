package server

import (
	"github.com/kestrel-systems/frontproxy"
	"github.com/kestrel-systems/frontproxy/pkg/evloop"
	"github.com/kestrel-systems/frontproxy/pkg/rawsock"
)

// Cooperative is the single-threaded strategy: the listener and every
// client socket are non-blocking, and a evloop.Loop drives two kinds of
// long-lived computation — the accept loop and, per client, the request
// loop — so exactly one of them ever runs at a time. See design notes for
// why AsyncHandler completions write back to the client socket directly
// (themselves cooperative) instead of routing through the request loop.
type Cooperative struct {
	cfg  Config
	ln   *rawsock.Listener
	loop *evloop.Loop
}

func NewCooperative(cfg Config) *Cooperative {
	return &Cooperative{cfg: cfg}
}

func (s *Cooperative) Start() error {
	ln, err := rawsock.Listen(s.cfg.Host, s.cfg.Port)
	if err != nil {
		return err
	}
	s.ln = ln

	loop, err := evloop.New()
	if err != nil {
		ln.Close()
		return err
	}
	s.loop = loop
	loop.OnError = func(c evloop.Computation, err error) {
		s.cfg.logf("computation failed: %v", err)
	}

	s.cfg.logf("cooperative listening on %s", s.cfg.addr())

	if err := loop.Spawn(&acceptComputation{server: s}); err != nil {
		return err
	}
	return loop.Run()
}

func (s *Cooperative) Stop() error {
	if s.loop != nil {
		s.loop.Close()
	}
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

// acceptComputation is the long-lived listener loop: wait readable,
// accept everything pending, spawn a requestComputation per new client,
// then yield readable again — forever.
type acceptComputation struct {
	server *Cooperative
}

func (a *acceptComputation) Step() (evloop.Task, error) {
	for {
		conn, err := a.server.ln.Accept()
		if err != nil {
			return nil, err
		}
		if conn == nil {
			break
		}
		a.server.loop.Spawn(newRequestComputation(conn, a.server))
	}
	return &evloop.ResourceTask{FD: a.server.ln.FD, Want: evloop.Readable}, nil
}

// requestComputation drives one request cycle on a client connection:
// wait readable, read, parse, dispatch. A synchronous handler's response
// is written by a chained writeComputation; an AsyncHandler's Computation
// is spawned standalone and writes the client socket itself on
// completion, per the handler's contract.
type requestComputation struct {
	conn   *rawsock.Conn
	server *Cooperative
}

func newRequestComputation(conn *rawsock.Conn, server *Cooperative) *requestComputation {
	return &requestComputation{conn: conn, server: server}
}

func (r *requestComputation) Step() (evloop.Task, error) {
	buf := make([]byte, maxRequestSize)
	n, ok, err := r.conn.Read(buf)
	if err != nil {
		r.conn.Close()
		return nil, err
	}
	if !ok {
		return &evloop.ResourceTask{FD: r.conn.FD, Want: evloop.Readable}, nil
	}
	if n == 0 {
		r.conn.Close()
		return nil, nil
	}

	req, err := frontproxy.ParseRequest(buf[:n])
	if err != nil {
		r.deliverAndClose(frontproxy.NewResponse(400, []byte("malformed request")))
		return nil, nil
	}
	r.server.cfg.Stats.RecordRequest(n)

	sync, async, matched := r.server.cfg.AsyncTable.Dispatch(req)
	switch {
	case !matched:
		r.deliverAndContinue(frontproxy.NewResponse(400, []byte("no handler matched this request")))
	case sync != nil:
		resp := sync.Handle(req)
		if resp == nil {
			r.conn.Close()
			return nil, nil
		}
		r.deliverAndContinue(resp)
	case async != nil:
		client := &clientConn{conn: r.conn, loop: r.server.loop, server: r.server}
		r.server.loop.Spawn(async.HandleAsync(req, client))
	}

	return nil, nil
}

// deliverAndContinue writes resp, then on completion spawns a fresh
// requestComputation for the next request on the same connection.
func (r *requestComputation) deliverAndContinue(resp *frontproxy.Response) {
	raw := resp.Serialize()
	r.server.loop.Spawn(&writeComputation{
		conn:    r.conn,
		pending: raw,
		onDone: func() {
			r.server.cfg.Stats.RecordResponse(len(raw))
			r.server.loop.Spawn(newRequestComputation(r.conn, r.server))
		},
	})
}

// deliverAndClose writes resp then closes the connection — used for the
// malformed-request path, which per design is diagnostic-then-close.
func (r *requestComputation) deliverAndClose(resp *frontproxy.Response) {
	raw := resp.Serialize()
	r.server.loop.Spawn(&writeComputation{
		conn:    r.conn,
		pending: raw,
		onDone: func() {
			r.server.cfg.Stats.RecordResponse(len(raw))
			r.conn.Close()
		},
	})
}

// writeComputation sends pending to conn, suspending on writable for each
// partial send, and calls onDone once every byte is flushed. If the write
// fails, onDone is skipped and the connection is closed.
type writeComputation struct {
	conn    *rawsock.Conn
	pending []byte
	onDone  func()
}

func (w *writeComputation) Step() (evloop.Task, error) {
	for len(w.pending) > 0 {
		n, ok, err := w.conn.Write(w.pending)
		if err != nil {
			w.conn.Close()
			return nil, err
		}
		if !ok {
			return &evloop.ResourceTask{FD: w.conn.FD, Want: evloop.Writable}, nil
		}
		w.pending = w.pending[n:]
	}
	w.onDone()
	return nil, nil
}

// clientConn adapts a cooperative client connection to the
// frontproxy.ResponseWriter interface an AsyncHandler's Computation uses
// to deliver its eventual result. Delivery resumes the per-client request
// loop exactly the way a synchronous handler's response does, via
// writeComputation's onDone; failure closes the client connection.
type clientConn struct {
	conn   *rawsock.Conn
	loop   *evloop.Loop
	server *Cooperative
}

func (c *clientConn) Deliver(resp *frontproxy.Response) {
	raw := resp.Serialize()
	c.loop.Spawn(&writeComputation{
		conn:    c.conn,
		pending: raw,
		onDone: func() {
			c.server.cfg.Stats.RecordResponse(len(raw))
			c.loop.Spawn(newRequestComputation(c.conn, c.server))
		},
	})
}

func (c *clientConn) Fail(err error) {
	c.conn.Close()
}
