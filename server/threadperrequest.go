package server

import (
	"sync"
	"time"

	"github.com/kestrel-systems/frontproxy"
	"github.com/kestrel-systems/frontproxy/pkg/evloop"
	"github.com/kestrel-systems/frontproxy/pkg/rawsock"
)

// requestWorkers sizes the dispatch pool. The original's worker count was
// tied to its proxy-capacity model; this server has no analogous signal,
// so a fixed pool is used instead — large enough that a slow handler
// (e.g. the reverse proxy) doesn't stall the whole pool, small enough to
// bound concurrent upstream connections.
const requestWorkers = 64

// ThreadPerRequest is the dispatcher-plus-worker-pool strategy: one main
// loop owns a readiness monitor over the non-blocking listener and every
// non-blocking client socket; workers handle one read->match->handle->
// write cycle per dispatch. The in-service set stops the level-triggered
// monitor from redispatching a socket a worker still holds — see
// §4.4.2/§9 for why an edge-triggered monitor would make this set
// unnecessary; this implementation keeps epoll's default level-triggered
// behavior and the set it requires, so the choice is explicit rather than
// accidental.
type ThreadPerRequest struct {
	cfg     Config
	monitor *evloop.Monitor
	ln      *rawsock.Listener

	mu         sync.Mutex
	clients    map[int]*rawsock.Conn
	inService  map[int]bool
	stopSignal chan struct{}
}

func NewThreadPerRequest(cfg Config) *ThreadPerRequest {
	return &ThreadPerRequest{
		cfg:        cfg,
		clients:    make(map[int]*rawsock.Conn),
		inService:  make(map[int]bool),
		stopSignal: make(chan struct{}),
	}
}

func (s *ThreadPerRequest) Start() error {
	ln, err := rawsock.Listen(s.cfg.Host, s.cfg.Port)
	if err != nil {
		return err
	}
	s.ln = ln

	monitor, err := evloop.NewMonitor()
	if err != nil {
		ln.Close()
		return err
	}
	s.monitor = monitor
	if err := s.monitor.Add(s.ln.FD, evloop.Readable); err != nil {
		return err
	}
	s.cfg.logf("thread-per-request listening on %s", s.cfg.addr())

	jobs := make(chan int, requestWorkers)
	for i := 0; i < requestWorkers; i++ {
		go s.worker(jobs)
	}
	defer close(jobs)

	for {
		select {
		case <-s.stopSignal:
			return nil
		default:
		}

		ready, err := s.monitor.Wait(-1)
		if err != nil {
			return err
		}

		for fd := range ready {
			if fd == s.ln.FD {
				s.acceptAll()
				continue
			}

			s.mu.Lock()
			if s.inService[fd] {
				s.mu.Unlock()
				continue
			}
			s.inService[fd] = true
			s.mu.Unlock()

			jobs <- fd
		}
	}
}

func (s *ThreadPerRequest) Stop() error {
	close(s.stopSignal)
	if s.monitor != nil {
		s.monitor.Close()
	}
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

// acceptAll drains every pending connection on one listener-readiness
// notification: edge or level triggered, a single Accept per wakeup would
// leave a backlog of already-arrived connections unserved until the next
// unrelated readiness event.
func (s *ThreadPerRequest) acceptAll() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.cfg.logf("accept error: %v", err)
			return
		}
		if conn == nil {
			return
		}

		if err := s.monitor.Add(conn.FD, evloop.Readable); err != nil {
			conn.Close()
			continue
		}

		s.mu.Lock()
		s.clients[conn.FD] = conn
		s.mu.Unlock()
	}
}

// worker drains dispatch jobs: one request-handling cycle per job, then
// releases the socket back to the monitor (still registered, just no
// longer in-service) or tears it down on close/error.
func (s *ThreadPerRequest) worker(jobs <-chan int) {
	for fd := range jobs {
		s.mu.Lock()
		conn := s.clients[fd]
		s.mu.Unlock()
		if conn == nil {
			continue
		}

		if err := s.serveRequest(conn); err != nil {
			s.closeClient(conn)
			continue
		}

		s.mu.Lock()
		delete(s.inService, fd)
		s.mu.Unlock()
	}
}

func (s *ThreadPerRequest) serveRequest(conn *rawsock.Conn) error {
	buf := make([]byte, maxRequestSize)
	n, ok, err := conn.Read(buf)
	if err != nil {
		return err
	}
	if !ok {
		// spurious dispatch: readiness fired but the read would still
		// block. Leave in-service cleared by the caller's next pass.
		return nil
	}
	if n == 0 {
		return frontproxy.ErrClientClosing
	}

	req, err := frontproxy.ParseRequest(buf[:n])
	if err != nil {
		return err
	}
	s.cfg.Stats.RecordRequest(n)

	handler, matched := s.cfg.Table.Dispatch(req)
	var resp *frontproxy.Response
	if !matched {
		resp = frontproxy.NewResponse(400, []byte("no handler matched this request"))
	} else {
		resp = handler.Handle(req)
		if resp == nil {
			return frontproxy.ErrUpstreamUnavailable
		}
	}

	return rawWriteAll(conn, resp.Serialize(), s.cfg.Stats)
}

func (s *ThreadPerRequest) closeClient(conn *rawsock.Conn) {
	s.monitor.Remove(conn.FD, evloop.Readable)
	s.mu.Lock()
	delete(s.clients, conn.FD)
	delete(s.inService, conn.FD)
	s.mu.Unlock()
	conn.Close()
}

// rawWriteAll retries a non-blocking write until every byte is sent.
// There is no shared monitor registration for this retry loop (the
// worker goroutine isn't the dispatcher), so a blocked write backs off
// briefly rather than busy-spinning.
func rawWriteAll(conn *rawsock.Conn, data []byte, stats *frontproxy.Stats) error {
	sent := 0
	for len(data) > 0 {
		n, ok, err := conn.Write(data)
		if err != nil {
			return err
		}
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		data = data[n:]
		sent += n
	}
	stats.RecordResponse(sent)
	return nil
}
