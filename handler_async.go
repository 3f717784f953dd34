package frontproxy

import (
	"math/rand"
	"sync"
	"time"

	"github.com/kestrel-systems/frontproxy/pkg/evloop"
	"github.com/kestrel-systems/frontproxy/pkg/rawsock"
)

// AsyncReverseProxyHandler is the cooperative-strategy counterpart of
// ReverseProxyHandler: connect, send, and receive are each a suspension
// point instead of a blocking call, expressed as a evloop.Computation so
// the single-threaded scheduler never stalls on a slow upstream.
type AsyncReverseProxyHandler struct {
	Host string
	Port int
}

func (h *AsyncReverseProxyHandler) HandleAsync(r *Request, client ResponseWriter) evloop.Computation {
	return newProxyComputation(h.Host, h.Port, r.Raw, client)
}

// AsyncLoadBalancerHandler mirrors LoadBalancerHandler's selection logic
// but hands the chosen upstream to the same suspendable proxy computation.
type AsyncLoadBalancerHandler struct {
	Strategy  BalanceStrategy
	Upstreams []Upstream

	// Stats mirrors LoadBalancerHandler.Stats: set it to tally this
	// handler's upstream picks, the cooperative-strategy side of the
	// reinstated server-callback hook.
	Stats *Stats

	index uint64
	rng   *rand.Rand
	m     sync.Mutex
}

func NewAsyncLoadBalancerHandler(strategy BalanceStrategy, upstreams []Upstream) *AsyncLoadBalancerHandler {
	return &AsyncLoadBalancerHandler{
		Strategy:  strategy,
		Upstreams: upstreams,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (h *AsyncLoadBalancerHandler) HandleAsync(r *Request, client ResponseWriter) evloop.Computation {
	upstream, err := h.selectUpstream()
	if err != nil {
		client.Fail(err)
		return noopComputation{}
	}
	if h.Stats != nil {
		h.Stats.RecordUpstreamSelection(upstreamKey(upstream))
	}
	return newProxyComputation(upstream.Host, upstream.Port, r.Raw, client)
}

func (h *AsyncLoadBalancerHandler) selectUpstream() (Upstream, error) {
	if len(h.Upstreams) == 0 {
		return Upstream{}, ErrUpstreamUnavailable
	}

	switch h.Strategy {
	case RoundRobin:
		h.m.Lock()
		i := h.index
		h.index++
		h.m.Unlock()
		return h.Upstreams[int(i%uint64(len(h.Upstreams)))], nil
	case Weighted:
		h.m.Lock()
		sample := h.rng.Float64()
		h.m.Unlock()
		for _, u := range h.Upstreams {
			if sample >= u.Lo && sample < u.Hi {
				return u, nil
			}
		}
		return Upstream{}, ErrNoRangeMatched
	default:
		return Upstream{}, ErrUpstreamUnavailable
	}
}

// noopComputation finishes immediately; used when selection fails before a
// socket was ever opened, so there's nothing left to suspend on.
type noopComputation struct{}

func (noopComputation) Step() (evloop.Task, error) { return nil, nil }

// proxyComputation is the state machine behind "open -> write -> read ->
// forward to client", advanced by successive Step calls. Each state
// either completes synchronously (falls through to the next state in the
// same Step) or returns a ResourceTask and waits for the scheduler to
// resume it once that fd is ready.
type proxyComputation struct {
	client ResponseWriter
	host   string
	port   int

	conn    *rawsock.Conn
	state   proxyState
	pending []byte // remaining bytes of the request still to send
}

type proxyState int

const (
	stateConnecting proxyState = iota
	stateSending
	stateReceiving
	stateDone
)

func newProxyComputation(host string, port int, raw []byte, client ResponseWriter) *proxyComputation {
	return &proxyComputation{
		client:  client,
		pending: raw,
		state:   stateConnecting,
		host:    host,
		port:    port,
	}
}

func (c *proxyComputation) Step() (evloop.Task, error) {
	for {
		switch c.state {
		case stateConnecting:
			if c.conn == nil {
				conn, err := rawsock.Dial(c.host, c.port)
				if err != nil {
					c.client.Fail(err)
					return nil, err
				}
				c.conn = conn
				// a non-blocking connect is in progress; wait for writable
				// to check its outcome via SO_ERROR.
				return &evloop.ResourceTask{FD: c.conn.FD, Want: evloop.Writable}, nil
			}
			if err := c.conn.ConnectError(); err != nil {
				c.conn.Close()
				c.client.Fail(err)
				return nil, err
			}
			c.state = stateSending

		case stateSending:
			if len(c.pending) == 0 {
				c.state = stateReceiving
				continue
			}
			n, ok, err := c.conn.Write(c.pending)
			if err != nil {
				c.conn.Close()
				c.client.Fail(err)
				return nil, err
			}
			if !ok {
				return &evloop.ResourceTask{FD: c.conn.FD, Want: evloop.Writable}, nil
			}
			c.pending = c.pending[n:]
			if len(c.pending) > 0 {
				return &evloop.ResourceTask{FD: c.conn.FD, Want: evloop.Writable}, nil
			}
			c.state = stateReceiving

		case stateReceiving:
			buf := make([]byte, upstreamReadSize)
			n, ok, err := c.conn.Read(buf)
			if err != nil {
				c.conn.Close()
				c.client.Fail(err)
				return nil, err
			}
			if !ok {
				return &evloop.ResourceTask{FD: c.conn.FD, Want: evloop.Readable}, nil
			}
			c.conn.Close()
			c.client.Deliver(&Response{Raw: buf[:n]})
			c.state = stateDone
			return nil, nil

		case stateDone:
			return nil, nil
		}
	}
}
