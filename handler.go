package frontproxy

import "github.com/kestrel-systems/frontproxy/pkg/evloop"

// Handler serves a request synchronously, blocking the calling goroutine
// (or, under the cooperative strategy, the calling Step) until it has a
// Response ready. The static file server and health check are Handlers:
// nothing they do can usefully be split into suspend points.
type Handler interface {
	Handle(r *Request) *Response
}

// AsyncHandler serves a request as a evloop.Computation so the cooperative
// strategy never blocks its single OS thread on it. The reverse proxy and
// the load balancer are AsyncHandlers: both need to talk to an upstream
// over the network, which is exactly the kind of wait a Computation can
// suspend across. client carries whatever the strategy needs to eventually
// write the Response back — see server.clientConn.
type AsyncHandler interface {
	HandleAsync(r *Request, client ResponseWriter) evloop.Computation
}

// ResponseWriter is the narrow surface an AsyncHandler needs from the
// connection that asked for the Response: a place to deliver it once the
// Computation finishes, and an escape hatch for failures. Defined here,
// not in server, so handler_*.go has no dependency on a concrete strategy.
type ResponseWriter interface {
	Deliver(resp *Response)
	Fail(err error)
}
