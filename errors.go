package frontproxy

import "errors"

// ErrClientClosing is raised when a client sends an empty read, signalling
// that it has closed its side of the connection.
var ErrClientClosing = errors.New("frontproxy: client is closing its side of the connection")

// ErrNotValidHTTP is raised by ParseRequest when the buffer doesn't look
// like an HTTP/1.1 request line + headers.
var ErrNotValidHTTP = errors.New("frontproxy: not a valid http request")

// ErrNoRangeMatched is raised by the weighted load balancer when a sample
// falls outside every configured weight range, implying malformed config.
var ErrNoRangeMatched = errors.New("frontproxy: no weight range matched the sample")

// ErrUpstreamUnavailable wraps dial/send/recv failures against an upstream
// server. Handlers never synthesize a response body for this; the caller
// treats it as a reason to close the client connection.
var ErrUpstreamUnavailable = errors.New("frontproxy: upstream unavailable")
