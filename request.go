package frontproxy

import (
	"strings"
	"unicode/utf8"
)

// Header is an ordered header list. A plain map wouldn't preserve the order
// headers arrived in, and the match engine and diagnostics both want to
// walk headers in request order.
type Header []HeaderField

// HeaderField is a single name/value pair as it appeared on the wire.
type HeaderField struct {
	Name  string
	Value string
}

// Get returns the value of the first header matching name (case-sensitive,
// matching the wire codec's minimalism) and whether it was present.
func (h Header) Get(name string) (string, bool) {
	for _, f := range h {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Request is an immutable, parsed HTTP/1.1 request. Once ParseRequest
// returns one, nothing mutates it; it lives until its response is written.
type Request struct {
	Method  string
	Target  string // request-target, i.e. the URL path
	Host    string // from the Host header, empty if absent
	Port    string // from the Host header, empty if absent
	Headers Header
	Payload []byte
	Raw     []byte
}

// Attr looks up one of the request attributes the match engine understands:
// "url", "host", "port", or any header name. A missing header returns
// ("", false).
func (r *Request) Attr(name string) (string, bool) {
	switch name {
	case "url":
		return r.Target, true
	case "host":
		return r.Host, true
	case "port":
		return r.Port, true
	default:
		return r.Headers.Get(name)
	}
}

// ParseRequest parses a single HTTP/1.1 request out of buf. buf is expected
// to hold at most one request (request-line + headers + an optional single
// payload chunk) — pipelining and chunked bodies are out of scope.
func ParseRequest(buf []byte) (*Request, error) {
	if !utf8.Valid(buf) {
		return nil, ErrNotValidHTTP
	}

	lines := strings.Split(string(buf), "\r\n")
	if len(lines) == 0 {
		return nil, ErrNotValidHTTP
	}

	requestLine := strings.Fields(lines[0])
	if len(requestLine) < 2 {
		return nil, ErrNotValidHTTP
	}

	req := &Request{
		Method: requestLine[0],
		Target: requestLine[1],
		Raw:    buf,
	}

	i := 1
	for ; i < len(lines); i++ {
		if lines[i] == "" {
			break
		}
		name, value, ok := strings.Cut(lines[i], ": ")
		if !ok {
			return nil, ErrNotValidHTTP
		}
		req.Headers = append(req.Headers, HeaderField{Name: name, Value: value})
	}

	if host, ok := req.Headers.Get("Host"); ok {
		if h, p, ok := strings.Cut(host, ":"); ok {
			req.Host, req.Port = h, p
		} else {
			req.Host = host
		}
	}

	if i+1 < len(lines) {
		req.Payload = []byte(strings.Join(lines[i+1:], "\r\n"))
	}

	return req, nil
}
