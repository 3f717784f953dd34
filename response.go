package frontproxy

import (
	"fmt"
	"strconv"
	"strings"
)

// Response is produced by a handler and consumed immediately by the write
// path. When Raw is non-nil (the reverse-proxy and load-balance handlers
// set it), Serialize returns it verbatim instead of rebuilding the message —
// the upstream's exact bytes pass through unchanged.
type Response struct {
	Status  int
	Headers Header
	Body    []byte
	Raw     []byte
}

// NewResponse builds a Response with Content-Type and Content-Length always
// populated, defaulting Content-Type to text/html.
func NewResponse(status int, body []byte) *Response {
	return &Response{
		Status: status,
		Body:   body,
		Headers: Header{
			{Name: "Content-Type", Value: "text/html; charset=UTF-8"},
			{Name: "Content-Length", Value: strconv.Itoa(len(body))},
		},
	}
}

// WithContentType overrides the default Content-Type header.
func (r *Response) WithContentType(contentType string) *Response {
	for i := range r.Headers {
		if r.Headers[i].Name == "Content-Type" {
			r.Headers[i].Value = contentType
			return r
		}
	}
	r.Headers = append(r.Headers, HeaderField{Name: "Content-Type", Value: contentType})
	return r
}

// Serialize renders the response as wire bytes: status line, headers,
// blank line, body. If Raw is set, it's returned unchanged instead.
func (r *Response) Serialize() []byte {
	if r.Raw != nil {
		return r.Raw
	}

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d\r\n", r.Status)
	for _, h := range r.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	b.WriteString("\r\n")

	out := make([]byte, 0, b.Len()+len(r.Body))
	out = append(out, b.String()...)
	out = append(out, r.Body...)
	return out
}
