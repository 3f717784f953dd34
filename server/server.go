// Package server implements the three interchangeable concurrency
// strategies — thread-per-client, thread-per-request, and purely
// cooperative single-threaded — sharing the same request contract: read
// one request, match it, invoke its handler, write the response, repeat
// until the client closes, times out, or sends something unparseable.
package server

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/kestrel-systems/frontproxy"
)

const maxRequestSize = 16 * 1024

// Strategy is the lifecycle every concurrency model exposes: Start binds
// the listener and blocks the caller until Stop (or a signal the caller
// wires up) closes it.
type Strategy interface {
	Start() error
	Stop() error
}

// Config is the construction input shared by every strategy.
type Config struct {
	Host string
	Port int

	// Table is used by thread-per-client and thread-per-request, whose
	// handlers always run to completion before the next step.
	Table frontproxy.Table

	// AsyncTable is used by the cooperative strategy; its reverse-proxy
	// and load-balance entries suspend instead of blocking.
	AsyncTable frontproxy.AsyncTable

	Stats     *frontproxy.Stats
	Dashboard *frontproxy.Dashboard
}

func (c Config) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c Config) logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if c.Dashboard != nil {
		c.Dashboard.Log(line)
	}
}

// readRequest performs exactly one blocking read of up to maxRequestSize
// bytes and parses it. An empty read means the client closed its side.
func readRequest(conn net.Conn) (*frontproxy.Request, error) {
	buf := make([]byte, maxRequestSize)
	n, err := conn.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, frontproxy.ErrClientClosing
		}
		return nil, err
	}
	return frontproxy.ParseRequest(buf[:n])
}

// sendAll retries a conn.Write until every byte is delivered or an error
// other than a short write occurs. net.Conn's Write already loops
// internally for TCP, but handlers may hand back a response built from
// several concatenated buffers — this keeps the retry explicit and
// customer-facing rather than relying on that implementation detail.
func sendAll(conn net.Conn, data []byte) error {
	for len(data) > 0 {
		n, err := conn.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// serveOnce runs the read -> match -> handle -> write sequence exactly
// once against a blocking conn. Returns an error when the per-connection
// loop calling it should stop (client close, parse failure, write
// failure); nil means keep looping.
func serveOnce(conn net.Conn, table frontproxy.Table, stats *frontproxy.Stats) error {
	req, err := readRequest(conn)
	if err != nil {
		return err
	}
	stats.RecordRequest(len(req.Raw))

	handler, ok := table.Dispatch(req)
	if !ok {
		resp := frontproxy.NewResponse(400, []byte("no handler matched this request"))
		return writeResponse(conn, resp, stats)
	}

	resp := handler.Handle(req)
	if resp == nil {
		// upstream failure: surfaces as a closed client connection, no
		// synthesized error body, per the proxy handlers' contract.
		return frontproxy.ErrUpstreamUnavailable
	}
	return writeResponse(conn, resp, stats)
}

func writeResponse(conn net.Conn, resp *frontproxy.Response, stats *frontproxy.Stats) error {
	raw := resp.Serialize()
	if err := sendAll(conn, raw); err != nil {
		return err
	}
	stats.RecordResponse(len(raw))
	return nil
}
