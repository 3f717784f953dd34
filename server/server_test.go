package server

import (
	"io"
	"net"

	"github.com/kestrel-systems/frontproxy"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type echoHandler struct{}

func (echoHandler) Handle(r *frontproxy.Request) *frontproxy.Response {
	return frontproxy.NewResponse(200, []byte("ok:"+r.Target))
}

var _ = Describe("serveOnce", func() {
	var (
		client, srv *net.TCPConn
		ln          net.Listener
		stats       *frontproxy.Stats
		table       frontproxy.Table
	)

	BeforeEach(func() {
		var err error
		ln, err = net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())

		stats = &frontproxy.Stats{}
		table = frontproxy.Table{
			{Criteria: frontproxy.MatchCriteria{"url": {"/"}}, Handler: echoHandler{}},
		}

		acceptDone := make(chan net.Conn, 1)
		go func() {
			c, _ := ln.Accept()
			acceptDone <- c
		}()

		c, err := net.Dial("tcp", ln.Addr().String())
		Expect(err).NotTo(HaveOccurred())
		client = c.(*net.TCPConn)
		srv = (<-acceptDone).(*net.TCPConn)
	})

	AfterEach(func() {
		client.Close()
		srv.Close()
		ln.Close()
	})

	It("reads a request, dispatches it, and writes the handler's response", func() {
		_, err := client.Write([]byte("GET /hello HTTP/1.1\r\nHost: test\r\n\r\n"))
		Expect(err).NotTo(HaveOccurred())

		Expect(serveOnce(srv, table, stats)).To(Succeed())

		buf := make([]byte, 4096)
		n, err := client.Read(buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(buf[:n])).To(ContainSubstring("ok:/hello"))

		snap := stats.Snapshot()
		Expect(snap.RequestsReceived).To(Equal(int64(1)))
		Expect(snap.ResponsesSent).To(Equal(int64(1)))
	})

	It("writes a 400 when nothing in the table matches", func() {
		emptyTable := frontproxy.Table{
			{Criteria: frontproxy.MatchCriteria{"url": {"/only/"}}, Handler: echoHandler{}},
		}
		_, err := client.Write([]byte("GET /else HTTP/1.1\r\nHost: test\r\n\r\n"))
		Expect(err).NotTo(HaveOccurred())

		Expect(serveOnce(srv, emptyTable, stats)).To(Succeed())

		buf := make([]byte, 4096)
		n, err := client.Read(buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(buf[:n])).To(HavePrefix("HTTP/1.1 400"))
	})

	It("reports ErrClientClosing when the client closes before sending anything", func() {
		client.Close()
		err := serveOnce(srv, table, stats)
		Expect(err).To(MatchError(frontproxy.ErrClientClosing))
	})
})

var _ = Describe("sendAll", func() {
	It("writes every byte even when called against a slow reader", func() {
		serverSide, clientSide := net.Pipe()
		defer serverSide.Close()
		defer clientSide.Close()

		payload := make([]byte, 64*1024)
		for i := range payload {
			payload[i] = byte(i)
		}

		done := make(chan error, 1)
		go func() { done <- sendAll(serverSide, payload) }()

		got, err := io.ReadAll(io.LimitReader(clientSide, int64(len(payload))))
		Expect(err).NotTo(HaveOccurred())
		Expect(<-done).NotTo(HaveOccurred())
		Expect(got).To(Equal(payload))
	})
})
