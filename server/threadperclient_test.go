package server

import (
	"net"
	"strconv"
	"time"

	"github.com/kestrel-systems/frontproxy"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ThreadPerClient", func() {
	var (
		strategy *ThreadPerClient
		stats    *frontproxy.Stats
		addr     string
	)

	BeforeEach(func() {
		stats = &frontproxy.Stats{}
		table := frontproxy.Table{
			{Criteria: frontproxy.MatchCriteria{"url": {"/"}}, Handler: echoHandler{}},
		}

		strategy = NewThreadPerClient(Config{Host: "127.0.0.1", Port: 0, Table: table, Stats: stats})

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		addr = ln.Addr().String()
		ln.Close()

		host, portStr, _ := net.SplitHostPort(addr)
		port, err := strconv.Atoi(portStr)
		Expect(err).NotTo(HaveOccurred())
		strategy.cfg.Host = host
		strategy.cfg.Port = port

		go strategy.Start()
		Eventually(func() error {
			c, err := net.Dial("tcp", addr)
			if err == nil {
				c.Close()
			}
			return err
		}, time.Second).Should(Succeed())
	})

	AfterEach(func() {
		strategy.Stop()
	})

	It("serves a request over a real socket", func() {
		conn, err := net.Dial("tcp", addr)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		_, err = conn.Write([]byte("GET /hi HTTP/1.1\r\nHost: test\r\n\r\n"))
		Expect(err).NotTo(HaveOccurred())

		buf := make([]byte, 4096)
		n, err := conn.Read(buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(buf[:n])).To(ContainSubstring("ok:/hi"))
	})

	It("keeps the connection open for a second request on the same socket", func() {
		conn, err := net.Dial("tcp", addr)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		for i := 0; i < 2; i++ {
			_, err = conn.Write([]byte("GET /again HTTP/1.1\r\nHost: test\r\n\r\n"))
			Expect(err).NotTo(HaveOccurred())

			buf := make([]byte, 4096)
			n, err := conn.Read(buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(buf[:n])).To(ContainSubstring("ok:/again"))
		}
	})
})
