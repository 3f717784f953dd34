package server

import (
	"net"
	"strconv"
	"time"

	"github.com/kestrel-systems/frontproxy"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ThreadPerRequest", func() {
	var (
		strategy *ThreadPerRequest
		stats    *frontproxy.Stats
		addr     string
	)

	BeforeEach(func() {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		addr = ln.Addr().String()
		ln.Close()

		host, port, err := splitHostPortInt(addr)
		Expect(err).NotTo(HaveOccurred())

		stats = &frontproxy.Stats{}
		table := frontproxy.Table{
			{Criteria: frontproxy.MatchCriteria{"url": {"/"}}, Handler: echoHandler{}},
		}

		strategy = NewThreadPerRequest(Config{Host: host, Port: port, Table: table, Stats: stats})

		go strategy.Start()
		Eventually(func() error {
			c, err := net.Dial("tcp", addr)
			if err == nil {
				c.Close()
			}
			return err
		}, 2*time.Second).Should(Succeed())
	})

	AfterEach(func() {
		strategy.Stop()
	})

	It("dispatches a request to a worker and writes the response back", func() {
		conn, err := net.Dial("tcp", addr)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		_, err = conn.Write([]byte("GET /work HTTP/1.1\r\nHost: test\r\n\r\n"))
		Expect(err).NotTo(HaveOccurred())

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		buf := make([]byte, 4096)
		n, err := conn.Read(buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(buf[:n])).To(ContainSubstring("ok:/work"))
	})

	It("serves multiple concurrent connections", func() {
		const clients = 8
		results := make(chan string, clients)

		for i := 0; i < clients; i++ {
			go func() {
				conn, err := net.Dial("tcp", addr)
				if err != nil {
					results <- "dial-error"
					return
				}
				defer conn.Close()

				conn.Write([]byte("GET /parallel HTTP/1.1\r\nHost: test\r\n\r\n"))
				conn.SetReadDeadline(time.Now().Add(2 * time.Second))
				buf := make([]byte, 4096)
				n, err := conn.Read(buf)
				if err != nil {
					results <- "read-error"
					return
				}
				results <- string(buf[:n])
			}()
		}

		for i := 0; i < clients; i++ {
			Eventually(results, 3*time.Second).Should(Receive(ContainSubstring("ok:/parallel")))
		}
	})
})

func splitHostPortInt(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
