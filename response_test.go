package frontproxy

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("NewResponse", func() {
	It("sets Content-Type and Content-Length by default", func() {
		resp := NewResponse(200, []byte("hello"))

		ct, ok := resp.Headers.Get("Content-Type")
		Expect(ok).To(BeTrue())
		Expect(ct).To(Equal("text/html; charset=UTF-8"))

		cl, ok := resp.Headers.Get("Content-Length")
		Expect(ok).To(BeTrue())
		Expect(cl).To(Equal("5"))
	})
})

var _ = Describe("Response.WithContentType", func() {
	It("overrides an existing Content-Type header in place", func() {
		resp := NewResponse(200, []byte("x")).WithContentType("application/json")

		ct, _ := resp.Headers.Get("Content-Type")
		Expect(ct).To(Equal("application/json"))
		Expect(resp.Headers).To(HaveLen(2))
	})

	It("appends Content-Type when no header list exists", func() {
		resp := &Response{Status: 200, Body: []byte("x")}
		resp.WithContentType("text/plain")

		ct, ok := resp.Headers.Get("Content-Type")
		Expect(ok).To(BeTrue())
		Expect(ct).To(Equal("text/plain"))
	})
})

var _ = Describe("Response.Serialize", func() {
	It("renders a status line, headers, blank line, and body", func() {
		resp := NewResponse(200, []byte("hi"))
		out := string(resp.Serialize())

		Expect(out).To(HavePrefix("HTTP/1.1 200\r\n"))
		Expect(out).To(ContainSubstring("Content-Length: 2\r\n"))
		Expect(out).To(HaveSuffix("\r\n\r\nhi"))
	})

	It("returns Raw verbatim when set, ignoring Status/Headers/Body", func() {
		resp := &Response{Status: 999, Raw: []byte("upstream bytes")}
		Expect(string(resp.Serialize())).To(Equal("upstream bytes"))
	})
})
