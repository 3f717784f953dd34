package frontproxy

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("StaticAssetHandler", func() {
	var (
		root string
		h    *StaticAssetHandler
	)

	BeforeEach(func() {
		root = GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(root, "app.js"), []byte("console.log(1)"), 0o644)).To(Succeed())
		Expect(os.MkdirAll(filepath.Join(root, "images"), 0o755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(root, "images", "logo.png"), []byte("fakepng"), 0o644)).To(Succeed())

		var err error
		h, err = NewStaticAssetHandler(root, []string{"/static/"})
		Expect(err).NotTo(HaveOccurred())
	})

	It("serves a cached file with the right content type", func() {
		resp := h.Handle(&Request{Target: "/static/app.js"})
		Expect(resp.Status).To(Equal(200))
		Expect(string(resp.Body)).To(Equal("console.log(1)"))

		ct, _ := resp.Headers.Get("Content-Type")
		Expect(ct).To(Equal("text/javascript"))
	})

	It("serves nested files and picks content type by extension", func() {
		resp := h.Handle(&Request{Target: "/static/images/logo.png"})
		Expect(resp.Status).To(Equal(200))

		ct, _ := resp.Headers.Get("Content-Type")
		Expect(ct).To(Equal("image/png"))
	})

	It("returns a diagnostic 404 for a file outside the cache", func() {
		resp := h.Handle(&Request{Target: "/static/missing.js"})
		Expect(resp.Status).To(Equal(404))
		Expect(string(resp.Body)).To(ContainSubstring(root))
	})

	It("falls back to text/html for an unrecognized extension", func() {
		Expect(os.WriteFile(filepath.Join(root, "data.bin"), []byte("x"), 0o644)).To(Succeed())
		h2, err := NewStaticAssetHandler(root, []string{"/static/"})
		Expect(err).NotTo(HaveOccurred())

		resp := h2.Handle(&Request{Target: "/static/data.bin"})
		ct, _ := resp.Headers.Get("Content-Type")
		Expect(ct).To(Equal("text/html"))
	})
})
