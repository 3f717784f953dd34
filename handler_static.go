package frontproxy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var staticMimeTypes = map[string]string{
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".jfif":  "image/jpeg",
	".pjpeg": "image/jpeg",
	".pjp":   "image/jpeg",
	".png":   "image/png",
	".css":   "text/css",
	".html":  "text/html",
	".js":    "text/javascript",
	".mp4":   "video/mp4",
	".flv":   "video/x-flv",
	".m3u8":  "application/x-mpegURL",
	".ts":    "video/MP2T",
	".3gp":   "video/3gpp",
	".mov":   "video/quicktime",
	".avi":   "video/x-msvideo",
	".wmv":   "video/x-ms-wmv",
}

// StaticAssetHandler serves files rooted at Root for any request whose
// target begins with one of Prefixes. The file set is walked once at
// construction time; requests are served straight from that cache, never
// touching the filesystem again for existence checks.
type StaticAssetHandler struct {
	Root     string
	Prefixes []string

	files map[string]struct{}
}

// NewStaticAssetHandler walks root once, caching every regular file it
// finds so Handle never has to stat the filesystem to check existence.
func NewStaticAssetHandler(root string, prefixes []string) (*StaticAssetHandler, error) {
	h := &StaticAssetHandler{Root: root, Prefixes: prefixes, files: make(map[string]struct{})}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			h.files[path] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("frontproxy: walking static root %q: %w", root, err)
	}

	return h, nil
}

func (h *StaticAssetHandler) Handle(r *Request) *Response {
	absolutePath := filepath.Join(h.Root, h.stripPrefix(r.Target))

	if _, ok := h.files[absolutePath]; !ok {
		body := fmt.Sprintf(
			"<pre> the file requested was searched for in %s and it does not exist.\n"+
				"A proper request for a static resource is any of the strings the request should start with\n"+
				"(as defined by the matching rule's url prefixes) + the relative path to your resource starting\n"+
				"from the static root. </pre>", absolutePath)
		return NewResponse(404, []byte(body))
	}

	contents, err := os.ReadFile(absolutePath)
	if err != nil {
		body := fmt.Sprintf("<pre> the file requested was searched for in %s and it does not exist. </pre>", absolutePath)
		return NewResponse(404, []byte(body))
	}

	ext := filepath.Ext(r.Target)
	contentType, ok := staticMimeTypes[ext]
	if !ok {
		contentType = "text/html"
	}

	return NewResponse(200, contents).WithContentType(contentType)
}

// stripPrefix removes whichever configured prefix the target actually
// starts with. Dispatch already guaranteed at least one matches.
func (h *StaticAssetHandler) stripPrefix(target string) string {
	for _, prefix := range h.Prefixes {
		if strings.HasPrefix(target, prefix) {
			return target[len(prefix):]
		}
	}
	return target
}
