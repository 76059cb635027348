package handlers

import (
	"net/http"
	"os"
)

const fallbackIndexHTML = `<!doctype html>
<html><head><meta charset="utf-8"><title>Nova Voice</title></head>
<body>
  <h3>Nova Voice App</h3>
  <p>Please add index.html to the project root.</p>
</body></html>
`

// IndexHandler serves the voice test console. A missing or unreadable
// page falls back to a minimal placeholder so / never 500s.
type IndexHandler struct {
	Path string
}

func (h IndexHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	path := h.Path
	if path == "" {
		path = "index.html"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(fallbackIndexHTML))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}
