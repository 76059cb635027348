package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIndexHandler_ServesConfiguredFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.html")
	if err := os.WriteFile(path, []byte("<html>console</html>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	rr := httptest.NewRecorder()
	IndexHandler{Path: path}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if rr.Body.String() != "<html>console</html>" {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

func TestIndexHandler_MissingFileFallsBack(t *testing.T) {
	rr := httptest.NewRecorder()
	IndexHandler{Path: filepath.Join(t.TempDir(), "absent.html")}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Nova Voice App") {
		t.Fatalf("body=%q, want the fallback page", rr.Body.String())
	}
}

func TestIndexHandler_UnknownPathIs404(t *testing.T) {
	rr := httptest.NewRecorder()
	IndexHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rr.Code)
	}
}
