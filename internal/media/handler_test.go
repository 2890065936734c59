package media

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"loopcast/internal/platform/logger"

	"github.com/go-chi/chi/v5"
)

func newMediaRouter(lib *Library) *chi.Mux {
	h := NewHandler(lib, logger.Discard())
	r := chi.NewRouter()
	r.Get("/api/media", h.List)
	r.Post("/api/media", h.Upload)
	r.Get("/api/media/{name}", h.Serve)
	return r
}

func uploadRequest(t *testing.T, field, filename, body string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(body)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/media", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandler_Upload_then_List(t *testing.T) {
	lib := NewLibrary(t.TempDir(), 1<<20, logger.Discard())
	r := newMediaRouter(lib)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, uploadRequest(t, "file", "clip.mp4", "video bytes"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var item Item
	if err := json.NewDecoder(rr.Body).Decode(&item); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	if item.Name != "clip.mp4" || item.Size != int64(len("video bytes")) {
		t.Errorf("unexpected item %+v", item)
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/media", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Items []Item `json:"items"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].Name != "clip.mp4" {
		t.Errorf("unexpected listing %+v", body.Items)
	}
}

func TestHandler_Upload_errors(t *testing.T) {
	lib := NewLibrary(t.TempDir(), 8, logger.Discard())
	r := newMediaRouter(lib)

	tests := []struct {
		name string
		req  func() *http.Request
		want int
	}{
		{"unsupported type", func() *http.Request { return uploadRequest(t, "file", "notes.txt", "x") }, http.StatusBadRequest},
		{"hidden name", func() *http.Request { return uploadRequest(t, "file", ".clip.mp4", "x") }, http.StatusBadRequest},
		{"wrong field", func() *http.Request { return uploadRequest(t, "video", "clip.mp4", "x") }, http.StatusBadRequest},
		{"too large", func() *http.Request { return uploadRequest(t, "file", "clip.mp4", strings.Repeat("x", 64)) }, http.StatusRequestEntityTooLarge},
		{"not multipart", func() *http.Request {
			return httptest.NewRequest(http.MethodPost, "/api/media", strings.NewReader("{}"))
		}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, tt.req())
			if rr.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}

	items, err := lib.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("rejected uploads were saved: %+v", items)
	}
}

func TestHandler_List_error(t *testing.T) {
	lib := NewLibrary(t.TempDir()+"/missing", 0, logger.Discard())
	rr := httptest.NewRecorder()
	newMediaRouter(lib).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/media", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
}

func TestHandler_Serve(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "clip.mp4"), []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".hidden.mp4"), []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "clip.mp4"), []byte("outside"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := newMediaRouter(NewLibrary(dir, 0, logger.Discard()))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/media/clip.mp4", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != "0123456789" {
		t.Errorf("unexpected body %q", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("expected video/mp4, got %q", ct)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/media/clip.mp4", nil)
	req.Header.Set("Range", "bytes=2-4")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusPartialContent || rr.Body.String() != "234" {
		t.Errorf("range: got %d %q", rr.Code, rr.Body.String())
	}

	tests := []struct {
		name string
		path string
		want int
	}{
		{"dotfile", "/api/media/.hidden.mp4", http.StatusBadRequest},
		{"encoded traversal", "/api/media/..%2Fclip.mp4", http.StatusBadRequest},
		{"encoded absolute", "/api/media/" + url.PathEscape(filepath.Join(outside, "clip.mp4")), http.StatusBadRequest},
		{"unsupported type", "/api/media/notes.txt", http.StatusBadRequest},
		{"missing", "/api/media/gone.mp4", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rr.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
			if strings.Contains(rr.Body.String(), "outside") || strings.Contains(rr.Body.String(), "secret") {
				t.Errorf("served a file outside the library: %q", rr.Body.String())
			}
		})
	}
}
