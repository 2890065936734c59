package media

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// uploadField is the multipart form field carrying the video.
const uploadField = "file"

// multipartMemory is how much of an upload is buffered in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

// contentTypes covers DefaultExtensions; the stdlib mime table has neither.
var contentTypes = map[string]string{
	".mp4": "video/mp4",
	".flv": "video/x-flv",
}

// Handler exposes the media library over HTTP.
type Handler struct {
	lib *Library
	log *slog.Logger
}

// NewHandler returns a Handler serving lib.
func NewHandler(lib *Library, log *slog.Logger) *Handler {
	return &Handler{lib: lib, log: log}
}

// List handles GET /api/media.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.lib.List()
	if err != nil {
		h.log.Error("list media failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cannot list media"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Upload handles POST /api/media with a multipart "file" field.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.lib.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.lib.maxBytes+multipartMemory)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": ErrTooLarge.Error()})
			return
		}
		h.log.Debug("invalid upload body", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected multipart form with a file field"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing file field"})
		return
	}
	defer file.Close()

	item, err := h.lib.Save(header.Filename, file)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidName), errors.Is(err, ErrUnsupportedType):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, ErrTooLarge):
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
		default:
			h.log.Error("save upload failed", slog.String("name", header.Filename), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cannot save upload"})
		}
		return
	}

	writeJSON(w, http.StatusCreated, item)
}

// Serve handles GET /api/media/{name}, streaming the video with range
// support so the dashboard can preview it.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ErrInvalidName.Error()})
		return
	}
	path, err := h.lib.Resolve(name)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return
	}

	f, err := os.Open(path)
	if err != nil {
		h.log.Error("open media failed", slog.String("name", name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusNotFound, map[string]string{"error": ErrNotFound.Error()})
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		h.log.Error("stat media failed", slog.String("name", name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cannot read media"})
		return
	}
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
