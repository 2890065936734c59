package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
)

// DefaultTail is how many log lines the dashboard shows.
const DefaultTail = 20

// retryAfterSeconds is suggested to clients that lost a start race against
// a process still shutting down.
const retryAfterSeconds = "2"

// SourceResolver maps the source name chosen in the UI to a file path.
type SourceResolver interface {
	Resolve(name string) (string, error)
}

// Handler exposes the session controller over HTTP.
type Handler struct {
	ctrl     *Controller
	resolver SourceResolver
	log      *slog.Logger
}

// NewHandler returns a Handler for ctrl. Source names in start requests are
// resolved with resolver.
func NewHandler(ctrl *Controller, resolver SourceResolver, log *slog.Logger) *Handler {
	return &Handler{ctrl: ctrl, resolver: resolver, log: log}
}

// startBody is the JSON payload of POST /api/session/start.
type startBody struct {
	Source    string `json:"source"`
	StreamKey string `json:"stream_key"`
	Layout    string `json:"layout"`
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Start handles POST /api/session/start.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var body startBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.log.Debug("invalid start body", slog.String("error", err.Error()))
		h.rejectStart(w, &RequestError{Field: "body", Reason: "expected JSON object"}, "")
		return
	}

	layout, err := ParseLayoutMode(body.Layout)
	if err != nil {
		h.rejectStart(w, err, body.StreamKey)
		return
	}

	req := StreamRequest{TargetKey: body.StreamKey, Layout: layout}
	if body.Source != "" {
		path, err := h.resolver.Resolve(body.Source)
		if err != nil {
			h.rejectStart(w, &RequestError{Field: "source", Reason: err.Error()}, body.StreamKey)
			return
		}
		req.SourcePath = path
	}

	if err := h.ctrl.Start(req); err != nil {
		if errors.Is(err, ErrSpawnFailure) {
			h.log.Error("start failed", slog.String("error", Redact(err.Error(), body.StreamKey)))
		}
		writeError(w, redactError(err, body.StreamKey))
		return
	}

	writeJSON(w, http.StatusAccepted, h.ctrl.Status())
}

func (h *Handler) rejectStart(w http.ResponseWriter, cause error, secret string) {
	writeError(w, redactError(h.ctrl.RejectStart(cause, secret), secret))
}

// Stop handles POST /api/session/stop.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Stop(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

// Status handles GET /api/session.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

// Logs handles GET /api/session/logs?n=20.
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	n := DefaultTail
	if s := r.URL.Query().Get("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, &RequestError{Field: "n", Reason: "must be an integer"})
			return
		}
		n = v
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": h.ctrl.TailLogs(n)})
}

// writeError maps the session error taxonomy onto HTTP.
func writeError(w http.ResponseWriter, err error) {
	status, kind := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, ErrInvalidRequest):
		status, kind = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, ErrNotOffline):
		status, kind = http.StatusConflict, "not_offline"
	case errors.Is(err, ErrNotRunning):
		status, kind = http.StatusConflict, "not_running"
	case errors.Is(err, ErrAlreadyRunning):
		w.Header().Set("Retry-After", retryAfterSeconds)
		status, kind = http.StatusServiceUnavailable, "already_running"
	case errors.Is(err, ErrSpawnFailure):
		status, kind = http.StatusBadGateway, "spawn_failure"
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

// redactedError keeps the taxonomy of the wrapped error while hiding the
// key from its message.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redactError(err error, secret string) error {
	return &redactedError{msg: Redact(err.Error(), secret), err: err}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
