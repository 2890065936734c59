package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	b, _ := io.ReadAll(rr.Body)
	return string(b)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.IncSessionsStarted()
	m.IncEncoderExit("terminated")
	m.IncEncoderExit("terminated")
	m.IncEncoderLogLines()

	refreshed := false
	body := scrape(t, m.Handler(func() {
		refreshed = true
		m.SetStreamState("live")
		m.SetMediaFiles(3)
	}))
	if !refreshed {
		t.Error("gauge refresh was not called")
	}

	for _, want := range []string{
		"loopcast_sessions_started_total 1",
		`loopcast_encoder_exits_total{outcome="terminated"} 2`,
		"loopcast_encoder_log_lines_total 1",
		`loopcast_stream_state{state="live"} 1`,
		`loopcast_stream_state{state="offline"} 0`,
		"loopcast_media_files 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/ok", "/missing", "/metrics"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	body := scrape(t, m.Handler(nil))
	for _, want := range []string{
		`loopcast_requests_total{code="200",method="GET"} 1`,
		`loopcast_requests_total{code="404",method="GET"} 1`,
		"loopcast_errors_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}
