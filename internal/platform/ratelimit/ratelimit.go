// Package ratelimit throttles the control endpoints that spawn or signal the
// encoder, so a stuck client cannot hammer start/stop.
package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// DefaultPerMinute is the per-IP budget for control requests.
const DefaultPerMinute = 60

// PerIP returns middleware allowing limit requests per window per client IP.
// A non-positive limit disables limiting.
func PerIP(limit int, window time.Duration) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error": "too many requests, try again later",
				"kind":  "rate_limited",
			})
		}),
	)
}
