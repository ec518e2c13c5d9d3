package httpx

import (
	"encoding/json"
	"net/http"
	"time"
)

type Middleware func(http.Handler) http.Handler

// Chain wraps h so that m[0] sees the request first. Nil entries are skipped,
// which lets callers pass optional middleware inline.
func Chain(h http.Handler, m ...Middleware) http.Handler {
	for i := len(m) - 1; i >= 0; i-- {
		if m[i] != nil {
			h = m[i](h)
		}
	}
	return h
}

// WithTimeout answers 503 with a JSON body naming the request id once d has
// passed. A non-positive d disables the timeout.
func WithTimeout(d time.Duration) Middleware {
	if d <= 0 {
		return nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := json.Marshal(map[string]string{
				"error":      "request timed out",
				"request_id": RequestIDFromContext(r.Context()),
			})
			http.TimeoutHandler(next, d, string(body)).ServeHTTP(w, r)
		})
	}
}
