// internal/server/timeouts.go
//
// HTTP server helper with robust timeouts.
//
//   - ReadHeaderTimeout – abort slow-loris headers (10 s)
//   - IdleTimeout       – close keep-alives on idle clients (60 s)
//
// No WriteTimeout is set: a function's own `timeout` option (enforced inside
// the isolate) bounds how long a request runs, and the dispatcher does not
// add a second wall-clock limit on top of it — an isolate legitimately
// running for minutes must not have its response truncated by the listener.
package server

import (
	"net/http"
	"time"
)

// New constructs an *http.Server with sensible defaults.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// TLSConfig may be injected by callers (e.g., autocert).
	}
}
