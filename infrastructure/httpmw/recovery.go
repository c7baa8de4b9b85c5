// Package httpmw provides the HTTP middleware chain shared by every route
// group: panic recovery, request logging, metrics, CORS, body limiting,
// timeouts, security headers, and health/readiness probes.
package httpmw

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/sportsbook-ops/backbone/infrastructure/apperr"
	"github.com/sportsbook-ops/backbone/infrastructure/httputil"
	"github.com/sportsbook-ops/backbone/infrastructure/logging"
)

// Recovery recovers from panics in downstream handlers, logs the stack
// trace, and responds with a scrubbed internal-error envelope.
func Recovery(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					stack := debug.Stack()
					logger.WithContext(r.Context()).WithFields(map[string]interface{}{
						"panic":       fmt.Sprintf("%v", rec),
						"stack":       string(stack),
						"path":        r.URL.Path,
						"method":      r.Method,
						"remote_addr": r.RemoteAddr,
					}).Error("panic recovered")

					httputil.WriteError(w, r, apperr.Internal("internal server error", fmt.Errorf("%v", rec)))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
