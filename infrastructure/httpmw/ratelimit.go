package httpmw

import (
	"net/http"

	"github.com/sportsbook-ops/backbone/infrastructure/apperr"
	"github.com/sportsbook-ops/backbone/infrastructure/httputil"
	"github.com/sportsbook-ops/backbone/infrastructure/ratelimit"
)

// RateLimit rejects requests once limiter's bucket is exhausted, responding
// with a CodeBackpressure envelope rather than queuing the request.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				httputil.WriteError(w, r, apperr.Backpressure("http api"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
