package httpmw

import (
	"net/http"

	"github.com/sportsbook-ops/backbone/infrastructure/apperr"
	"github.com/sportsbook-ops/backbone/infrastructure/httputil"
)

const defaultMaxRequestBodyBytes int64 = 1 << 20 // 1MiB; wager/order payloads are small JSON bodies

// BodyLimit caps request bodies to maxBytes, applying http.MaxBytesReader so
// downstream decoders cannot read past it. maxBytes <= 0 uses the default.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = defaultMaxRequestBodyBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				httputil.WriteError(w, r, apperr.Validation("body", "request body too large").WithDetails("limit_bytes", maxBytes))
				return
			}
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
