package httpmw

import (
	"net/http"

	"github.com/sportsbook-ops/backbone/pkg/metrics"
)

// Metrics wraps next with HTTP request count/duration collection. It's a
// thin adapter so route composition can treat it like any other middleware
// in the chain rather than special-casing pkg/metrics.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return metrics.InstrumentHandler(next)
	}
}
