// Package metrics exposes the Prometheus collectors shared across every
// component: HTTP request metrics at the adapter boundary, and domain
// gauges/counters for the queue, bus, wager, and commission components.
// Only the HTTP collectors are updated (through InstrumentHandler); the
// domain collectors are registered but no component updates them.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector registered by this package.
var Registry = prometheus.NewRegistry()

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "backbone",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backbone",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled, by method, path, and status.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "backbone",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms .. ~5s
	}, []string{"method", "path"})

	// QueueDepth reports the current number of open orders in the matching
	// queue, broken down by side (deposit|withdrawal) and tier.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "backbone",
		Subsystem: "matching_queue",
		Name:      "depth",
		Help:      "Number of unmatched orders currently queued.",
	}, []string{"side", "tier"})

	// QueueMatches counts completed matches, by outcome (matched|expired|cancelled).
	QueueMatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backbone",
		Subsystem: "matching_queue",
		Name:      "resolutions_total",
		Help:      "Total number of queue order resolutions, by outcome.",
	}, []string{"outcome"})

	// BusSubscriberLag reports how many undelivered events remain buffered
	// for a subscriber, a proxy for how close it is to the ring buffer's
	// overwrite boundary.
	BusSubscriberLag = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "backbone",
		Subsystem: "event_bus",
		Name:      "subscriber_lag",
		Help:      "Events buffered but not yet delivered to a subscriber.",
	}, []string{"subscriber"})

	// BusPublished counts published events by topic.
	BusPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backbone",
		Subsystem: "event_bus",
		Name:      "published_total",
		Help:      "Total number of events published, by topic.",
	}, []string{"topic"})

	// BusDropped counts events dropped due to a full subscriber queue.
	BusDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backbone",
		Subsystem: "event_bus",
		Name:      "dropped_total",
		Help:      "Total number of events dropped for a backpressured subscriber.",
	}, []string{"subscriber"})

	// WagerSettlements counts settled wagers, by result (won|lost|void|pushed).
	WagerSettlements = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backbone",
		Subsystem: "wager",
		Name:      "settlements_total",
		Help:      "Total number of wagers settled, by result.",
	}, []string{"result"})

	// WagerSettlementDuration measures time from placement to settlement.
	WagerSettlementDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "backbone",
		Subsystem: "wager",
		Name:      "settlement_latency_seconds",
		Help:      "Time elapsed between wager placement and settlement.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 12), // 1s .. ~4.6h
	})

	// CommissionPayouts counts commission payouts, by agent tier.
	CommissionPayouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backbone",
		Subsystem: "commission",
		Name:      "payouts_total",
		Help:      "Total number of commission payouts credited, by tier.",
	}, []string{"tier"})

	// CommissionAmount sums commission amounts credited, by tier.
	CommissionAmount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backbone",
		Subsystem: "commission",
		Name:      "amount_total",
		Help:      "Total commission amount credited, by tier, in minor currency units.",
	}, []string{"tier"})

	// LedgerBalance reports the current balance of a ledger account.
	LedgerBalance = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "backbone",
		Subsystem: "ledger",
		Name:      "account_balance",
		Help:      "Current balance of a ledger account, in minor currency units.",
	}, []string{"account_type"})

	// SSEConnections reports the number of currently open SSE streams.
	SSEConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "backbone",
		Subsystem: "sse",
		Name:      "connections",
		Help:      "Current number of open server-sent-event connections.",
	})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		QueueDepth,
		QueueMatches,
		BusSubscriberLag,
		BusPublished,
		BusDropped,
		WagerSettlements,
		WagerSettlementDuration,
		CommissionPayouts,
		CommissionAmount,
		LedgerBalance,
		SSEConnections,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with HTTP request count/duration collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses path parameters so high-cardinality IDs don't
// explode the requests_total/request_duration_seconds label space.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	idLike := []string{"agents", "wagers", "orders", "tenants", "ledger"}
	for _, resource := range idLike {
		if parts[0] == resource && len(parts) >= 2 {
			if len(parts) == 2 {
				return "/" + resource + "/:id"
			}
			return "/" + resource + "/:id/" + strings.Join(parts[2:], "/")
		}
	}
	return "/" + parts[0]
}
