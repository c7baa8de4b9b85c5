// Package httpapi exposes every domain component over HTTP: chi handles
// routing and route-group middleware chaining, infrastructure/httpmw
// supplies the shared recovery/logging/metrics/CORS/timeout chain, and
// infrastructure/httputil shapes every response into the common envelope.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sportsbook-ops/backbone/infrastructure/httpmw"
	"github.com/sportsbook-ops/backbone/infrastructure/logging"
	"github.com/sportsbook-ops/backbone/internal/chatbot"
	"github.com/sportsbook-ops/backbone/internal/domain/agentgraph"
	"github.com/sportsbook-ops/backbone/internal/domain/commission"
	"github.com/sportsbook-ops/backbone/internal/domain/matchingqueue"
	"github.com/sportsbook-ops/backbone/internal/domain/sse"
	"github.com/sportsbook-ops/backbone/internal/domain/store"
	"github.com/sportsbook-ops/backbone/internal/domain/wagerengine"
	"github.com/sportsbook-ops/backbone/pkg/metrics"
	"github.com/sportsbook-ops/backbone/pkg/version"
)

// Config controls adapter-level concerns that don't belong to any one
// domain component: CORS policy, body size, and per-request timeout.
type Config struct {
	CORS           *httpmw.CORSConfig
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

// Deps is every collaborator a route handler reaches into.
type Deps struct {
	Store       store.Store
	AgentGraph  *agentgraph.AgentGraph
	WagerEngine *wagerengine.WagerEngine
	Commissions *commission.Engine
	Queue       *matchingqueue.Queue
	SSE         *sse.Gateway
	Chatbot     *chatbot.Hub
	Logger      *logging.Logger
}

// Service adapts the chi-routed handler to lifecycle.Service so it can be
// Attach-ed to the application's manager alongside the domain workers.
type Service struct {
	handler http.Handler
	server  *http.Server
	ready   *bool
}

// NewService builds the routed handler and an *http.Server bound to addr.
func NewService(addr string, deps Deps, cfg Config) *Service {
	ready := new(bool)
	handler := NewRouter(deps, cfg, ready)
	return &Service{
		handler: handler,
		server:  &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second},
		ready:   ready,
	}
}

// Name implements lifecycle.Service.
func (s *Service) Name() string { return "httpapi" }

// Start begins serving in the background and flips the readiness probe.
func (s *Service) Start(ctx context.Context) error {
	ln, err := newListener(s.server.Addr)
	if err != nil {
		return err
	}
	*s.ready = true
	go func() {
		_ = s.server.Serve(ln)
	}()
	return nil
}

// Stop flips the readiness probe off and shuts the server down, waiting
// until ctx is done for in-flight requests to finish. Hijacked WebSocket
// connections are not tracked or closed by the shutdown, and open SSE
// streams keep it waiting until ctx is done.
func (s *Service) Stop(ctx context.Context) error {
	*s.ready = false
	return s.server.Shutdown(ctx)
}

// NewRouter builds the chi router: ambient middleware first, then
// health/version/metrics probes, then the domain route groups.
func NewRouter(deps Deps, cfg Config, ready *bool) http.Handler {
	r := chi.NewRouter()

	r.Use(httpmw.Recovery(deps.Logger))
	r.Use(httpmw.RequestLogging(deps.Logger))
	r.Use(httpmw.Metrics())
	r.Use(httpmw.CORS(cfg.CORS))
	r.Use(httpmw.BodyLimit(cfg.MaxBodyBytes))
	r.Use(httpmw.Timeout(cfg.RequestTimeout))
	r.Use(httpmw.SecurityHeaders(nil))

	health := httpmw.NewHealthChecker(version.Version)
	health.RegisterCheck("store", func() error {
		_, err := deps.Store.Begin(context.Background())
		return err
	})
	r.Get("/healthz", health.Handler())
	r.Get("/livez", httpmw.Liveness())
	r.Get("/readyz", httpmw.Readiness(ready))
	r.Get("/version", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"version":"` + version.FullVersion() + `"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	h := &handler{deps: deps}

	r.Route("/agents", func(r chi.Router) {
		r.Post("/", h.createAgent)
		r.Patch("/{agentID}", h.updateAgent)
		r.Post("/{agentID}/customers", h.attachCustomer)
		r.Get("/{agentID}/hierarchy", h.hierarchy)
		r.Post("/{agentID}/suspend", h.suspendAgent)
		r.Post("/{agentID}/reactivate", h.reactivateAgent)
	})

	r.Route("/wagers", func(r chi.Router) {
		r.Post("/", h.createWager)
		r.Patch("/{wagerID}", h.updateWager)
		r.Post("/{wagerID}/settle", h.settleWager)
		r.Post("/{wagerID}/cancel", h.cancelWager)
	})

	r.Route("/events", func(r chi.Router) {
		r.Post("/{eventID}/settle", h.bulkSettleEvent)
		r.Post("/{eventID}/odds", h.updateOdds)
	})

	r.Get("/settlements", h.settlementHistory)

	r.Route("/queue", func(r chi.Router) {
		r.Post("/items", h.enqueueItem)
		r.Post("/items/{itemID}/cancel", h.cancelQueueItem)
		r.Get("/stats", h.queueStats)
	})

	r.Route("/commissions", func(r chi.Router) {
		r.Post("/calculate", h.calculateCommission)
		r.Post("/payouts", h.createPayout)
		r.Post("/payouts/{payoutID}/process", h.processPayout)
		r.Post("/payouts/{payoutID}/complete", h.completePayout)
		r.Post("/payouts/{payoutID}/fail", h.failPayout)
		r.Post("/payouts/{payoutID}/cancel", h.cancelPayout)
	})

	r.Get("/stream", h.stream)
	r.Get("/chat/{agentID}", h.chat)

	return r
}

func newListener(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
