// Package sse implements the real-time event fabric's HTTP edge: it frames
// eventbus.Event values as Server-Sent Events, heartbeats idle connections,
// and resumes a reconnecting client from its Last-Event-ID using the bus's
// ring buffer, falling back to an optional Redis-backed replay log when the
// in-memory ring has already evicted the requested sequence.
package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sportsbook-ops/backbone/infrastructure/apperr"
	"github.com/sportsbook-ops/backbone/infrastructure/logging"
	"github.com/sportsbook-ops/backbone/internal/domain/eventbus"
	"github.com/sportsbook-ops/backbone/internal/platform/rediscache"
)

// Config controls heartbeat cadence (spec §6 sse.*).
type Config struct {
	HeartbeatInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
}

// replayPersister is the subset of rediscache.Client the gateway depends on,
// narrowed so tests can substitute a fake without a live Redis instance.
type replayPersister interface {
	Append(ctx context.Context, event rediscache.StoredEvent, maxLen int64) error
	Replay(ctx context.Context, afterSeq uint64) ([]rediscache.StoredEvent, bool, error)
}

// Gateway bridges one eventbus.Bus to any number of SSE client connections.
type Gateway struct {
	bus    *eventbus.Bus
	redis  replayPersister
	logger *logging.Logger
	cfg    Config

	ringSize int64

	mu        sync.Mutex
	subHandle eventbus.Handle
	stopped   chan struct{}
}

// New builds a Gateway. redis may be nil, in which case reconnects that miss
// the in-memory ring buffer always resync rather than replaying further back.
func New(bus *eventbus.Bus, redis replayPersister, logger *logging.Logger, ringSize int, cfg Config) *Gateway {
	cfg.applyDefaults()
	if ringSize <= 0 {
		ringSize = 1024
	}
	return &Gateway{bus: bus, redis: redis, logger: logger, cfg: cfg, ringSize: int64(ringSize)}
}

// Name identifies this service to the lifecycle manager.
func (g *Gateway) Name() string { return "ssegateway" }

// Start subscribes to every bus event and mirrors it into the Redis replay
// log, when one is configured, so reconnects can resume across restarts.
func (g *Gateway) Start(ctx context.Context) error {
	if g.redis == nil {
		return nil
	}
	handle, stream := g.bus.Subscribe(eventbus.SubscribeOptions{Mode: eventbus.DropOldest, BufferSize: 1024})
	g.mu.Lock()
	g.subHandle = handle
	g.stopped = make(chan struct{})
	g.mu.Unlock()

	go func() {
		defer close(g.stopped)
		for event := range stream {
			stored := rediscache.StoredEvent{
				Sequence:  event.Sequence,
				Type:      event.Type,
				Timestamp: event.Timestamp,
				Scope: map[string]string{
					"departmentId": event.Scope.DepartmentID,
					"agentId":      event.Scope.AgentID,
					"customerId":   event.Scope.CustomerID,
				},
				Payload: event.Payload,
			}
			if err := g.redis.Append(context.Background(), stored, g.ringSize); err != nil {
				g.logger.WithContext(ctx).WithFields(map[string]interface{}{"error": err.Error()}).Warn("failed to persist event to replay log")
			}
		}
	}()
	return nil
}

// Stop unsubscribes the Redis mirror goroutine and waits for it to drain.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	handle, stopped := g.subHandle, g.stopped
	g.mu.Unlock()
	if handle == "" {
		return nil
	}
	g.bus.Unsubscribe(handle)
	if stopped == nil {
		return nil
	}
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StreamOptions configures one client's SSE connection.
type StreamOptions struct {
	Filter      eventbus.Filter
	LastEventID uint64
}

// frame is the JSON body written on each "data:" line.
type frame struct {
	Type    string                 `json:"type"`
	Scope   eventbus.Scope         `json:"scope"`
	Payload map[string]interface{} `json:"payload"`
}

// Stream serves w as a Server-Sent Events connection until the request
// context is cancelled or a write fails. It first replays any events the
// client missed since opts.LastEventID (via the bus ring buffer, then the
// Redis-backed log), emitting a "resync" event if neither can serve the
// full gap, then forwards live events matching opts.Filter.
func (g *Gateway) Stream(ctx context.Context, w http.ResponseWriter, opts StreamOptions) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return apperr.Internal("response writer does not support streaming", nil)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	bw := bufio.NewWriter(w)

	if opts.LastEventID > 0 {
		if err := g.resume(ctx, bw, opts); err != nil {
			return err
		}
		flusher.Flush()
	}

	handle, stream := g.bus.Subscribe(eventbus.SubscribeOptions{Filter: opts.Filter, Mode: eventbus.DropOldest})
	defer g.bus.Unsubscribe(handle)

	ticker := time.NewTicker(g.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := bw.WriteString(": heartbeat\n\n"); err != nil {
				return err
			}
			if err := bw.Flush(); err != nil {
				return err
			}
			flusher.Flush()
		case event, ok := <-stream:
			if !ok {
				return nil
			}
			if err := writeEvent(bw, event); err != nil {
				return err
			}
			if err := bw.Flush(); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

// resume replays events after opts.LastEventID, falling back to Redis and
// finally to an explicit resync frame when neither source can close the gap.
func (g *Gateway) resume(ctx context.Context, w *bufio.Writer, opts StreamOptions) error {
	events, ok := g.bus.Replay(opts.LastEventID)
	if ok {
		for _, event := range events {
			if !opts.Filter.Matches(event) {
				continue
			}
			if err := writeEvent(w, event); err != nil {
				return err
			}
		}
		return nil
	}

	if g.redis != nil {
		stored, ok, err := g.redis.Replay(ctx, opts.LastEventID)
		if err == nil && ok {
			for _, s := range stored {
				event := eventbus.Event{
					Sequence:  s.Sequence,
					Type:      s.Type,
					Timestamp: s.Timestamp,
					Scope: eventbus.Scope{
						DepartmentID: s.Scope["departmentId"],
						AgentID:      s.Scope["agentId"],
						CustomerID:   s.Scope["customerId"],
					},
					Payload: s.Payload,
				}
				if !opts.Filter.Matches(event) {
					continue
				}
				if err := writeEvent(w, event); err != nil {
					return err
				}
			}
			return nil
		}
		if err != nil {
			g.logger.WithContext(ctx).WithFields(map[string]interface{}{"error": err.Error()}).Warn("redis replay failed, falling back to resync")
		}
	}

	return writeResync(w)
}

// writeEvent frames one event in the id:/event:/data: wire format.
func writeEvent(w *bufio.Writer, event eventbus.Event) error {
	body, err := json.Marshal(frame{Type: event.Type, Scope: event.Scope, Payload: event.Payload})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Sequence, event.Type, body)
	return err
}

// writeResync tells a reconnecting client its missed window could not be
// served and it must re-fetch current state out of band.
func writeResync(w *bufio.Writer) error {
	_, err := fmt.Fprintf(w, "event: resync\ndata: {}\n\n")
	return err
}
