// Package eventbus implements the process-local, in-memory event fabric:
// monotonic sequencing, per-subscriber filtered delivery queues, and
// configurable backpressure. One owned goroutine is not required here
// because publish is a direct, lock-protected fan-out rather than a
// worker loop — subscribers each own their delivery channel.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sportsbook-ops/backbone/infrastructure/apperr"
	"github.com/sportsbook-ops/backbone/infrastructure/logging"
)

// Scope narrows an event to the identities it concerns.
type Scope struct {
	DepartmentID string
	AgentID      string
	CustomerID   string
}

// Event is one bus message: a monotonic, dense sequence number, a type, a
// timestamp, a scope, and an opaque payload.
type Event struct {
	Sequence  uint64
	Type      string
	Timestamp time.Time
	Scope     Scope
	Payload   map[string]interface{}
}

// Filter is a conjunction over department/type/agent/customer. An empty
// slice on any dimension means "no constraint on that dimension".
type Filter struct {
	DepartmentIDs []string
	EventTypes    []string
	AgentScope    []string
	CustomerScope []string
}

func matchesSet(set []string, value string) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range set {
		if v == value {
			return true
		}
	}
	return false
}

// Matches reports whether e satisfies every configured dimension of f.
func (f Filter) Matches(e Event) bool {
	return matchesSet(f.DepartmentIDs, e.Scope.DepartmentID) &&
		matchesSet(f.EventTypes, e.Type) &&
		matchesSet(f.AgentScope, e.Scope.AgentID) &&
		matchesSet(f.CustomerScope, e.Scope.CustomerID)
}

// BackpressureMode controls what a subscriber's full queue does to a new
// publish.
type BackpressureMode int

const (
	// DropOldest discards the subscriber's oldest queued event, admitting
	// the new one. This is the bus default.
	DropOldest BackpressureMode = iota
	// BlockWithTimeout blocks the publisher for up to BlockTimeout before
	// falling back to dropping the oldest event.
	BlockWithTimeout
)

// SubscribeOptions configures one subscription.
type SubscribeOptions struct {
	Filter       Filter
	Mode         BackpressureMode
	BlockTimeout time.Duration
	BufferSize   int // defaults to Config.BufferSize when zero
}

// Handle identifies a live subscription for Unsubscribe.
type Handle string

// subscription is a subscriber's owned delivery queue and filter.
type subscription struct {
	handle   Handle
	filter   Filter
	mode     BackpressureMode
	timeout  time.Duration
	ch       chan Event
	lastSeq  uint64
	closed   int32
	limiter  *rate.Limiter
}

// Config controls bus-wide defaults (spec §6 bus.*).
type Config struct {
	BufferSize     int
	RingBufferSize int
	GracePeriod    time.Duration
}

func (c *Config) applyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	if c.RingBufferSize <= 0 {
		c.RingBufferSize = 1024
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 2 * time.Second
	}
}

// Bus is the in-process publish/subscribe fabric.
type Bus struct {
	logger *logging.Logger
	cfg    Config

	mu   sync.RWMutex
	subs map[Handle]*subscription
	seq  uint64

	ringMu sync.Mutex
	ring   []Event
	ringAt int // next write position, wraps

	closing int32
}

// New builds a Bus.
func New(logger *logging.Logger, cfg Config) *Bus {
	cfg.applyDefaults()
	return &Bus{
		logger: logger, cfg: cfg,
		subs: make(map[Handle]*subscription),
		ring: make([]Event, 0, cfg.RingBufferSize),
	}
}

// Publish assigns the next monotonic sequence and fans the event out to
// every matching subscriber, applying each subscriber's backpressure mode
// independently. Subscribers are served one after another, so a publish
// can block for up to the sum of the BlockTimeouts of the full
// BlockWithTimeout subscribers it reaches.
func (b *Bus) Publish(ctx context.Context, eventType string, scope Scope, payload map[string]interface{}) (Event, error) {
	if atomic.LoadInt32(&b.closing) == 1 {
		return Event{}, apperr.Backpressure("eventbus is shutting down")
	}
	seq := atomic.AddUint64(&b.seq, 1)
	event := Event{Sequence: seq, Type: eventType, Timestamp: time.Now().UTC(), Scope: scope, Payload: payload}

	b.appendRing(event)

	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if atomic.LoadInt32(&sub.closed) == 0 && sub.filter.Matches(event) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		b.deliver(ctx, sub, event)
	}
	return event, nil
}

// deliver enqueues event on sub's channel, honoring its backpressure mode.
func (b *Bus) deliver(ctx context.Context, sub *subscription, event Event) {
	select {
	case sub.ch <- event:
		atomic.StoreUint64(&sub.lastSeq, event.Sequence)
		return
	default:
	}

	switch sub.mode {
	case BlockWithTimeout:
		timer := time.NewTimer(sub.timeout)
		defer timer.Stop()
		select {
		case sub.ch <- event:
			atomic.StoreUint64(&sub.lastSeq, event.Sequence)
			return
		case <-timer.C:
		case <-ctx.Done():
		}
		fallthrough
	default: // DropOldest
		select {
		case <-sub.ch: // drop oldest
		default:
		}
		select {
		case sub.ch <- event:
			atomic.StoreUint64(&sub.lastSeq, event.Sequence)
		default:
		}
		b.publishLagged(ctx, sub)
	}
}

// publishLagged logs the subscriber.lagged condition, rate-limited per
// subscriber so a consistently slow subscriber dropping many events in a
// burst doesn't flood the log at the bus's full publish rate.
func (b *Bus) publishLagged(ctx context.Context, sub *subscription) {
	if !sub.limiter.Allow() {
		return
	}
	b.logger.WithContext(ctx).WithFields(map[string]interface{}{"subscriber": string(sub.handle)}).Warn("subscriber lagged, dropped oldest queued event")
}

// appendRing stores event in the bounded replay buffer.
func (b *Bus) appendRing(event Event) {
	b.ringMu.Lock()
	defer b.ringMu.Unlock()
	if len(b.ring) < b.cfg.RingBufferSize {
		b.ring = append(b.ring, event)
		return
	}
	b.ring[b.ringAt] = event
	b.ringAt = (b.ringAt + 1) % b.cfg.RingBufferSize
}

// Replay returns events with sequence > afterSeq still held in the ring
// buffer, oldest first, and whether the full gap could be served (false
// means some events were already evicted and the caller must resync).
func (b *Bus) Replay(afterSeq uint64) ([]Event, bool) {
	b.ringMu.Lock()
	defer b.ringMu.Unlock()

	ordered := make([]Event, 0, len(b.ring))
	if len(b.ring) < b.cfg.RingBufferSize {
		ordered = append(ordered, b.ring...)
	} else {
		ordered = append(ordered, b.ring[b.ringAt:]...)
		ordered = append(ordered, b.ring[:b.ringAt]...)
	}
	if len(ordered) == 0 {
		return nil, afterSeq == 0
	}
	if ordered[0].Sequence > afterSeq+1 {
		return nil, false // gap already evicted, caller must resync
	}
	out := make([]Event, 0, len(ordered))
	for _, e := range ordered {
		if e.Sequence > afterSeq {
			out = append(out, e)
		}
	}
	return out, true
}

// Subscribe registers a new subscription and returns its handle and
// delivery stream.
func (b *Bus) Subscribe(opts SubscribeOptions) (Handle, <-chan Event) {
	bufferSize := opts.BufferSize
	if bufferSize <= 0 {
		bufferSize = b.cfg.BufferSize
	}
	timeout := opts.BlockTimeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	sub := &subscription{
		handle:  Handle(uuid.NewString()),
		filter:  opts.Filter,
		mode:    opts.Mode,
		timeout: timeout,
		ch:      make(chan Event, bufferSize),
		limiter: rate.NewLimiter(rate.Limit(1000), 1000),
	}
	b.mu.Lock()
	b.subs[sub.handle] = sub
	b.mu.Unlock()
	return sub.handle, sub.ch
}

// Unsubscribe closes and removes a subscription. Idempotent.
func (b *Bus) Unsubscribe(handle Handle) {
	b.mu.Lock()
	sub, ok := b.subs[handle]
	if ok {
		delete(b.subs, handle)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	if atomic.CompareAndSwapInt32(&sub.closed, 0, 1) {
		close(sub.ch)
	}
}

// LastDelivered returns the highest sequence delivered to handle, or 0 if
// unknown or already unsubscribed.
func (b *Bus) LastDelivered(handle Handle) uint64 {
	b.mu.RLock()
	sub, ok := b.subs[handle]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadUint64(&sub.lastSeq)
}

// Shutdown stops accepting new publishes, waits up to the configured grace
// period giving subscribers a chance to drain, then closes every
// subscription's channel.
func (b *Bus) Shutdown(ctx context.Context) {
	atomic.StoreInt32(&b.closing, 1)

	grace, cancel := context.WithTimeout(ctx, b.cfg.GracePeriod)
	defer cancel()
	<-grace.Done()

	b.mu.Lock()
	defer b.mu.Unlock()
	for handle, sub := range b.subs {
		if atomic.CompareAndSwapInt32(&sub.closed, 0, 1) {
			close(sub.ch)
		}
		delete(b.subs, handle)
	}
}

// Adapter satisfies the narrow EventPublisher interface each domain
// component declares for itself (AgentGraph, WagerEngine, CommissionEngine,
// MatchingQueue), translating their plain string-keyed scope into a Scope.
type Adapter struct {
	bus *Bus
}

// NewAdapter wraps bus for injection into components built against their
// own local EventPublisher interface.
func NewAdapter(bus *Bus) Adapter {
	return Adapter{bus: bus}
}

// Publish implements the component-local EventPublisher contract.
func (a Adapter) Publish(ctx context.Context, eventType string, scope map[string]string, payload map[string]interface{}) error {
	_, err := a.bus.Publish(ctx, eventType, Scope{
		DepartmentID: scope["departmentId"],
		AgentID:      scope["agentId"],
		CustomerID:   scope["customerId"],
	}, payload)
	return err
}
