// Package rediscache wraps go-redis as an optional, best-effort persistence
// layer for the event bus's replay window: when enabled, SSEGateway
// reconnects can resume across process restarts, not just within the
// in-memory ring buffer's lifetime.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sportsbook-ops/backbone/pkg/config"
)

// Client is a thin wrapper around a go-redis client scoped to one logical
// event stream key prefix.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// New connects to Redis using cfg. It does not ping; callers check
// RedisConfig.Enabled before wiring this into SSEGateway.
func New(cfg config.RedisConfig, prefix string) *Client {
	return &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: prefix,
	}
}

// Ping verifies connectivity with a short timeout.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) key() string {
	return c.prefix + ":replay"
}

// StoredEvent is the JSON-serializable projection of an eventbus.Event
// persisted to the replay list. It is defined here, rather than imported
// from eventbus, so this package stays importable without pulling in the
// bus's subscription machinery.
type StoredEvent struct {
	Sequence  uint64                 `json:"sequence"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Scope     map[string]string      `json:"scope"`
	Payload   map[string]interface{} `json:"payload"`
}

// Append pushes event onto the replay list and trims it to maxLen, keeping
// only the most recent entries — mirroring the in-memory ring buffer's
// eviction policy so Redis-backed replay behaves identically.
func (c *Client) Append(ctx context.Context, event StoredEvent, maxLen int64) error {
	blob, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal stored event: %w", err)
	}
	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, c.key(), blob)
	pipe.LTrim(ctx, c.key(), -maxLen, -1)
	_, err = pipe.Exec(ctx)
	return err
}

// Replay returns every stored event with Sequence > afterSeq, oldest
// first, and whether the oldest retained entry is contiguous with
// afterSeq (false signals a gap the caller must resync around).
func (c *Client) Replay(ctx context.Context, afterSeq uint64) ([]StoredEvent, bool, error) {
	raw, err := c.rdb.LRange(ctx, c.key(), 0, -1).Result()
	if err != nil {
		return nil, false, err
	}
	events := make([]StoredEvent, 0, len(raw))
	for _, item := range raw {
		var e StoredEvent
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, false, fmt.Errorf("unmarshal stored event: %w", err)
		}
		events = append(events, e)
	}
	if len(events) == 0 {
		return nil, afterSeq == 0, nil
	}
	if events[0].Sequence > afterSeq+1 {
		return nil, false, nil
	}
	out := make([]StoredEvent, 0, len(events))
	for _, e := range events {
		if e.Sequence > afterSeq {
			out = append(out, e)
		}
	}
	return out, true, nil
}
