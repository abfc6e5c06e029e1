// Package cache is an optional distributed mirror of the Historical
// Memory Store's computed performance weights, backed by Redis. It lets
// horizontally-scaled read consumers (dashboard API replicas, auxiliary
// analysis processes) serve weight lookups without linking the store
// itself. The mirror is optional: an empty address disables it and every
// error degrades to a miss.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ictengine/core/internal/pattern"
)

// DefaultTTL bounds how long a mirrored weight stays valid for a reader
// that never recomputes it locally.
const DefaultTTL = 5 * time.Minute

// WeightMirror publishes Historical Memory Store weights to Redis and
// serves them back out, implementing memory.Mirror.
type WeightMirror struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
}

// New wires a WeightMirror to a Redis address (e.g. "localhost:6379").
// Connection failures are never fatal: a failed publish is logged at
// debug level and a failed read reports a miss, mirroring the store's own
// never-block-the-detection-path contract.
func New(addr string, db int) *WeightMirror {
	return &WeightMirror{
		client:  redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		ttl:     DefaultTTL,
		timeout: 500 * time.Millisecond,
	}
}

func weightKey(kind pattern.Kind, symbol, timeframe string) string {
	return fmt.Sprintf("ictengine:weight:%s:%s:%s", kind, symbol, timeframe)
}

// PublishWeight writes the latest computed weight for (kind, symbol,
// timeframe), best-effort.
func (m *WeightMirror) PublishWeight(kind pattern.Kind, symbol, timeframe string, weight float64) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	if err := m.client.Set(ctx, weightKey(kind, symbol, timeframe), weight, m.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("kind", string(kind)).Str("symbol", symbol).
			Msg("weight mirror publish failed, continuing uncached")
	}
}

// GetWeight serves a mirrored weight, returning ok=false on a cache miss
// or any Redis error (callers fall back to the store's GetPerformanceWeight).
func (m *WeightMirror) GetWeight(kind pattern.Kind, symbol, timeframe string) (float64, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	v, err := m.client.Get(ctx, weightKey(kind, symbol, timeframe)).Float64()
	if err != nil {
		return 0, false
	}
	return v, true
}

// Close releases the underlying Redis connection pool.
func (m *WeightMirror) Close() error {
	return m.client.Close()
}

// ConsolidatedMirror caches the orchestrator's ConsolidatedView JSON by
// key, for deployments running more orchestrator replicas than detector
// pools. Values are opaque JSON blobs; decoding is the caller's job.
type ConsolidatedMirror struct {
	client  *redis.Client
	timeout time.Duration
}

// NewConsolidatedMirror wires a ConsolidatedMirror to the same Redis
// instance a WeightMirror would use.
func NewConsolidatedMirror(addr string, db int) *ConsolidatedMirror {
	return &ConsolidatedMirror{
		client:  redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		timeout: 500 * time.Millisecond,
	}
}

// Set stores v JSON-encoded under key with ttl.
func (m *ConsolidatedMirror) Set(key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal consolidated view: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	return m.client.Set(ctx, "ictengine:consolidated:"+key, data, ttl).Err()
}

// Get decodes the cached value for key into out, reporting a miss on any
// error (expired, absent, or a transport failure).
func (m *ConsolidatedMirror) Get(key string, out interface{}) bool {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	data, err := m.client.Get(ctx, "ictengine:consolidated:"+key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

// Close releases the underlying Redis connection pool.
func (m *ConsolidatedMirror) Close() error {
	return m.client.Close()
}
