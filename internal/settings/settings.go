// Package settings serves runtime switches from the app_config table
// through a small TTL cache, so hot paths (every composed message, every
// intake request) do not query Postgres.
package settings

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"tasseo/internal/types"
)

// Well-known keys.
const (
	KeyLLMEnabled         = "engagement.llm_enabled"
	KeyCreditCheckEnabled = "intake.credit_check_enabled"
)

// DefaultTTL is how long a fetched value is served before it is re-read.
const DefaultTTL = time.Minute

// Store reads one value. db.AppConfigRepository satisfies it.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
}

type entry struct {
	value   string
	found   bool
	fetched time.Time
}

// Cache is a read-through TTL cache over Store. When a refresh fails the
// previous value keeps being served; with no previous value the caller's
// default applies.
type Cache struct {
	store  Store
	ttl    time.Duration
	clock  types.Clock
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]entry
}

// New creates a Cache.
func New(store Store, ttl time.Duration, clock types.Clock, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:   store,
		ttl:     ttl,
		clock:   clock,
		logger:  logger,
		entries: make(map[string]entry),
	}
}

// String returns the value of key, or def when it is not set.
func (c *Cache) String(ctx context.Context, key, def string) string {
	value, found := c.lookup(ctx, key)
	if !found {
		return def
	}
	return value
}

// Bool returns key parsed with strconv.ParseBool, or def when it is unset
// or unparsable.
func (c *Cache) Bool(ctx context.Context, key string, def bool) bool {
	value, found := c.lookup(ctx, key)
	if !found {
		return def
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		c.logger.WarnContext(ctx, "app config value is not a boolean", "key", key, "value", value)
		return def
	}
	return b
}

// Invalidate drops key so the next read goes to the store.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *Cache) lookup(ctx context.Context, key string) (string, bool) {
	now := c.clock.Now()

	c.mu.Lock()
	cached, ok := c.entries[key]
	c.mu.Unlock()
	if ok && now.Sub(cached.fetched) < c.ttl {
		return cached.value, cached.found
	}

	value, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "app config refresh failed",
			"key", key,
			"stale", ok,
			"error", err,
		)
		if ok {
			return cached.value, cached.found
		}
		return "", false
	}

	c.mu.Lock()
	c.entries[key] = entry{value: value, found: found, fetched: now}
	c.mu.Unlock()
	return value, found
}
