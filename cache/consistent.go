package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Config bounds cache behavior. Treated as immutable after New.
type Config struct {
	// DefaultTTL applies when a caller passes ttl <= 0. Default 5 minutes.
	DefaultTTL time.Duration

	// MaxTTL clamps every entry's TTL, bounding worst-case staleness if an
	// invalidation is ever missed. Default 1 hour.
	MaxTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 5 * time.Minute
	}
	if c.MaxTTL <= 0 {
		c.MaxTTL = time.Hour
	}
	return c
}

func (c Config) clamp(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = c.DefaultTTL
	}
	if ttl > c.MaxTTL {
		ttl = c.MaxTTL
	}
	return ttl
}

// Option configures the Consistent layer.
type Option func(*Consistent)

// WithConsistentLogger sets a custom logger.
func WithConsistentLogger(l *slog.Logger) Option {
	return func(c *Consistent) { c.logger = l }
}

// Consistent keeps a cache aligned with the authoritative store.
//
// Reads are accelerated best-effort: a failed population is logged, never
// surfaced. Writes are strict: a mutation does not count as successful until
// the store write and every affected invalidation both completed, because
// serving stale reads is a worse failure mode than a visible retry.
type Consistent struct {
	store  Store
	cfg    Config
	logger *slog.Logger
}

// New creates the consistency layer over a cache store.
func New(store Store, cfg Config, opts ...Option) *Consistent {
	c := &Consistent{store: store, cfg: cfg.withDefaults(), logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Store returns the underlying cache store.
func (c *Consistent) Store() Store { return c.store }

// GetOrLoad returns the cached value for key, loading and populating it on a
// miss.
//
// Go does not support type parameters on methods, so this is a package-level
// generic.
func GetOrLoad[T any](ctx context.Context, c *Consistent, key string, ttl time.Duration, load func(ctx context.Context) (*T, error)) (*T, error) {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		// A broken cache degrades to a store read; it must not break reads.
		c.logger.Warn("cache get failed", "key", key, "error", err)
	}
	if ok {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			return &v, nil
		}
		// Undecodable entry: drop it and fall through to the loader.
		c.logger.Warn("cache entry undecodable, evicting", "key", key)
		_ = c.store.Delete(ctx, key)
	}

	v, err := load(ctx)
	if err != nil {
		return nil, err
	}

	data, err = json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	if err := c.store.Set(ctx, key, data, c.cfg.clamp(ttl)); err != nil {
		c.logger.Warn("cache populate failed", "key", key, "error", err)
	}
	return v, nil
}

// Invalidate removes exact keys.
func (c *Consistent) Invalidate(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := c.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("invalidate %s: %w", key, err)
		}
	}
	return nil
}

// InvalidatePattern removes every entry under each prefix. Collection views
// (e.g. all invoices owned by a user) are keyed under an owner-scoped prefix
// and invalidated whenever any member entity changes.
func (c *Consistent) InvalidatePattern(ctx context.Context, prefixes ...string) error {
	for _, prefix := range prefixes {
		if err := c.store.DeleteByPrefix(ctx, prefix); err != nil {
			return fmt.Errorf("invalidate prefix %s: %w", prefix, err)
		}
	}
	return nil
}

// Mutate runs the store mutation and then synchronously invalidates the
// exact keys and owning-collection prefixes, as one logical step. If any
// part fails the whole step fails, so a retry of the mutation also retries
// its invalidation and no committed write can leave a stale entry behind.
//
// Prefix invalidation is authoritative for collection views; removing the
// exact keys as well is a harmless redundancy that shortens the window for
// single-entity reads.
func (c *Consistent) Mutate(ctx context.Context, mutation func(ctx context.Context) error, keys []string, prefixes []string) error {
	if err := mutation(ctx); err != nil {
		return err
	}
	if err := c.Invalidate(ctx, keys...); err != nil {
		return err
	}
	return c.InvalidatePattern(ctx, prefixes...)
}
