// Package cache implements the response cache that sits in front of the
// FleetAPI. Every resource key has its own lock so that concurrent readers of
// the same resource collapse into a single upstream call while unrelated keys
// never contend.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/maypok86/otter"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/raterudder/fleetproxy/pkg/log"
	"github.com/raterudder/fleetproxy/pkg/metrics"
)

// Policy decides what a reader does when the entry is stale and another
// caller is already fetching it.
type Policy int

const (
	// PolicyServeStale returns the last known value, if there is one, instead
	// of waiting for the in-flight fetch.
	PolicyServeStale Policy = iota
	// PolicyWait blocks until the in-flight fetch finishes and returns its
	// result.
	PolicyWait
)

// ParsePolicy parses the --cache-policy flag value.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "stale", "serve-stale":
		return PolicyServeStale, nil
	case "wait":
		return PolicyWait, nil
	}
	return 0, fmt.Errorf("unknown cache policy: %q", s)
}

func (p Policy) String() string {
	switch p {
	case PolicyServeStale:
		return "stale"
	case PolicyWait:
		return "wait"
	}
	return "Policy(" + strconv.Itoa(int(p)) + ")"
}

// Key identifies one upstream resource of one site.
type Key struct {
	Site     int64
	Resource string
}

func (k Key) String() string {
	return strconv.FormatInt(k.Site, 10) + "/" + k.Resource
}

type entry struct {
	value     any
	fetchedAt time.Time
}

// keyLock is a one-slot semaphore so that waiting can be abandoned when the
// context is done.
type keyLock chan struct{}

func (l keyLock) tryLock() bool {
	select {
	case l <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l keyLock) lock(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l keyLock) unlock() {
	<-l
}

// FetchFunc loads a resource from upstream.
type FetchFunc func(ctx context.Context) (any, error)

// Cache is a TTL cache with per-key single-flight locking. The zero value is
// not usable, use New.
type Cache struct {
	entries otter.Cache[Key, entry]
	locks   *xsync.Map[Key, keyLock]
	policy  Policy
	metrics metrics.Collector
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithPolicy sets the policy used under lock contention.
func WithPolicy(p Policy) Option {
	return func(c *Cache) { c.policy = p }
}

// WithMetrics reports lookups and fetches to m.
func WithMetrics(m metrics.Collector) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithClock overrides time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns a Cache holding at most maxEntries values.
func New(maxEntries int, opts ...Option) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	entries, err := otter.MustBuilder[Key, entry](maxEntries).
		Cost(func(Key, entry) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("cache: failed to create entry store: " + err.Error())
	}
	c := &Cache{
		entries: entries,
		locks:   xsync.NewMap[Key, keyLock](),
		policy:  PolicyServeStale,
		metrics: metrics.Noop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the configured contention policy.
func (c *Cache) Policy() Policy {
	return c.policy
}

func (c *Cache) lockFor(key Key) keyLock {
	l, _ := c.locks.LoadOrCompute(key, func() (keyLock, bool) {
		return make(keyLock, 1), false
	})
	return l
}

func (c *Cache) fresh(e entry, ttl time.Duration) bool {
	return c.now().Sub(e.fetchedAt) < ttl
}

// GetOrFetch returns the cached value of key if it is younger than ttl and
// otherwise calls fetch. With force set the cache is bypassed. Fetch errors
// are returned as-is and never cached.
func (c *Cache) GetOrFetch(ctx context.Context, key Key, ttl time.Duration, fetch FetchFunc, force bool) (any, error) {
	l := c.lockFor(key)

	if force {
		c.metrics.ObserveCache(key.Resource, metrics.CacheForced)
		if err := l.lock(ctx); err != nil {
			return nil, err
		}
		defer l.unlock()
		return c.fetch(ctx, key, fetch)
	}

	e, ok := c.entries.Get(key)
	if ok && c.fresh(e, ttl) {
		c.metrics.ObserveCache(key.Resource, metrics.CacheHit)
		return e.value, nil
	}

	if !l.tryLock() {
		if ok && c.policy == PolicyServeStale {
			c.metrics.ObserveCache(key.Resource, metrics.CacheStale)
			log.Ctx(ctx).DebugContext(ctx, "fetch in flight, serving stale value",
				slog.String("key", key.String()),
				slog.Duration("age", c.now().Sub(e.fetchedAt)),
			)
			return e.value, nil
		}
		c.metrics.ObserveCache(key.Resource, metrics.CacheWaited)
		if err := l.lock(ctx); err != nil {
			return nil, err
		}
	} else {
		c.metrics.ObserveCache(key.Resource, metrics.CacheMiss)
	}
	defer l.unlock()

	// whoever held the lock before us may have just stored a fresh value
	if e, ok := c.entries.Get(key); ok && c.fresh(e, ttl) {
		return e.value, nil
	}
	return c.fetch(ctx, key, fetch)
}

// fetch must be called with the key lock held.
func (c *Cache) fetch(ctx context.Context, key Key, fetch FetchFunc) (any, error) {
	start := c.now()
	v, err := fetch(ctx)
	c.metrics.ObserveUpstream(key.Resource, c.now().Sub(start), err)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "upstream fetch failed", slog.String("key", key.String()), slog.Any("error", err))
		return nil, err
	}
	c.entries.Set(key, entry{value: v, fetchedAt: c.now()})
	return v, nil
}

// Invalidate removes the entry of key so the next read refetches it.
func (c *Cache) Invalidate(key Key) {
	c.entries.Delete(key)
}

// InvalidateSite removes every entry that belongs to site.
func (c *Cache) InvalidateSite(site int64) {
	c.entries.DeleteByFunc(func(k Key, _ entry) bool {
		return k.Site == site
	})
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.entries.Size()
}

// Fetch is the typed form of GetOrFetch.
func Fetch[T any](ctx context.Context, c *Cache, key Key, ttl time.Duration, force bool, fetch func(ctx context.Context) (T, error)) (T, error) {
	v, err := c.GetOrFetch(ctx, key, ttl, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}, force)
	if err != nil {
		var zero T
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cache: entry %s holds %T, not %T", key, v, zero)
	}
	return t, nil
}
