// Package localapi serves the Powerwall local API document surface from the
// FleetAPI. Paths are resolved through a read and a write table, translated
// from the upstream site_info and live_status documents, and cached per site.
package localapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/fleetproxy/pkg/cache"
	"github.com/raterudder/fleetproxy/pkg/fleetapi"
	"github.com/raterudder/fleetproxy/pkg/log"
	"github.com/raterudder/fleetproxy/pkg/metrics"
	"github.com/raterudder/fleetproxy/pkg/types"
)

var (
	// ErrNoSites is returned when the account has no energy sites.
	ErrNoSites = errors.New("no energy sites found")
	// ErrSiteNotFound is returned when the requested site is not on the
	// account.
	ErrSiteNotFound = errors.New("site not found")
	// ErrNotConnected is returned by Poll and Post before Connect succeeded.
	ErrNotConnected = errors.New("not connected to fleetapi")
	// ErrInvalidPayload is returned when a write payload cannot be applied.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrInvalidSiteID is returned when a site id is not a number.
	ErrInvalidSiteID = errors.New("invalid site id")
)

// Upstream resources, used as cache key names.
const (
	resourceSiteInfo   = "site_info"
	resourceLiveStatus = "live_status"
)

const (
	// DefaultCacheExpire is how long live telemetry is served from cache.
	DefaultCacheExpire = 5 * time.Second
	// DefaultSiteConfigTTL is how long the site configuration is served from
	// cache. It changes rarely and writes invalidate it.
	DefaultSiteConfigTTL = 59 * time.Second
)

// Gateway answers local API requests for the current site. It is safe for
// concurrent use.
type Gateway struct {
	client        fleetapi.SiteClient
	cache         *cache.Cache
	metrics       metrics.Collector
	liveTTL       time.Duration
	siteConfigTTL time.Duration
	now           func() time.Time

	read  map[Path]Handler
	write map[Path]Handler

	mu        sync.RWMutex
	wantSite  int64
	site      types.SiteSummary
	connected bool
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithSiteID preselects the site Connect should use. Zero means the first
// site of the account.
func WithSiteID(id int64) Option {
	return func(g *Gateway) { g.wantSite = id }
}

// WithCacheExpire sets the live telemetry TTL.
func WithCacheExpire(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.liveTTL = d
		}
	}
}

// WithSiteConfigTTL sets the site configuration TTL.
func WithSiteConfigTTL(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.siteConfigTTL = d
		}
	}
}

// WithMetrics reports local API requests to m.
func WithMetrics(m metrics.Collector) Option {
	return func(g *Gateway) {
		if m != nil {
			g.metrics = m
		}
	}
}

// WithClock overrides time.Now for the synthesized communication times.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New returns a Gateway reading through c. Connect must be called before the
// Gateway serves requests.
func New(client fleetapi.SiteClient, c *cache.Cache, opts ...Option) *Gateway {
	g := &Gateway{
		client:        client,
		cache:         c,
		metrics:       metrics.Noop(),
		liveTTL:       DefaultCacheExpire,
		siteConfigTTL: DefaultSiteConfigTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.read = g.readTable()
	g.write = g.writeTable()
	return g
}

// Config holds the flag-driven settings of a Gateway and its cache.
type Config struct {
	siteID        int64
	cacheExpire   time.Duration
	siteConfigTTL time.Duration
	policy        cache.Policy
	maxEntries    int
}

// Configured registers the gateway and cache flags.
func Configured() *Config {
	siteID := lflag.String("site-id", "", "Energy site id to serve (defaults to the stored site or the first site)")
	cacheExpire := lflag.Duration("cache-expire", DefaultCacheExpire, "How long live telemetry is served from cache")
	siteConfigTTL := lflag.Duration("site-config-ttl", DefaultSiteConfigTTL, "How long the site configuration is served from cache")
	policy := lflag.String("cache-policy", "stale", "What a reader does while another fetch of the same resource is in flight (stale or wait)")
	maxEntries := lflag.String("cache-max-entries", "1024", "Maximum number of cached upstream documents")

	c := &Config{}
	lflag.Do(func() {
		var err error
		if *siteID != "" {
			if c.siteID, err = ParseSiteID(*siteID); err != nil {
				panic(fmt.Sprintf("invalid --site-id: %v", err))
			}
		}
		if c.policy, err = cache.ParsePolicy(*policy); err != nil {
			panic(fmt.Sprintf("invalid --cache-policy: %v", err))
		}
		c.cacheExpire = *cacheExpire
		c.siteConfigTTL = *siteConfigTTL
		if c.maxEntries, err = strconv.Atoi(*maxEntries); err != nil || c.maxEntries <= 0 {
			panic(fmt.Sprintf("invalid --cache-max-entries: %q", *maxEntries))
		}
	})
	return c
}

// NewGateway builds the cache and a Gateway from the flags. A --site-id flag
// takes precedence over a WithSiteID option.
func (c *Config) NewGateway(client fleetapi.SiteClient, m metrics.Collector, opts ...Option) *Gateway {
	rc := cache.New(c.maxEntries, cache.WithPolicy(c.policy), cache.WithMetrics(m))
	opts = append([]Option{
		WithCacheExpire(c.cacheExpire),
		WithSiteConfigTTL(c.siteConfigTTL),
		WithMetrics(m),
	}, opts...)
	if c.siteID != 0 {
		opts = append(opts, WithSiteID(c.siteID))
	}
	return New(client, rc, opts...)
}

// ParseSiteID parses a site id given as a string, as the config file and the
// HTTP API do.
func ParseSiteID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSiteID, s)
	}
	return id, nil
}

// Sites lists the energy sites of the account. The list is never cached.
func (g *Gateway) Sites(ctx context.Context) ([]types.SiteSummary, error) {
	sites, err := g.client.ListSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	return sites, nil
}

func findSite(sites []types.SiteSummary, id int64) (types.SiteSummary, bool) {
	for _, s := range sites {
		if s.EnergySiteID == id {
			return s, true
		}
	}
	return types.SiteSummary{}, false
}

// Connect selects the preselected site, or the first site of the account when
// none was preselected.
func (g *Gateway) Connect(ctx context.Context) error {
	sites, err := g.Sites(ctx)
	if err != nil {
		return err
	}
	if len(sites) == 0 {
		log.Ctx(ctx).ErrorContext(ctx, "no energy sites found")
		return ErrNoSites
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	site := sites[0]
	if g.wantSite != 0 {
		var ok bool
		site, ok = findSite(sites, g.wantSite)
		if !ok {
			log.Ctx(ctx).ErrorContext(ctx, "preselected site not found", slog.Int64("siteID", g.wantSite))
			return fmt.Errorf("%w: %d", ErrSiteNotFound, g.wantSite)
		}
	}
	g.site = site
	g.connected = true
	log.Ctx(ctx).InfoContext(ctx, "connected to fleetapi",
		slog.Int64("siteID", site.EnergySiteID),
		slog.String("siteName", site.SiteName),
	)
	return nil
}

// ChangeSite switches the current site. On failure the selection is left
// unchanged.
func (g *Gateway) ChangeSite(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSiteID, id)
	}
	sites, err := g.Sites(ctx)
	if err != nil {
		return err
	}
	if len(sites) == 0 {
		return ErrNoSites
	}
	site, ok := findSite(sites, id)
	if !ok {
		log.Ctx(ctx).ErrorContext(ctx, "site not found", slog.Int64("siteID", id))
		return fmt.Errorf("%w: %d", ErrSiteNotFound, id)
	}

	g.mu.Lock()
	g.site = site
	g.wantSite = id
	g.connected = true
	g.mu.Unlock()

	log.Ctx(ctx).InfoContext(ctx, "changed site",
		slog.Int64("siteID", site.EnergySiteID),
		slog.String("siteName", site.SiteName),
	)
	return nil
}

// Site returns the current site and whether Connect has succeeded.
func (g *Gateway) Site() (types.SiteSummary, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.site, g.connected
}

func (g *Gateway) currentSite() (int64, error) {
	site, ok := g.Site()
	if !ok {
		return 0, ErrNotConnected
	}
	return site.EnergySiteID, nil
}

func (g *Gateway) siteInfo(ctx context.Context, site int64, force bool) (types.SiteInfo, error) {
	key := cache.Key{Site: site, Resource: resourceSiteInfo}
	return cache.Fetch(ctx, g.cache, key, g.siteConfigTTL, force, func(ctx context.Context) (types.SiteInfo, error) {
		return g.client.SiteInfo(ctx, site)
	})
}

func (g *Gateway) liveStatus(ctx context.Context, site int64, force bool) (types.LiveStatus, error) {
	key := cache.Key{Site: site, Resource: resourceLiveStatus}
	return cache.Fetch(ctx, g.cache, key, g.liveTTL, force, func(ctx context.Context) (types.LiveStatus, error) {
		return g.client.LiveStatus(ctx, site)
	})
}
