package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache lookup outcomes reported through ObserveCache.
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheStale  = "stale"
	CacheForced = "forced"
	CacheWaited = "waited"
)

// Collector receives telemetry from the cache and the local API dispatcher.
// Calls happen inline with requests so implementations must be cheap.
type Collector interface {
	ObserveCache(resource, outcome string)
	ObserveUpstream(resource string, took time.Duration, err error)
	ObserveRequest(method, path string, known bool)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) ObserveCache(string, string)                  {}
func (noopCollector) ObserveUpstream(string, time.Duration, error) {}
func (noopCollector) ObserveRequest(string, string, bool)          {}

// PrometheusCollector exposes the telemetry as Prometheus metrics.
type PrometheusCollector struct {
	cache    *prometheus.CounterVec
	upstream *prometheus.HistogramVec
	requests *prometheus.CounterVec
}

// NewPrometheusCollector registers the metrics with reg, reusing collectors
// that were already registered by an earlier call.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	cache, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetproxy_cache_lookups_total",
		Help: "Cache lookups per upstream resource and outcome.",
	}, []string{"resource", "outcome"}))
	if err != nil {
		return nil, err
	}
	upstream, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleetproxy_upstream_fetch_seconds",
		Help:    "Latency of FleetAPI fetches per resource and result.",
		Buckets: prometheus.DefBuckets,
	}, []string{"resource", "result"}))
	if err != nil {
		return nil, err
	}
	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetproxy_local_api_requests_total",
		Help: "Local API requests per method, path and whether the path is registered.",
	}, []string{"method", "path", "known"}))
	if err != nil {
		return nil, err
	}
	return &PrometheusCollector{
		cache:    cache,
		upstream: upstream,
		requests: requests,
	}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ObserveCache counts one cache lookup.
func (p *PrometheusCollector) ObserveCache(resource, outcome string) {
	if p == nil {
		return
	}
	p.cache.WithLabelValues(resource, outcome).Inc()
}

// ObserveUpstream records the latency of one upstream fetch.
func (p *PrometheusCollector) ObserveUpstream(resource string, took time.Duration, err error) {
	if p == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.upstream.WithLabelValues(resource, result).Observe(took.Seconds())
}

// ObserveRequest counts one local API request. Unknown paths are folded into
// a single label value so callers enumerating paths cannot blow up the
// cardinality.
func (p *PrometheusCollector) ObserveRequest(method, path string, known bool) {
	if p == nil {
		return
	}
	k := "true"
	if !known {
		path = "unknown"
		k = "false"
	}
	p.requests.WithLabelValues(method, path, k).Inc()
}
