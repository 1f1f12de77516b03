package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	c.ObserveCache("site_info", CacheHit)
	c.ObserveCache("site_info", CacheHit)
	c.ObserveCache("live_status", CacheMiss)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cache.WithLabelValues("site_info", CacheHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cache.WithLabelValues("live_status", CacheMiss)))

	c.ObserveUpstream("live_status", 10*time.Millisecond, nil)
	c.ObserveUpstream("live_status", 10*time.Millisecond, errors.New("boom"))
	assert.Equal(t, 2, testutil.CollectAndCount(c.upstream))

	c.ObserveRequest("GET", "/api/status", true)
	c.ObserveRequest("GET", "/api/nope", false)
	c.ObserveRequest("GET", "/api/other", false)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.requests.WithLabelValues("GET", "unknown", "false")))
}

func TestPrometheusCollectorReRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	second, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	assert.Same(t, first.cache, second.cache, "existing collectors should be reused")
}

func TestNilAndNoop(t *testing.T) {
	var p *PrometheusCollector
	assert.NotPanics(t, func() {
		p.ObserveCache("x", CacheHit)
		p.ObserveUpstream("x", time.Second, nil)
		p.ObserveRequest("GET", "/", true)
		Noop().ObserveCache("x", CacheHit)
	})
}
