package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tokmz/stsrt/pkg/cache"
)

// CacheStatsSource 缓存统计来源
type CacheStatsSource interface {
	Stats(ctx context.Context) cache.Stats
}

// CacheCollector 抓取时读取缓存统计
type CacheCollector struct {
	source  CacheStatsSource
	timeout time.Duration

	hits      *prometheus.Desc
	misses    *prometheus.Desc
	entries   *prometheus.Desc
	evictions *prometheus.Desc
}

// NewCacheCollector 创建缓存采集器
func NewCacheCollector(source CacheStatsSource) *CacheCollector {
	return &CacheCollector{
		source:    source,
		timeout:   2 * time.Second,
		hits:      prometheus.NewDesc(Namespace+"_cache_hits_total", "Total number of cache hits", nil, nil),
		misses:    prometheus.NewDesc(Namespace+"_cache_misses_total", "Total number of cache misses", nil, nil),
		entries:   prometheus.NewDesc(Namespace+"_cache_entries", "Number of unexpired cache entries", nil, nil),
		evictions: prometheus.NewDesc(Namespace+"_cache_evictions_total", "Total number of entries evicted by expiry or capacity", nil, nil),
	}
}

// Describe 实现 prometheus.Collector
func (c *CacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.entries
	ch <- c.evictions
}

// Collect 实现 prometheus.Collector
func (c *CacheCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	s := c.source.Stats(ctx)
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.HitCount))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.MissCount))
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.EntryCount))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.EvictionCount))
}
