package middleware

import (
	"strconv"
	"time"

	"github.com/tokmz/stsrt"
	"github.com/tokmz/stsrt/pkg/metrics"
)

// Metrics 创建 HTTP 指标中间件
// route 标签使用路由模板，未匹配路由统一记为 "unmatched"，避免标签基数膨胀
func Metrics(m *metrics.HTTPMetrics) stsrt.HandlerFunc {
	return func(c *stsrt.Context) {
		start := time.Now()
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request().Method
		m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer().Status())).Inc()
		m.RequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// ObserveCache 返回响应缓存中间件的 Observe 回调，按路由统计 HIT / MISS
func ObserveCache(m *metrics.HTTPMetrics) func(c *stsrt.Context, result string) {
	return func(c *stsrt.Context, result string) {
		m.CacheResults.WithLabelValues(c.FullPath(), result).Inc()
	}
}
