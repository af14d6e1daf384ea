// Package metrics Prometheus 指标
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace 指标命名空间
const Namespace = "stsrt"

// Registry 指标注册表
type Registry struct {
	reg *prometheus.Registry

	HTTP *HTTPMetrics
	Hub  *HubMetrics
}

// New 创建注册表，并注册 Go 运行时与进程指标
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{
		reg:  reg,
		HTTP: newHTTPMetrics(reg),
		Hub:  newHubMetrics(reg),
	}
}

// Register 注册额外的采集器
func (r *Registry) Register(c prometheus.Collector) error {
	return r.reg.Register(c)
}

// Gatherer 返回底层 Gatherer
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler 指标导出 HTTP 处理器
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
