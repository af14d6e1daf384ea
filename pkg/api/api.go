// Package api 注册缓存、实时推送与运维相关的 HTTP 路由
package api

import (
	"net/http"
	"time"

	"github.com/tokmz/stsrt"
	"github.com/tokmz/stsrt/middleware"
	"github.com/tokmz/stsrt/pkg/cache"
	"github.com/tokmz/stsrt/pkg/logger"
	"github.com/tokmz/stsrt/pkg/metrics"
	"github.com/tokmz/stsrt/pkg/ws"
)

// Options 路由依赖
type Options struct {
	Cache   *cache.ResponseCache
	Hub     *ws.Hub
	Stream  *ws.StreamingService
	Metrics *metrics.Registry // nil 时不暴露 /metrics
	Auth    *TokenVerifier    // nil 时从 user_id 查询参数识别用户

	// RouteTTL 只读聚合接口的响应缓存时间
	RouteTTL time.Duration
	Logger   logger.Logger
}

// Handler HTTP 处理器集合
type Handler struct {
	cache    *cache.ResponseCache
	hub      *ws.Hub
	stream   *ws.StreamingService
	metrics  *metrics.Registry
	auth     *TokenVerifier
	routeTTL time.Duration
	log      logger.Logger
}

// New 创建处理器
func New(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Stream == nil && opts.Hub != nil {
		opts.Stream = ws.NewStreamingService(opts.Hub)
	}
	return &Handler{
		cache:    opts.Cache,
		hub:      opts.Hub,
		stream:   opts.Stream,
		metrics:  opts.Metrics,
		auth:     opts.Auth,
		routeTTL: opts.RouteTTL,
		log:      opts.Logger.Named("api"),
	}
}

// Register 注册全部路由
func (h *Handler) Register(e *stsrt.Engine) {
	root := e.RouterGroup()
	root.GET("/healthz", h.healthz)
	if h.metrics != nil {
		root.GET("/metrics", stsrt.FromHTTP(h.metrics.Handler()))
	}

	v1 := e.Group("/api/v1")

	cacheGroup := v1.Group("/cache")
	cacheGroup.GET("/stats", h.cacheStats)
	cacheGroup.POST("/clear", h.cacheClear)
	stsrt.DELETE0[deleteKeyReq](cacheGroup, "/keys/:key", h.cacheDelete)

	rt := v1.Group("/realtime")
	stsrt.GETOnly[ws.Stats](rt, "/stats", h.realtimeStats)
	stsrt.GETOnly[connectionsResp](rt, "/connections", h.connections)
	stsrt.DELETE0[kickReq](rt, "/connections/:id", h.kick)
	rt.POST("/events", h.publishEvent)

	snapshotCfg := &middleware.ResponseCacheConfig{TTL: h.routeTTL, Logger: h.log}
	if h.metrics != nil {
		snapshotCfg.Observe = middleware.ObserveCache(h.metrics.HTTP)
	}
	snapshot := v1.Group("/snapshot", middleware.ResponseCache(h.cache, snapshotCfg))
	stsrt.GETOnly[dashboardSnapshot](snapshot, "/dashboard", h.dashboardSnapshot)

	v1.GET("/ws", h.upgrade)
}

// healthz 存储可用时返回 {status: ok}
func (h *Handler) healthz(c *stsrt.Context) {
	if err := h.cache.Ping(c.RequestContext()); err != nil {
		c.JSON(http.StatusServiceUnavailable, &stsrt.HealthResponse{Status: "degraded", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, &stsrt.HealthResponse{Status: "ok"})
}
