package middleware

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokmz/stsrt"
)

// TracingConfig 链路追踪中间件配置
type TracingConfig struct {
	// TracerName Tracer 名称（默认 "stsrt.http"）
	TracerName string

	// ExcludePaths 排除的路径（不追踪），如 /metrics
	ExcludePaths []string
}

// Tracing 创建链路追踪中间件
// 提取上游 TraceContext，创建 Server Span，并把 TraceID 写入上下文供统一响应与日志使用
func Tracing(cfgs ...*TracingConfig) stsrt.HandlerFunc {
	cfg := &TracingConfig{}
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}
	if cfg.TracerName == "" {
		cfg.TracerName = "stsrt.http"
	}

	skipMap := make(map[string]bool, len(cfg.ExcludePaths))
	for _, path := range cfg.ExcludePaths {
		skipMap[path] = true
	}

	return func(c *stsrt.Context) {
		req := c.Request()
		if skipMap[req.URL.Path] {
			c.Next()
			return
		}

		// 每次请求获取 tracer，Provider 晚于中间件初始化时也能生效
		tracer := otel.Tracer(cfg.TracerName)
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(req.Context(), propagation.HeaderCarrier(req.Header))

		route := c.FullPath()
		if route == "" {
			route = req.URL.Path
		}
		attrs := []attribute.KeyValue{
			semconv.HTTPRequestMethodKey.String(req.Method),
			semconv.URLPath(req.URL.Path),
			semconv.HTTPRouteKey.String(route),
			semconv.UserAgentOriginalKey.String(req.UserAgent()),
			attribute.String("http.client_ip", c.ClientIP()),
		}
		ctx, span := tracer.Start(ctx, req.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		if sc := span.SpanContext(); sc.HasTraceID() {
			stsrt.SetContextTraceID(c, sc.TraceID().String())
		}
		c.SetRequestContext(ctx)
		propagator.Inject(ctx, propagation.HeaderCarrier(c.Writer().Header()))

		c.Next()

		status := c.Writer().Status()
		span.SetAttributes(semconv.HTTPResponseStatusCodeKey.Int(status))
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}
	}
}
