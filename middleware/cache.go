package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/stsrt"
	"github.com/tokmz/stsrt/pkg/cache"
	"github.com/tokmz/stsrt/pkg/errors"
	"github.com/tokmz/stsrt/pkg/logger"
)

// 响应头 X-Cache 取值
const (
	HeaderXCache = "X-Cache"
	CacheHit     = "HIT"
	CacheMiss    = "MISS"
)

// ResponseCacheConfig 响应缓存中间件配置
type ResponseCacheConfig struct {
	// TTL 路由缓存时间，<= 0 使用缓存默认 TTL
	TTL time.Duration

	// KeyPrefix 缓存 key 前缀（默认 "resp:"）
	KeyPrefix string

	// KeyFunc 自定义缓存 key
	KeyFunc func(c *stsrt.Context) string

	// Observe 每次查找后回调，result 为 HIT 或 MISS
	Observe func(c *stsrt.Context, result string)

	Logger logger.Logger
}

// cachedResponse 缓存中的响应
type cachedResponse struct {
	Status      int         `json:"status"`
	ContentType string      `json:"content_type"`
	Header      http.Header `json:"header,omitempty"`
	Body        []byte      `json:"body"`
}

// uncachedHeaders 不随缓存回放的响应头：逐跳头、长度、缓存标记与链路上下文
var uncachedHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Content-Length":      {},
	"Content-Type":        {},
	"Set-Cookie":          {},
	HeaderXCache:          {},
	"Traceparent":         {},
	"Tracestate":          {},
	"Baggage":             {},
}

// storableHeader 复制可回放的响应头
func storableHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		if _, skip := uncachedHeaders[http.CanonicalHeaderKey(k)]; skip {
			continue
		}
		out[k] = slices.Clone(v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

var errUncacheable = errors.New(3301, 500, "response not cacheable", nil)

// ResponseCache 创建响应缓存中间件
// 只缓存 GET 请求的 2xx 响应；同一 key 的并发未命中只执行一次处理函数
func ResponseCache(rc *cache.ResponseCache, cfgs ...*ResponseCacheConfig) stsrt.HandlerFunc {
	cfg := &ResponseCacheConfig{}
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "resp:"
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *stsrt.Context) string {
			return cfg.KeyPrefix + RequestCacheKey(c.Request())
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	observe := func(c *stsrt.Context, result string) {
		c.Header(HeaderXCache, result)
		if cfg.Observe != nil {
			cfg.Observe(c, result)
		}
	}

	return func(c *stsrt.Context) {
		if c.Request().Method != http.MethodGet {
			c.Next()
			return
		}

		var (
			key = cfg.KeyFunc(c)
			ctx = c.RequestContext()
			ran bool
		)
		resp, err := cache.RememberValue(ctx, rc, key, cfg.TTL, func(context.Context) (cachedResponse, error) {
			ran = true
			observe(c, CacheMiss)

			w := &captureWriter{ResponseWriter: c.Writer()}
			c.SetWriter(w)
			c.Next()
			c.SetWriter(w.ResponseWriter)

			status := w.Status()
			if status < 200 || status >= 300 || c.IsAborted() {
				return cachedResponse{}, errUncacheable
			}
			return cachedResponse{
				Status:      status,
				ContentType: w.Header().Get("Content-Type"),
				Header:      storableHeader(w.Header()),
				Body:        w.body.Bytes(),
			}, nil
		})

		switch {
		case ran:
			// 本请求执行了处理函数，响应已写出
		case err == nil:
			header := c.Writer().Header()
			for k, v := range resp.Header {
				header[k] = slices.Clone(v)
			}
			observe(c, CacheHit)
			c.Data(resp.Status, resp.ContentType, resp.Body)
			c.Abort()
		default:
			// 共享的未命中结果不可缓存，自行执行
			if !errors.Is(err, errUncacheable) {
				cfg.Logger.WarnContext(ctx, "response cache lookup failed", zap.String("key", key), zap.Error(err))
			}
			observe(c, CacheMiss)
			c.Next()
		}
	}
}

// RequestCacheKey 生成请求缓存 key：method + path + 排序后的 query
func RequestCacheKey(r *http.Request) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte(' ')
	b.WriteString(r.URL.Path)

	query := r.URL.Query()
	if len(query) == 0 {
		return b.String()
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('?')
	for i, k := range keys {
		values := query[k]
		sort.Strings(values)
		for j, v := range values {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// captureWriter 同时写出并记录响应体
type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
