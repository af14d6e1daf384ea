package middleware

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tokmz/stsrt"
	"github.com/tokmz/stsrt/pkg/errors"
	"github.com/tokmz/stsrt/pkg/logger"
)

// RateLimiterConfig 限流中间件配置
type RateLimiterConfig struct {
	// RequestsPerSecond 每秒允许的请求数（默认 100）
	RequestsPerSecond float64

	// Burst 突发容量（默认等于 RequestsPerSecond）
	Burst int

	// KeyFunc 自定义限流 key 函数（默认使用客户端 IP）
	KeyFunc func(c *stsrt.Context) string

	// ExcludePaths 排除的路径（不限流）
	ExcludePaths []string

	Logger logger.Logger

	// CleanupInterval 过期限流器清理间隔（默认 10 分钟）
	CleanupInterval time.Duration

	// BucketExpiry 限流器空闲过期时间（默认 30 分钟无访问则清理）
	BucketExpiry time.Duration
}

func defaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		RequestsPerSecond: 100,
		CleanupInterval:   10 * time.Minute,
		BucketExpiry:      30 * time.Minute,
	}
}

// limiterStore 按 key 保存限流器，空闲超过 expiry 后由 go-cache janitor 清理
type limiterStore struct {
	mu     sync.Mutex
	items  *gocache.Cache
	limit  rate.Limit
	burst  int
	expiry time.Duration
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.items.Get(key); ok {
		lim := v.(*rate.Limiter)
		s.items.Set(key, lim, s.expiry)
		return lim
	}
	lim := rate.NewLimiter(s.limit, s.burst)
	s.items.Set(key, lim, s.expiry)
	return lim
}

// RateLimiter 创建限流中间件
// 使用令牌桶算法（golang.org/x/time/rate），按 key（默认客户端 IP）进行限流
func RateLimiter(cfgs ...*RateLimiterConfig) stsrt.HandlerFunc {
	cfg := defaultRateLimiterConfig()
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(int(cfg.RequestsPerSecond), 1)
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *stsrt.Context) string {
			return c.ClientIP()
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.BucketExpiry <= 0 {
		cfg.BucketExpiry = 30 * time.Minute
	}

	skipMap := make(map[string]bool, len(cfg.ExcludePaths))
	for _, path := range cfg.ExcludePaths {
		skipMap[path] = true
	}

	store := &limiterStore{
		items:  gocache.New(cfg.BucketExpiry, cfg.CleanupInterval),
		limit:  rate.Limit(cfg.RequestsPerSecond),
		burst:  cfg.Burst,
		expiry: cfg.BucketExpiry,
	}

	return func(c *stsrt.Context) {
		if skipMap[c.Request().URL.Path] {
			c.Next()
			return
		}

		key := cfg.KeyFunc(c)
		if !store.get(key).Allow() {
			cfg.Logger.WarnContext(c.RequestContext(), "rate limit exceeded",
				zap.String("key", key),
				zap.String("path", c.Request().URL.Path),
				zap.Float64("rate", cfg.RequestsPerSecond),
			)
			c.RespondError(errors.ErrTooManyRequests)
			c.Abort()
			return
		}

		c.Next()
	}
}
