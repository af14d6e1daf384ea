package cache

import "github.com/tokmz/stsrt/pkg/errors"

// 预定义错误
var (
	// ErrInvalidKey 空 key，属于调用方用法错误而非缓存故障
	ErrInvalidKey = errors.ErrUsage.Derive(4001, "cache key must not be empty")

	ErrCacheConnection    = errors.New(3201, 500, "cache connection failed", nil)
	ErrCacheSerialization = errors.New(3202, 500, "cache serialization failed", nil)
	ErrCacheInvalidConfig = errors.New(3203, 500, "cache invalid config", nil)
	ErrCacheOperation     = errors.New(3204, 500, "cache operation failed", nil)
)
