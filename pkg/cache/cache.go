package cache

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tokmz/stsrt/pkg/logger"
)

// Store 底层存储接口（统一抽象）
// 实现需保证单 key 的 Set 对并发 Get 原子可见
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Clear 删除全部条目
	Clear(ctx context.Context) error
	// Len 返回当前未过期条目数
	Len(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// EvictFunc 存储因过期清理或容量限制淘汰条目时回调
type EvictFunc func(n int)

// Stats 缓存统计
type Stats struct {
	HitCount      uint64 `json:"hit_count"`
	MissCount     uint64 `json:"miss_count"`
	EntryCount    uint64 `json:"entry_count"`
	EvictionCount uint64 `json:"eviction_count"`
}

// ResponseCache 进程级响应缓存
//
// 计数器自进程启动起累计，Clear 只清空存储不重置计数；
// eviction_count 只统计过期清理与容量淘汰，不包括 Clear 与显式 Delete。
type ResponseCache struct {
	store      Store
	defaultTTL time.Duration
	log        logger.Logger
	group      singleflight.Group

	hits      counter
	misses    counter
	evictions counter
}

// New 创建响应缓存
func New(cfg *Config) (*ResponseCache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &ResponseCache{
		defaultTTL: cfg.DefaultTTL,
		log:        cfg.Logger,
	}
	if c.log == nil {
		c.log = logger.Nop()
	}

	var (
		store Store
		err   error
	)
	switch cfg.Driver {
	case DriverRedis:
		store, err = newRedisStore(cfg, c.onEvict)
	default:
		store = newMemoryStore(cfg, c.onEvict)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Tracing {
		store = NewTracing(store)
	}
	c.store = store

	return c, nil
}

// NewWithOptions 使用 Options 模式创建缓存实例
func NewWithOptions(opts ...Option) (*ResponseCache, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return New(cfg)
}

// NewWithStore 使用自定义存储创建缓存实例
// 自定义存储如需上报淘汰，调用返回的 EvictFunc
func NewWithStore(newStore func(onEvict EvictFunc) Store, defaultTTL time.Duration, l logger.Logger) *ResponseCache {
	if l == nil {
		l = logger.Nop()
	}
	c := &ResponseCache{defaultTTL: defaultTTL, log: l}
	c.store = newStore(c.onEvict)
	return c
}

// Get 获取缓存
// 未命中或已过期返回 ok=false，除未命中计数外没有其他副作用
func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrInvalidKey
	}

	value, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.misses.add(1)
		c.log.WarnContext(ctx, "cache get failed", zap.String("key", key), zap.Error(err))
		return nil, false, err
	}
	if !ok {
		c.misses.add(1)
		return nil, false, nil
	}

	c.hits.add(1)
	return value, true, nil
}

// Set 设置缓存，覆盖已有条目并重置过期时间
// ttl <= 0 时使用默认 TTL
func (c *ResponseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.store.Set(ctx, key, bytes.Clone(value), ttl); err != nil {
		c.log.WarnContext(ctx, "cache set failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// Delete 显式删除缓存
func (c *ResponseCache) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if key == "" {
			return ErrInvalidKey
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return c.store.Delete(ctx, keys...)
}

// Clear 删除全部条目，计数器保持累计
func (c *ResponseCache) Clear(ctx context.Context) error {
	if err := c.store.Clear(ctx); err != nil {
		c.log.ErrorContext(ctx, "cache clear failed", zap.Error(err))
		return err
	}
	c.log.InfoContext(ctx, "response cache cleared")
	return nil
}

// Stats 返回统计快照
// 并发写入时各计数器之间不保证严格一致
func (c *ResponseCache) Stats(ctx context.Context) Stats {
	s := Stats{
		HitCount:      c.hits.load(),
		MissCount:     c.misses.load(),
		EvictionCount: c.evictions.load(),
	}
	n, err := c.store.Len(ctx)
	if err != nil {
		c.log.WarnContext(ctx, "cache entry count failed", zap.Error(err))
		return s
	}
	s.EntryCount = uint64(n)
	return s
}

// Remember 读取缓存，未命中时执行 fn 并写回
// 同一 key 的并发未命中只执行一次 fn；存储故障时退化为直接计算
func (c *ResponseCache) Remember(
	ctx context.Context,
	key string,
	ttl time.Duration,
	fn func(ctx context.Context) ([]byte, error),
) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	if value, ok, err := c.Get(ctx, key); err == nil && ok {
		return value, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		value, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		_ = c.Set(ctx, key, value, ttl)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return bytes.Clone(v.([]byte)), nil
}

// Ping 检查存储可用性
func (c *ResponseCache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// Close 关闭底层存储
func (c *ResponseCache) Close() error {
	return c.store.Close()
}

// String 返回缓存描述
func (c *ResponseCache) String() string {
	return fmt.Sprintf("ResponseCache(store=%v, ttl=%s)", c.store, c.defaultTTL)
}

func (c *ResponseCache) onEvict(n int) {
	if n > 0 {
		c.evictions.add(uint64(n))
	}
}

// counter 饱和计数器，到达 math.MaxUint64 后不再增长
type counter struct {
	v atomic.Uint64
}

func (c *counter) add(n uint64) {
	for {
		old := c.v.Load()
		if old == math.MaxUint64 {
			return
		}
		next := old + n
		if next < old {
			next = math.MaxUint64
		}
		if c.v.CompareAndSwap(old, next) {
			return
		}
	}
}

func (c *counter) load() uint64 {
	return c.v.Load()
}
