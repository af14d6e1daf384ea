package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/redis/go-redis/v9"
)

const scanBatch = 500

// redisStore Redis 存储实现
// 过期由 Redis 服务端处理，服务端过期不可观测，因此不上报淘汰计数
type redisStore struct {
	client    redis.UniversalClient
	keyPrefix string

	bloomMu sync.RWMutex
	bloom   *bloom.BloomFilter // nil 表示未启用
}

// newRedisStore 创建 Redis 存储实例
func newRedisStore(cfg *Config, _ EvictFunc) (*redisStore, error) {
	if cfg.Redis == nil {
		return nil, ErrCacheInvalidConfig.WithMessage("redis config is required")
	}
	client, err := NewRedisClient(cfg.Redis)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, ErrCacheConnection.WithError(err)
	}

	s := newRedisStoreWithClient(client, cfg.KeyPrefix, cfg.Redis.BloomCapacity, cfg.Redis.BloomFPRate)
	if err := s.seedBloom(ctx); err != nil {
		_ = client.Close()
		return nil, ErrCacheOperation.WithError(err)
	}
	return s, nil
}

func newRedisStoreWithClient(client redis.UniversalClient, prefix string, bloomCap uint, fpRate float64) *redisStore {
	s := &redisStore{client: client, keyPrefix: prefix}
	if bloomCap > 0 {
		s.bloom = bloom.NewWithEstimates(bloomCap, fpRate)
	}
	return s
}

// seedBloom 用前缀下已存在的键初始化布隆过滤器，重启后之前写入的键仍可命中
func (s *redisStore) seedBloom(ctx context.Context) error {
	if s.bloom == nil {
		return nil
	}
	return s.forEachNode(ctx, func(ctx context.Context, c redis.Cmdable) error {
		return scanPrefix(ctx, c, s.keyPrefix, func(keys []string) error {
			s.bloomMu.Lock()
			for _, k := range keys {
				s.bloom.AddString(k)
			}
			s.bloomMu.Unlock()
			return nil
		})
	})
}

// NewRedisClient 根据模式创建 Redis 客户端
func NewRedisClient(cfg *RedisConfig) (redis.UniversalClient, error) {
	addrs := cfg.Addrs
	if len(addrs) == 0 && cfg.Addr != "" {
		addrs = []string{cfg.Addr}
	}

	switch cfg.Mode {
	case RedisStandalone, "":
		if len(addrs) == 0 {
			return nil, ErrCacheInvalidConfig.WithMessage("redis addr is required")
		}
		return redis.NewClient(&redis.Options{
			Addr:         addrs[0],
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}), nil

	case RedisCluster:
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        addrs,
			Username:     cfg.Username,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}), nil

	case RedisSentinel:
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: addrs,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DB:            cfg.DB,
			PoolSize:      cfg.PoolSize,
			MinIdleConns:  cfg.MinIdleConns,
			MaxRetries:    cfg.MaxRetries,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		}), nil

	default:
		return nil, ErrCacheInvalidConfig.WithMessage(fmt.Sprintf("unsupported redis mode: %s", cfg.Mode))
	}
}

func (s *redisStore) buildKey(key string) string {
	return s.keyPrefix + key
}

// mayContain 布隆过滤器判断 key 是否可能存在
// 过滤器只记录本实例写入的键，仅适用于前缀只有本实例写入的部署
func (s *redisStore) mayContain(fullKey string) bool {
	if s.bloom == nil {
		return true
	}
	s.bloomMu.RLock()
	defer s.bloomMu.RUnlock()
	return s.bloom.TestString(fullKey)
}

// Get 获取缓存
func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	fullKey := s.buildKey(key)
	if !s.mayContain(fullKey) {
		return nil, false, nil
	}

	data, err := s.client.Get(ctx, fullKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, ErrCacheOperation.WithError(err)
	}
	return data, true, nil
}

// Set 设置缓存
func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	fullKey := s.buildKey(key)
	if err := s.client.Set(ctx, fullKey, value, ttl).Err(); err != nil {
		return ErrCacheOperation.WithError(err)
	}
	if s.bloom != nil {
		s.bloomMu.Lock()
		s.bloom.AddString(fullKey)
		s.bloomMu.Unlock()
	}
	return nil
}

// Delete 删除缓存
func (s *redisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	fullKeys := make([]string, len(keys))
	for i, key := range keys {
		fullKeys[i] = s.buildKey(key)
	}
	// 集群模式下多 key 可能跨 slot，逐个删除
	pipe := s.client.Pipeline()
	for _, k := range fullKeys {
		pipe.Del(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return ErrCacheOperation.WithError(err)
	}
	return nil
}

// Clear 删除前缀下的全部键并重置布隆过滤器
func (s *redisStore) Clear(ctx context.Context) error {
	err := s.forEachNode(ctx, func(ctx context.Context, c redis.Cmdable) error {
		return scanPrefix(ctx, c, s.keyPrefix, func(keys []string) error {
			pipe := c.Pipeline()
			for _, k := range keys {
				pipe.Unlink(ctx, k)
			}
			_, err := pipe.Exec(ctx)
			return err
		})
	})
	if err != nil {
		return ErrCacheOperation.WithError(err)
	}
	if s.bloom != nil {
		s.bloomMu.Lock()
		s.bloom.ClearAll()
		s.bloomMu.Unlock()
	}
	return nil
}

// Len 统计前缀下的键数量
func (s *redisStore) Len(ctx context.Context) (int, error) {
	var (
		mu    sync.Mutex
		total int
	)
	err := s.forEachNode(ctx, func(ctx context.Context, c redis.Cmdable) error {
		return scanPrefix(ctx, c, s.keyPrefix, func(keys []string) error {
			mu.Lock()
			total += len(keys)
			mu.Unlock()
			return nil
		})
	})
	if err != nil {
		return 0, ErrCacheOperation.WithError(err)
	}
	return total, nil
}

// forEachNode 集群模式遍历所有主节点，其他模式直接使用客户端
func (s *redisStore) forEachNode(ctx context.Context, fn func(ctx context.Context, c redis.Cmdable) error) error {
	if cc, ok := s.client.(*redis.ClusterClient); ok {
		return cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return fn(ctx, node)
		})
	}
	return fn(ctx, s.client)
}

// scanPrefix 以 SCAN 分批遍历前缀下的键
func scanPrefix(ctx context.Context, c redis.Cmdable, prefix string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := c.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Ping 检查连接
func (s *redisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return ErrCacheConnection.WithError(err)
	}
	return nil
}

// Close 关闭连接
func (s *redisStore) Close() error {
	if err := s.client.Close(); err != nil {
		return ErrCacheOperation.WithError(err)
	}
	return nil
}

// String 返回存储类型
func (s *redisStore) String() string {
	return fmt.Sprintf("RedisStore(prefix=%s, bloom=%t)", s.keyPrefix, s.bloom != nil)
}
