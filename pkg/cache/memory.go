package cache

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryStore 内存存储实现（go-cache）
// 过期条目由 go-cache 的 janitor 周期清理，读取时已过期的条目视为未命中
type memoryStore struct {
	cache      *gocache.Cache
	keyPrefix  string
	maxEntries int
	onEvict    EvictFunc

	mu       sync.Mutex // 串行化写入，保证容量检查与写入原子
	deleting sync.Map   // 显式删除中的 key，回调中据此跳过淘汰计数
}

// newMemoryStore 创建内存存储实例
func newMemoryStore(cfg *Config, onEvict EvictFunc) *memoryStore {
	memCfg := cfg.Memory
	if memCfg == nil {
		memCfg = DefaultMemoryConfig()
	}
	if onEvict == nil {
		onEvict = func(int) {}
	}

	s := &memoryStore{
		cache:      gocache.New(cfg.DefaultTTL, memCfg.CleanupInterval),
		keyPrefix:  cfg.KeyPrefix,
		maxEntries: memCfg.MaxEntries,
		onEvict:    onEvict,
	}
	s.cache.OnEvicted(func(key string, _ any) {
		if _, explicit := s.deleting.Load(key); explicit {
			return
		}
		s.onEvict(1)
	})
	return s
}

func (s *memoryStore) buildKey(key string) string {
	return s.keyPrefix + key
}

// Get 获取缓存
func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, found := s.cache.Get(s.buildKey(key))
	if !found {
		return nil, false, nil
	}
	b, ok := data.([]byte)
	if !ok {
		return nil, false, ErrCacheSerialization.WithMessage("invalid cache data type")
	}
	return bytes.Clone(b), true, nil
}

// Set 设置缓存
func (s *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	fullKey := s.buildKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxEntries > 0 {
		if _, exists := s.cache.Get(fullKey); !exists && s.cache.ItemCount() >= s.maxEntries {
			s.cache.DeleteExpired()
			for s.cache.ItemCount() >= s.maxEntries {
				if !s.evictSoonest() {
					break
				}
			}
		}
	}

	s.cache.Set(fullKey, value, ttl)
	return nil
}

// evictSoonest 淘汰最接近过期的条目
// 调用方必须持有 mu
func (s *memoryStore) evictSoonest() bool {
	var (
		victim string
		soon   int64
		found  bool
	)
	for k, item := range s.cache.Items() {
		if !found || item.Expiration < soon {
			victim, soon, found = k, item.Expiration, true
		}
	}
	if !found {
		return false
	}
	s.remove(victim)
	s.onEvict(1)
	return true
}

// remove 删除条目且不触发淘汰计数
func (s *memoryStore) remove(fullKey string) {
	s.deleting.Store(fullKey, struct{}{})
	s.cache.Delete(fullKey)
	s.deleting.Delete(fullKey)
}

// Delete 删除缓存
func (s *memoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		s.remove(s.buildKey(key))
	}
	return nil
}

// Clear 清空缓存（Flush 不触发 OnEvicted）
func (s *memoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Flush()
	return nil
}

// Len 返回未过期条目数
func (s *memoryStore) Len(_ context.Context) (int, error) {
	return len(s.cache.Items()), nil
}

// Ping 检查连接
func (s *memoryStore) Ping(context.Context) error {
	return nil
}

// Close 关闭存储
func (s *memoryStore) Close() error {
	s.cache.Flush()
	return nil
}

// String 返回存储类型
func (s *memoryStore) String() string {
	return fmt.Sprintf("MemoryStore(prefix=%s, items=%d)", s.keyPrefix, s.cache.ItemCount())
}
