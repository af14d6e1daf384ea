package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stserrors "github.com/tokmz/stsrt/pkg/errors"
)

func newMemoryCache(t *testing.T, opts ...Option) *ResponseCache {
	t.Helper()
	c, err := NewWithOptions(append([]Option{WithKeyPrefix("test:")}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSetThenGetWithinTTL(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t)

	require.NoError(t, c.Set(ctx, "room:42", []byte(`{"id":42}`), time.Minute))

	v, ok, err := c.Get(ctx, "room:42")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"id":42}`, string(v))

	// 覆盖写入
	require.NoError(t, c.Set(ctx, "room:42", []byte("v2"), time.Minute))
	v, ok, _ = c.Get(ctx, "room:42")
	assert.True(t, ok)
	assert.Equal(t, "v2", string(v))
}

func TestGetAfterTTLIsMiss(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t, WithMemory(&MemoryConfig{}))

	require.NoError(t, c.Set(ctx, "short", []byte("x"), 30*time.Millisecond))
	time.Sleep(60 * time.Millisecond)

	_, ok, err := c.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint64(0), c.Stats(ctx).EntryCount)
}

func TestValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t)

	in := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", in, time.Minute))
	in[0] = 'z'

	out, _, _ := c.Get(ctx, "k")
	assert.Equal(t, "abc", string(out))
	out[0] = 'y'

	again, _, _ := c.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestEmptyKeyIsUsageError(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t)

	_, _, err := c.Get(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.True(t, stserrors.Is(err, stserrors.ErrUsage))

	assert.ErrorIs(t, c.Set(ctx, "", []byte("v"), time.Minute), ErrInvalidKey)
	assert.ErrorIs(t, c.Delete(ctx, "ok", ""), ErrInvalidKey)
	_, err = c.Remember(ctx, "", time.Minute, nil)
	assert.ErrorIs(t, err, ErrInvalidKey)

	// 用法错误不计入命中/未命中
	s := c.Stats(ctx)
	assert.Zero(t, s.HitCount)
	assert.Zero(t, s.MissCount)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, c.Set(ctx, "gone", []byte("3"), 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	c.Get(ctx, "a")
	c.Get(ctx, "a")
	c.Get(ctx, "missing")

	s := c.Stats(ctx)
	assert.Equal(t, uint64(2), s.HitCount)
	assert.Equal(t, uint64(1), s.MissCount)
	assert.Equal(t, uint64(2), s.EntryCount)
}

func TestClearKeepsCounters(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t)

	require.NoError(t, c.Set(ctx, "room:42", []byte("payload"), 5*time.Second))
	c.Get(ctx, "room:42")

	require.NoError(t, c.Clear(ctx))

	_, ok, err := c.Get(ctx, "room:42")
	require.NoError(t, err)
	assert.False(t, ok)

	s := c.Stats(ctx)
	assert.Equal(t, uint64(1), s.HitCount)
	assert.Equal(t, uint64(1), s.MissCount)
	assert.Zero(t, s.EntryCount)
	assert.Zero(t, s.EvictionCount)
}

func TestDeleteIsNotEviction(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, c.Delete(ctx, "a", "b"))

	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok)
	assert.Zero(t, c.Stats(ctx).EvictionCount)
}

func TestSweepCountsEvictions(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t, WithMemory(&MemoryConfig{CleanupInterval: 10 * time.Millisecond}))

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 20*time.Millisecond))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Minute))

	assert.Eventually(t, func() bool {
		return c.Stats(ctx).EvictionCount == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1), c.Stats(ctx).EntryCount)
}

func TestMaxEntriesEvictsSoonestExpiry(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t, WithMemory(&MemoryConfig{MaxEntries: 2}))

	require.NoError(t, c.Set(ctx, "long", []byte("1"), time.Hour))
	require.NoError(t, c.Set(ctx, "short", []byte("2"), time.Minute))
	require.NoError(t, c.Set(ctx, "new", []byte("3"), time.Hour))

	_, ok, _ := c.Get(ctx, "short")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "long")
	assert.True(t, ok)
	_, ok, _ = c.Get(ctx, "new")
	assert.True(t, ok)

	s := c.Stats(ctx)
	assert.Equal(t, uint64(2), s.EntryCount)
	assert.Equal(t, uint64(1), s.EvictionCount)

	// 覆盖已有 key 不触发淘汰
	require.NoError(t, c.Set(ctx, "new", []byte("4"), time.Hour))
	assert.Equal(t, uint64(1), c.Stats(ctx).EvictionCount)
}

func TestDefaultTTLApplied(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t, WithDefaultTTL(20*time.Millisecond), WithMemory(&MemoryConfig{}))

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	_, ok, _ := c.Get(ctx, "k")
	assert.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCounterSaturates(t *testing.T) {
	var n counter
	n.v.Store(math.MaxUint64 - 1)
	n.add(5)
	assert.Equal(t, uint64(math.MaxUint64), n.load())
	n.add(1)
	assert.Equal(t, uint64(math.MaxUint64), n.load())
}

func TestRememberRunsOncePerKey(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t)

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("computed"), nil
	}

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Remember(ctx, "hot", time.Minute, fn)
			assert.NoError(t, err)
			results[i] = string(v)
		}(i)
	}
	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "computed", r)
	}

	v, ok, _ := c.Get(ctx, "hot")
	assert.True(t, ok)
	assert.Equal(t, "computed", string(v))
}

func TestRememberPropagatesError(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t)
	boom := errors.New("boom")

	_, err := c.Remember(ctx, "k", time.Minute, func(context.Context) ([]byte, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	_, ok, _ := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRememberValue(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t)

	type room struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	calls := 0
	load := func(context.Context) (room, error) {
		calls++
		return room{ID: 42, Name: "berth"}, nil
	}

	r, err := RememberValue(ctx, c, "room:42", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, room{ID: 42, Name: "berth"}, r)

	r, err = RememberValue(ctx, c, "room:42", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, 42, r.ID)
	assert.Equal(t, 1, calls)
}

func TestConcurrentSetGet(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%10)
				val := []byte(fmt.Sprintf("%d-%d", w, i))
				assert.NoError(t, c.Set(ctx, key, val, time.Minute))
				v, ok, err := c.Get(ctx, key)
				assert.NoError(t, err)
				if ok {
					assert.NotEmpty(t, v)
				}
			}
		}(w)
	}
	wg.Wait()

	s := c.Stats(ctx)
	assert.Equal(t, uint64(8*200), s.HitCount+s.MissCount)
	assert.Equal(t, uint64(10), s.EntryCount)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"bad driver", &Config{Driver: "disk", DefaultTTL: time.Second}},
		{"zero ttl", &Config{Driver: DriverMemory, Memory: DefaultMemoryConfig()}},
		{"redis without prefix", &Config{Driver: DriverRedis, DefaultTTL: time.Second, Redis: DefaultRedisConfig()}},
		{"sentinel without master", &Config{Driver: DriverRedis, KeyPrefix: "p:", DefaultTTL: time.Second,
			Redis: &RedisConfig{Mode: RedisSentinel, Addrs: []string{"a:1"}}}},
		{"bad bloom rate", &Config{Driver: DriverRedis, KeyPrefix: "p:", DefaultTTL: time.Second,
			Redis: &RedisConfig{Addr: "a:1", BloomCapacity: 10, BloomFPRate: 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			assert.ErrorIs(t, err, ErrCacheInvalidConfig)
		})
	}

	assert.NoError(t, DefaultConfig().Validate())
}

// sweepStore 手动清理过期条目的最小存储
type sweepStore struct {
	mu      sync.Mutex
	entries map[string][]byte
	onEvict EvictFunc
}

func (s *sweepStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	return v, ok, nil
}

func (s *sweepStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
	return nil
}

func (s *sweepStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

func (s *sweepStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.entries)
	return nil
}

func (s *sweepStore) Len(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *sweepStore) Ping(context.Context) error { return nil }
func (s *sweepStore) Close() error               { return nil }

func (s *sweepStore) sweep() {
	s.mu.Lock()
	n := len(s.entries)
	clear(s.entries)
	s.mu.Unlock()
	s.onEvict(n)
}

func TestNewWithStoreReportsEvictions(t *testing.T) {
	ctx := context.Background()
	var store *sweepStore
	c := NewWithStore(func(onEvict EvictFunc) Store {
		store = &sweepStore{entries: map[string][]byte{}, onEvict: onEvict}
		return store
	}, time.Minute, nil)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, c.Delete(ctx, "b"))
	assert.Zero(t, c.Stats(ctx).EvictionCount)

	store.sweep()

	_, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	s := c.Stats(ctx)
	assert.Equal(t, uint64(1), s.EvictionCount)
	assert.Zero(t, s.EntryCount)
	assert.Equal(t, uint64(1), s.MissCount)
}
