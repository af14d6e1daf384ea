package cache

import (
	"fmt"
	"time"

	"github.com/tokmz/stsrt/pkg/logger"
)

// DriverType 驱动类型
type DriverType string

const (
	DriverRedis  DriverType = "redis"
	DriverMemory DriverType = "memory"
)

// RedisMode Redis 模式
type RedisMode string

const (
	RedisStandalone RedisMode = "standalone"
	RedisCluster    RedisMode = "cluster"
	RedisSentinel   RedisMode = "sentinel"
)

// Config 缓存配置
type Config struct {
	Driver DriverType

	Redis  *RedisConfig
	Memory *MemoryConfig

	// 键前缀（避免冲突；redis 驱动的 Clear 只清理该前缀下的键）
	KeyPrefix string

	// 默认 TTL，Set 传入 ttl <= 0 时使用
	DefaultTTL time.Duration

	// 是否为底层存储启用 OpenTelemetry 链路追踪
	Tracing bool

	Logger logger.Logger
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr         string    // 地址（单机）
	Addrs        []string  // 地址列表（集群/哨兵）
	Mode         RedisMode // standalone, cluster, sentinel
	Username     string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MasterName   string // 哨兵模式主节点名称

	// 已写入键的布隆过滤器，命中"一定不存在"时直接判定未命中
	// 只记录本实例写入（及启动时已存在）的键，多个实例共用前缀时必须关闭
	// BloomCapacity 为 0 时不启用（默认）
	BloomCapacity uint
	BloomFPRate   float64
}

// MemoryConfig 内存缓存配置
type MemoryConfig struct {
	CleanupInterval time.Duration // 过期清理间隔（0 表示不启用后台清理）
	MaxEntries      int           // 最大条目数（0 表示无限制）
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Driver:     DriverMemory,
		DefaultTTL: 5 * time.Minute,
		Memory:     DefaultMemoryConfig(),
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:          "localhost:6379",
		Mode:          RedisStandalone,
		PoolSize:      100,
		MinIdleConns:  10,
		MaxRetries:    3,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		BloomCapacity: 0,
		BloomFPRate:   0.01,
	}
}

// DefaultMemoryConfig 返回默认 Memory 配置
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		CleanupInterval: time.Minute,
		MaxEntries:      0,
	}
}

// Option 配置选项
type Option func(*Config)

// WithRedis 设置 Redis 配置
func WithRedis(cfg *RedisConfig) Option {
	return func(c *Config) {
		c.Driver = DriverRedis
		c.Redis = cfg
	}
}

// WithMemory 设置 Memory 配置
func WithMemory(cfg *MemoryConfig) Option {
	return func(c *Config) {
		c.Driver = DriverMemory
		c.Memory = cfg
	}
}

// WithKeyPrefix 设置键前缀
func WithKeyPrefix(prefix string) Option {
	return func(c *Config) {
		c.KeyPrefix = prefix
	}
}

// WithDefaultTTL 设置默认 TTL
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.DefaultTTL = ttl
	}
}

// WithTracing 启用链路追踪
func WithTracing(enable bool) Option {
	return func(c *Config) {
		c.Tracing = enable
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.DefaultTTL <= 0 {
		return ErrCacheInvalidConfig.WithMessage("default ttl must be positive")
	}

	switch c.Driver {
	case DriverMemory:
		if c.Memory == nil {
			return ErrCacheInvalidConfig.WithMessage("memory config is required")
		}
		if c.Memory.MaxEntries < 0 || c.Memory.CleanupInterval < 0 {
			return ErrCacheInvalidConfig.WithMessage("memory limits must not be negative")
		}
	case DriverRedis:
		if c.Redis == nil {
			return ErrCacheInvalidConfig.WithMessage("redis config is required")
		}
		if c.KeyPrefix == "" {
			return ErrCacheInvalidConfig.WithMessage("redis driver requires a key prefix")
		}
		switch c.Redis.Mode {
		case RedisStandalone, "":
			if c.Redis.Addr == "" && len(c.Redis.Addrs) == 0 {
				return ErrCacheInvalidConfig.WithMessage("redis addr is required for standalone mode")
			}
		case RedisCluster:
			if len(c.Redis.Addrs) == 0 {
				return ErrCacheInvalidConfig.WithMessage("redis cluster requires addrs")
			}
		case RedisSentinel:
			if len(c.Redis.Addrs) == 0 || c.Redis.MasterName == "" {
				return ErrCacheInvalidConfig.WithMessage("redis sentinel requires addrs and master name")
			}
		default:
			return ErrCacheInvalidConfig.WithMessage(fmt.Sprintf("invalid redis mode: %s", c.Redis.Mode))
		}
		if c.Redis.BloomCapacity > 0 && (c.Redis.BloomFPRate <= 0 || c.Redis.BloomFPRate >= 1) {
			return ErrCacheInvalidConfig.WithMessage("bloom false positive rate must be in (0, 1)")
		}
	default:
		return ErrCacheInvalidConfig.WithMessage(fmt.Sprintf("invalid driver type: %s", c.Driver))
	}

	return nil
}
