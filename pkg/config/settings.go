package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// EnvPrefix 环境变量前缀，例如 STSRT_SERVER_ADDR 覆盖 server.addr
const EnvPrefix = "STSRT"

// Settings 服务全部配置
type Settings struct {
	Server  ServerSettings  `mapstructure:"server" yaml:"server"`
	Log     LogSettings     `mapstructure:"log" yaml:"log"`
	Cache   CacheSettings   `mapstructure:"cache" yaml:"cache"`
	Hub     HubSettings     `mapstructure:"hub" yaml:"hub"`
	Broker  BrokerSettings  `mapstructure:"broker" yaml:"broker"`
	Tracing TracingSettings `mapstructure:"tracing" yaml:"tracing"`
	Auth    AuthSettings    `mapstructure:"auth" yaml:"auth"`
}

// ServerSettings HTTP 服务配置
type ServerSettings struct {
	Addr            string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	Mode            string        `mapstructure:"mode" yaml:"mode" validate:"oneof=debug release test"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit" validate:"gte=0"` // 每个客户端每秒请求数，0 表示不限流
	RateBurst       int           `mapstructure:"rate_burst" yaml:"rate_burst" validate:"gte=0"`
}

// LogSettings 日志配置
type LogSettings struct {
	Level      string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" yaml:"format" validate:"oneof=json console"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size" validate:"gte=0"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// CacheSettings 响应缓存配置
type CacheSettings struct {
	Driver          string        `mapstructure:"driver" yaml:"driver" validate:"oneof=memory redis"`
	DefaultTTL      time.Duration `mapstructure:"default_ttl" yaml:"default_ttl" validate:"gt=0"`
	RouteTTL        time.Duration `mapstructure:"route_ttl" yaml:"route_ttl" validate:"gte=0"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval" validate:"gte=0"`
	MaxEntries      int           `mapstructure:"max_entries" yaml:"max_entries" validate:"gte=0"`
	KeyPrefix       string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	Tracing         bool          `mapstructure:"tracing" yaml:"tracing"`
	BloomCapacity   uint          `mapstructure:"bloom_capacity" yaml:"bloom_capacity"`
	BloomFPRate     float64       `mapstructure:"bloom_fp_rate" yaml:"bloom_fp_rate" validate:"gte=0,lt=1"`
	Redis           RedisSettings `mapstructure:"redis" yaml:"redis"`
}

// RedisSettings Redis 连接配置（缓存与 redis 广播共用）
type RedisSettings struct {
	Mode       string   `mapstructure:"mode" yaml:"mode" validate:"omitempty,oneof=standalone cluster sentinel"`
	Addrs      []string `mapstructure:"addrs" yaml:"addrs"`
	Password   string   `mapstructure:"password" yaml:"-"`
	DB         int      `mapstructure:"db" yaml:"db" validate:"gte=0"`
	MasterName string   `mapstructure:"master_name" yaml:"master_name"`
	PoolSize   int      `mapstructure:"pool_size" yaml:"pool_size" validate:"gte=0"`
}

// HubSettings 实时推送配置
type HubSettings struct {
	MaxConnections    int           `mapstructure:"max_connections" yaml:"max_connections" validate:"gte=0"`
	QueueCapacity     int           `mapstructure:"queue_capacity" yaml:"queue_capacity" validate:"gte=1"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gt=0"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval" validate:"gt=0"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout" yaml:"heartbeat_timeout" validate:"gtfield=HeartbeatInterval"`
	MaxMessageSize    int64         `mapstructure:"max_message_size" yaml:"max_message_size" validate:"gt=0"`
	MaxInvalidFrames  int           `mapstructure:"max_invalid_frames" yaml:"max_invalid_frames" validate:"gte=0"`
	InboundRate       float64       `mapstructure:"inbound_rate" yaml:"inbound_rate" validate:"gte=0"`
	InboundBurst      int           `mapstructure:"inbound_burst" yaml:"inbound_burst" validate:"gte=0"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// BrokerSettings 多实例广播配置
type BrokerSettings struct {
	Driver       string   `mapstructure:"driver" yaml:"driver" validate:"omitempty,oneof=none memory redis kafka amqp nats"`
	Channel      string   `mapstructure:"channel" yaml:"channel"`
	KafkaBrokers []string `mapstructure:"kafka_brokers" yaml:"kafka_brokers" validate:"required_if=Driver kafka"`
	KafkaGroup   string   `mapstructure:"kafka_group" yaml:"kafka_group"`
	AMQPURL      string   `mapstructure:"amqp_url" yaml:"-" validate:"required_if=Driver amqp"`
	NATSURL      string   `mapstructure:"nats_url" yaml:"nats_url" validate:"required_if=Driver nats"`
}

// TracingSettings 链路追踪配置
type TracingSettings struct {
	Enabled      bool    `mapstructure:"enabled" yaml:"enabled"`
	ServiceName  string  `mapstructure:"service_name" yaml:"service_name" validate:"required_if=Enabled true"`
	Environment  string  `mapstructure:"environment" yaml:"environment"`
	Exporter     string  `mapstructure:"exporter" yaml:"exporter" validate:"oneof=otlp otlp-grpc stdout noop"`
	Endpoint     string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure     bool    `mapstructure:"insecure" yaml:"insecure"`
	SamplingRate float64 `mapstructure:"sampling_rate" yaml:"sampling_rate" validate:"gte=0,lte=1"`
}

// AuthSettings 握手鉴权配置，JWTSecret 为空时从 user_id 查询参数识别用户
type AuthSettings struct {
	JWTSecret string `mapstructure:"jwt_secret" yaml:"-"`
	Issuer    string `mapstructure:"issuer" yaml:"issuer"`
}

// Defaults 返回全部默认配置（同时登记环境变量可覆盖的 key）
func Defaults() map[string]any {
	return map[string]any{
		"server.addr":             ":8080",
		"server.mode":             "release",
		"server.read_timeout":     "10s",
		"server.write_timeout":    "10s",
		"server.shutdown_timeout": "15s",
		"server.rate_limit":       0,
		"server.rate_burst":       0,

		"log.level":       "info",
		"log.format":      "json",
		"log.file":        "",
		"log.max_size":    100,
		"log.max_age":     30,
		"log.max_backups": 10,
		"log.compress":    false,

		"cache.driver":           "memory",
		"cache.default_ttl":      "5m",
		"cache.route_ttl":        "30s",
		"cache.cleanup_interval": "1m",
		"cache.max_entries":      10000,
		"cache.key_prefix":       "stsrt:",
		"cache.tracing":          false,
		"cache.bloom_capacity":   0,
		"cache.bloom_fp_rate":    0.01,
		"cache.redis.mode":       "standalone",
		"cache.redis.addrs":      []string{"localhost:6379"},
		"cache.redis.password":   "",
		"cache.redis.db":         0,
		"cache.redis.pool_size":  10,

		"hub.max_connections":    10000,
		"hub.queue_capacity":     256,
		"hub.write_timeout":      "10s",
		"hub.heartbeat_interval": "30s",
		"hub.heartbeat_timeout":  "60s",
		"hub.max_message_size":   4096,
		"hub.max_invalid_frames": 5,
		"hub.inbound_rate":       10,
		"hub.inbound_burst":      20,
		"hub.allowed_origins":    []string{},

		"broker.driver":        "none",
		"broker.channel":       "stsrt.events",
		"broker.kafka_brokers": []string{},
		"broker.kafka_group":   "",
		"broker.amqp_url":      "",
		"broker.nats_url":      "",

		"tracing.enabled":       false,
		"tracing.service_name":  "stsrt",
		"tracing.environment":   "development",
		"tracing.exporter":      "stdout",
		"tracing.endpoint":      "",
		"tracing.insecure":      false,
		"tracing.sampling_rate": 1.0,

		"auth.jwt_secret": "",
		"auth.issuer":     "",
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 校验配置
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return ErrConfigInvalid.WithError(err)
	}
	// 布隆过滤器只认识本实例写入的键，多实例共用 redis 时会把其他实例的缓存判为未命中
	if s.Cache.Driver == "redis" && s.Cache.BloomCapacity > 0 && s.Broker.Driver != "" && s.Broker.Driver != "none" {
		return ErrConfigInvalid.WithMessage("cache.bloom_capacity must be 0 when a broker is configured")
	}
	return nil
}

// YAML 以 YAML 形式输出生效配置（敏感字段不输出）
func (s *Settings) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}

// LoadDotEnv 加载 .env 文件，文件不存在时忽略；已存在的环境变量不会被覆盖
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// LoadSettings 按 默认值 < 配置文件 < 环境变量 的顺序加载并校验配置
// path 为空或文件不存在时只使用默认值与环境变量
func LoadSettings(path string, opts ...Option) (*Settings, *Config, error) {
	base := []Option{WithDefaults(Defaults()), WithEnvPrefix(EnvPrefix)}
	if path != "" {
		base = append(base, WithConfigFile(path))
	} else {
		base = append(base, WithConfigName("config"), WithConfigType("yaml"), WithConfigPaths(".", "./configs"))
	}
	c := New(append(base, opts...)...)

	if err := c.Load(); err != nil && !errors.Is(err, ErrConfigNotFound) {
		var pathErr *fs.PathError
		if !errors.As(err, &pathErr) {
			return nil, nil, err
		}
	}

	s := &Settings{}
	if err := c.Unmarshal(s); err != nil {
		return nil, nil, ErrConfigInvalid.WithError(err)
	}
	if err := s.Validate(); err != nil {
		return nil, nil, err
	}
	return s, c, nil
}
