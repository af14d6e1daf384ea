package ws

import (
	"fmt"
	"net/http"
	"time"

	"github.com/tokmz/stsrt/pkg/logger"
)

// Config 实时推送中心配置
type Config struct {
	// 连接配置
	MaxConnections int   // 最大连接数，0 表示不限制
	MaxMessageSize int64 // 上行帧最大字节数

	// 心跳配置
	HeartbeatInterval time.Duration // 心跳间隔
	HeartbeatTimeout  time.Duration // 读超时，超过即断开

	// 消息配置
	QueueCapacity int           // 每个连接的队列容量
	WriteTimeout  time.Duration // 单次写超时

	// 上行帧配置
	MaxInvalidFrames int     // 连续非法帧上限，超过即断开
	InboundRate      float64 // 每秒允许的上行帧数，0 表示不限速
	InboundBurst     int     // 上行帧突发上限

	// Upgrader 配置
	UpgraderConfig UpgraderConfig

	// 监控与日志
	Metrics Metrics
	Logger  logger.Logger
}

// UpgraderConfig Upgrader 配置
type UpgraderConfig struct {
	ReadBufferSize    int                      // 读缓冲区大小
	WriteBufferSize   int                      // 写缓冲区大小
	HandshakeTimeout  time.Duration            // 握手超时
	CheckOrigin       func(*http.Request) bool // Origin 检查函数
	EnableCompression bool                     // 是否启用压缩
	AllowedOrigins    []string                 // 允许的 Origin 白名单，"*" 表示全部
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:    10000,
		MaxMessageSize:    4096,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  60 * time.Second,
		QueueCapacity:     256,
		WriteTimeout:      10 * time.Second,
		MaxInvalidFrames:  5,
		InboundRate:       10,
		InboundBurst:      20,
		UpgraderConfig: UpgraderConfig{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.MaxConnections < 0 {
		return ErrInvalidConfig.WithError(fmt.Errorf("MaxConnections must not be negative, got %d", c.MaxConnections))
	}
	if c.QueueCapacity <= 0 {
		return ErrInvalidConfig.WithError(fmt.Errorf("QueueCapacity must be positive, got %d", c.QueueCapacity))
	}
	if c.WriteTimeout <= 0 {
		return ErrInvalidConfig.WithError(fmt.Errorf("WriteTimeout must be positive, got %v", c.WriteTimeout))
	}
	if c.MaxMessageSize <= 0 {
		return ErrInvalidConfig.WithError(fmt.Errorf("MaxMessageSize must be positive, got %d", c.MaxMessageSize))
	}
	if c.HeartbeatInterval < 0 {
		return ErrInvalidConfig.WithError(fmt.Errorf("HeartbeatInterval must not be negative, got %v", c.HeartbeatInterval))
	}
	if c.HeartbeatInterval > 0 && c.HeartbeatTimeout <= c.HeartbeatInterval {
		return ErrInvalidConfig.WithError(fmt.Errorf("HeartbeatTimeout (%v) must be greater than HeartbeatInterval (%v)",
			c.HeartbeatTimeout, c.HeartbeatInterval))
	}
	if c.MaxInvalidFrames < 0 {
		return ErrInvalidConfig.WithError(fmt.Errorf("MaxInvalidFrames must not be negative, got %d", c.MaxInvalidFrames))
	}
	if c.InboundRate < 0 {
		return ErrInvalidConfig.WithError(fmt.Errorf("InboundRate must not be negative, got %v", c.InboundRate))
	}
	return nil
}

// Option 配置选项
type Option func(*Config)

// WithMaxConnections 设置最大连接数
func WithMaxConnections(max int) Option {
	return func(c *Config) {
		c.MaxConnections = max
	}
}

// WithQueueCapacity 设置每个连接的队列容量
func WithQueueCapacity(capacity int) Option {
	return func(c *Config) {
		c.QueueCapacity = capacity
	}
}

// WithWriteTimeout 设置写超时
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.WriteTimeout = timeout
	}
}

// WithHeartbeat 设置心跳间隔与超时，interval 为 0 时关闭心跳
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = interval
		c.HeartbeatTimeout = timeout
	}
}

// WithMessageSizeLimit 设置上行帧大小限制
func WithMessageSizeLimit(size int64) Option {
	return func(c *Config) {
		c.MaxMessageSize = size
	}
}

// WithMaxInvalidFrames 设置连续非法帧上限
func WithMaxInvalidFrames(n int) Option {
	return func(c *Config) {
		c.MaxInvalidFrames = n
	}
}

// WithInboundRate 设置上行帧限速
func WithInboundRate(perSecond float64, burst int) Option {
	return func(c *Config) {
		c.InboundRate = perSecond
		c.InboundBurst = burst
	}
}

// WithCheckOrigin 设置 Origin 检查函数
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(c *Config) {
		c.UpgraderConfig.CheckOrigin = fn
	}
}

// WithCheckOriginWhitelist 设置 Origin 白名单
// 示例：WithCheckOriginWhitelist([]string{"https://example.com", "https://app.example.com"})
func WithCheckOriginWhitelist(allowedOrigins []string) Option {
	return func(c *Config) {
		c.UpgraderConfig.AllowedOrigins = allowedOrigins
		c.UpgraderConfig.CheckOrigin = createWhitelistChecker(allowedOrigins)
	}
}

// WithAllowAllOrigins 允许所有来源（仅用于开发环境，生产环境禁用）
func WithAllowAllOrigins() Option {
	return func(c *Config) {
		c.UpgraderConfig.CheckOrigin = func(r *http.Request) bool {
			return true
		}
	}
}

// WithMetrics 设置监控
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}

// WithLogger 设置日志
func WithLogger(log logger.Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithEnableCompression 启用压缩
func WithEnableCompression(enable bool) Option {
	return func(c *Config) {
		c.UpgraderConfig.EnableCompression = enable
	}
}

// defaultCheckOrigin 默认 Origin 检查（同源策略）
// 没有 Origin 头的请求来自非浏览器客户端，放行
func defaultCheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// createWhitelistChecker 创建白名单检查器
func createWhitelistChecker(allowedOrigins []string) func(*http.Request) bool {
	whitelist := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		whitelist[origin] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// 白名单模式下拒绝空 Origin
			return false
		}
		return whitelist[origin]
	}
}
