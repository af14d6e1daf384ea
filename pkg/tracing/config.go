package tracing

import (
	"time"

	"github.com/tokmz/stsrt/pkg/errors"
)

// ErrInvalidConfig 链路追踪配置错误
var ErrInvalidConfig = errors.New(3101, 500, "tracing config error", nil)

// 导出器类型
const (
	ExporterOTLP     = "otlp"      // OTLP over HTTP
	ExporterOTLPGRPC = "otlp-grpc" // OTLP over gRPC
	ExporterStdout   = "stdout"
	ExporterNoop     = "noop"
)

// Config 链路追踪配置
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// 导出器类型（otlp/otlp-grpc/stdout/noop）
	ExporterType     string
	ExporterEndpoint string
	ExporterHeaders  map[string]string
	Insecure         bool

	// 采样率（0.0-1.0），采用 parent_based 策略
	SamplingRate float64

	Enabled bool

	BatchTimeout       time.Duration // 批量导出超时（默认 5s）
	MaxExportBatchSize int           // 最大批量大小（默认 512）
	MaxQueueSize       int           // 最大队列大小（默认 2048）
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ServiceName:        "stsrt",
		ServiceVersion:     "1.0.0",
		Environment:        "development",
		ExporterType:       ExporterStdout,
		SamplingRate:       1.0,
		Enabled:            true,
		BatchTimeout:       5 * time.Second,
		MaxExportBatchSize: 512,
		MaxQueueSize:       2048,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrInvalidConfig.WithMessage("tracing config error: service name is required")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return ErrInvalidConfig.WithMessage("tracing config error: sampling rate must be between 0.0 and 1.0")
	}
	switch c.ExporterType {
	case ExporterOTLP, ExporterOTLPGRPC, ExporterStdout, ExporterNoop:
	default:
		return ErrInvalidConfig.WithMessage("tracing config error: invalid exporter type: " + c.ExporterType)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 5 * time.Second
	}
	if c.MaxExportBatchSize <= 0 {
		c.MaxExportBatchSize = 512
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 2048
	}
}
