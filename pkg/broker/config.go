package broker

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tokmz/stsrt/pkg/logger"
)

// DriverType 驱动类型
type DriverType string

const (
	DriverNone   DriverType = "none"
	DriverMemory DriverType = "memory"
	DriverRedis  DriverType = "redis"
	DriverKafka  DriverType = "kafka"
	DriverAMQP   DriverType = "amqp"
	DriverNATS   DriverType = "nats"
)

// Config 事件通道配置
type Config struct {
	Driver DriverType

	// 通道名：redis channel / kafka topic / amqp exchange / nats subject
	Channel string

	// 实例标识，为空时自动生成
	Origin string

	// redis 驱动复用缓存的客户端
	Redis redis.UniversalClient

	// memory 驱动共享的总线，为空时使用进程内默认总线
	Bus *MemoryBus

	KafkaBrokers []string
	KafkaGroup   string

	AMQPURL string
	NATSURL string

	Logger logger.Logger
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverNone, "":
		return nil
	case DriverMemory:
	case DriverRedis:
		if c.Redis == nil {
			return ErrInvalidConfig.WithError(fmt.Errorf("redis client is required"))
		}
	case DriverKafka:
		if len(c.KafkaBrokers) == 0 {
			return ErrInvalidConfig.WithError(fmt.Errorf("kafka brokers are required"))
		}
	case DriverAMQP:
		if c.AMQPURL == "" {
			return ErrInvalidConfig.WithError(fmt.Errorf("amqp url is required"))
		}
	case DriverNATS:
		if c.NATSURL == "" {
			return ErrInvalidConfig.WithError(fmt.Errorf("nats url is required"))
		}
	default:
		return ErrInvalidConfig.WithError(fmt.Errorf("unsupported driver: %s", c.Driver))
	}
	if c.Channel == "" {
		return ErrInvalidConfig.WithError(fmt.Errorf("channel is required"))
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Origin == "" {
		c.Origin = uuid.NewString()
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.KafkaGroup == "" {
		// 每个实例独立的消费组，保证每个实例都收到全部事件
		c.KafkaGroup = "stsrt-" + c.Origin
	}
}

// New 根据驱动创建事件通道，driver 为 none 时返回 nil
func New(cfg Config) (Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	log := cfg.Logger.Named("broker").With(zap.String("driver", string(cfg.Driver)))

	switch cfg.Driver {
	case DriverMemory:
		bus := cfg.Bus
		if bus == nil {
			bus = defaultBus
		}
		return bus.Attach(cfg.Channel, cfg.Origin, log), nil
	case DriverRedis:
		return newRedisBroker(cfg.Redis, cfg.Channel, cfg.Origin, log), nil
	}

	var (
		b   Broker
		err error
	)
	switch cfg.Driver {
	case DriverKafka:
		b, err = newKafkaBroker(cfg.KafkaBrokers, cfg.KafkaGroup, cfg.Channel, cfg.Origin, log)
	case DriverAMQP:
		b, err = newAMQPBroker(cfg.AMQPURL, cfg.Channel, cfg.Origin, log)
	case DriverNATS:
		b, err = newNATSBroker(cfg.NATSURL, cfg.Channel, cfg.Origin, log)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}
