package main

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/stsrt"
	"github.com/tokmz/stsrt/middleware"
	"github.com/tokmz/stsrt/pkg/api"
	"github.com/tokmz/stsrt/pkg/broker"
	"github.com/tokmz/stsrt/pkg/cache"
	"github.com/tokmz/stsrt/pkg/config"
	"github.com/tokmz/stsrt/pkg/logger"
	"github.com/tokmz/stsrt/pkg/metrics"
	"github.com/tokmz/stsrt/pkg/tracing"
	"github.com/tokmz/stsrt/pkg/ws"
)

func run(ctx context.Context, configPath string, printConfig bool) error {
	var reload func()
	settings, cfg, err := config.LoadSettings(configPath, config.WithOnChange(func(fsnotify.Event) {
		if reload != nil {
			reload()
		}
	}))
	if err != nil {
		return err
	}
	defer cfg.Close()

	if printConfig {
		out, err := settings.YAML()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	}

	log, err := newLogger(settings.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	// 配置文件变更时只热更新日志级别，其余配置需要重启
	reload = func() {
		if level, ok := logger.ParseLevel(cfg.GetString("log.level")); ok && level != log.Level() {
			log.SetLevel(level)
			log.Info("log level reloaded", zap.String("level", level.String()))
		}
	}
	if cfg.ConfigFileUsed() != "" {
		if err := cfg.StartWatch(); err != nil {
			log.Warn("config watch disabled", zap.Error(err))
		}
	}

	if out, err := settings.YAML(); err == nil {
		log.Debug("effective config\n" + string(out))
	}

	tp, err := tracing.NewTracerProvider(ctx, newTracingConfig(settings.Tracing))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracer provider shutdown failed", zap.Error(err))
		}
	}()

	rc, err := newResponseCache(settings.Cache, log)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	reg := metrics.New()
	if err := reg.Register(metrics.NewCacheCollector(rc)); err != nil {
		return err
	}

	hub, err := ws.NewHub(hubOptions(settings.Hub, reg, log)...)
	if err != nil {
		return err
	}
	hub.On(ws.EventDisconnected, func(e ws.Event) {
		log.Debug("ws event",
			zap.String("type", string(e.Type)),
			zap.String("connection_id", e.ConnectionID),
			zap.String("reason", string(e.Reason)),
		)
	})

	// redis 广播复用缓存的 redis 连接配置
	var redisClient redis.UniversalClient
	if settings.Broker.Driver == string(broker.DriverRedis) {
		redisClient, err = cache.NewRedisClient(newRedisConfig(settings.Cache))
		if err != nil {
			return err
		}
		defer func() { _ = redisClient.Close() }()
	}

	bk, err := broker.New(broker.Config{
		Driver:       broker.DriverType(settings.Broker.Driver),
		Channel:      settings.Broker.Channel,
		Redis:        redisClient,
		KafkaBrokers: settings.Broker.KafkaBrokers,
		KafkaGroup:   settings.Broker.KafkaGroup,
		AMQPURL:      settings.Broker.AMQPURL,
		NATSURL:      settings.Broker.NATSURL,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	var streamOpts []ws.StreamOption
	if bk != nil {
		defer func() { _ = bk.Close() }()
		streamOpts = append(streamOpts, ws.WithBackplane(bk))
	}
	stream := ws.NewStreamingService(hub, streamOpts...)
	if bk != nil {
		if err := bk.Subscribe(ctx, stream.HandleBackplane()); err != nil {
			return err
		}
	}

	engine := stsrt.New(
		stsrt.WithMode(settings.Server.Mode),
		stsrt.WithAddr(settings.Server.Addr),
		stsrt.WithReadTimeout(settings.Server.ReadTimeout),
		stsrt.WithWriteTimeout(settings.Server.WriteTimeout),
		stsrt.WithShutdownTimeout(settings.Server.ShutdownTimeout),
		stsrt.WithLogger(log),
	)
	quiet := []string{"/healthz", "/metrics"}
	engine.Use(
		middleware.Tracing(&middleware.TracingConfig{ExcludePaths: quiet}),
		stsrt.Logger(engine.Logger(), &stsrt.LoggerConfig{ExcludePaths: quiet}),
		middleware.Metrics(reg.HTTP),
	)
	if settings.Server.RateLimit > 0 {
		engine.Use(middleware.RateLimiter(&middleware.RateLimiterConfig{
			RequestsPerSecond: settings.Server.RateLimit,
			Burst:             settings.Server.RateBurst,
			ExcludePaths:      quiet,
			Logger:            log,
		}))
	}

	api.New(api.Options{
		Cache:    rc,
		Hub:      hub,
		Stream:   stream,
		Metrics:  reg,
		Auth:     api.NewTokenVerifier(settings.Auth.JWTSecret, settings.Auth.Issuer),
		RouteTTL: settings.Cache.RouteTTL,
		Logger:   log,
	}).Register(engine)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		// WebSocket 连接已被劫持，不受 http.Server.Shutdown 管理
		shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.Server.ShutdownTimeout)
		defer cancel()
		return hub.Shutdown(shutdownCtx)
	})

	log.Info("stsrt started",
		zap.String("addr", settings.Server.Addr),
		zap.String("cache_driver", settings.Cache.Driver),
		zap.String("broker_driver", settings.Broker.Driver),
	)
	err = g.Wait()
	log.Info("stsrt stopped", zap.Error(err))
	return err
}

func newLogger(s config.LogSettings) (logger.Logger, error) {
	return logger.NewWithOptions(
		logger.WithLevelName(s.Level),
		logger.WithFormat(logger.Format(s.Format)),
		logger.WithConsoleOutput(),
		logger.WithCaller(true),
		logger.WithSampling(&logger.SamplingConfig{}),
		logger.WithRotateOutput(&logger.RotateConfig{
			Filename:   s.File,
			MaxSize:    s.MaxSize,
			MaxAge:     s.MaxAge,
			MaxBackups: s.MaxBackups,
			Compress:   s.Compress,
		}),
	)
}

func newTracingConfig(s config.TracingSettings) *tracing.Config {
	tc := tracing.DefaultConfig()
	tc.Enabled = s.Enabled
	tc.ServiceName = s.ServiceName
	tc.Environment = s.Environment
	tc.ExporterType = s.Exporter
	tc.ExporterEndpoint = s.Endpoint
	tc.Insecure = s.Insecure
	tc.SamplingRate = s.SamplingRate
	return tc
}

func newRedisConfig(s config.CacheSettings) *cache.RedisConfig {
	rc := cache.DefaultRedisConfig()
	rc.Mode = cache.RedisMode(s.Redis.Mode)
	rc.Addrs = s.Redis.Addrs
	rc.Password = s.Redis.Password
	rc.DB = s.Redis.DB
	rc.MasterName = s.Redis.MasterName
	if s.Redis.PoolSize > 0 {
		rc.PoolSize = s.Redis.PoolSize
	}
	rc.BloomCapacity = s.BloomCapacity
	rc.BloomFPRate = s.BloomFPRate
	return rc
}

func newResponseCache(s config.CacheSettings, log logger.Logger) (*cache.ResponseCache, error) {
	opts := []cache.Option{
		cache.WithDefaultTTL(s.DefaultTTL),
		cache.WithKeyPrefix(s.KeyPrefix),
		cache.WithTracing(s.Tracing),
		cache.WithLogger(log),
	}
	if s.Driver == string(cache.DriverRedis) {
		opts = append(opts, cache.WithRedis(newRedisConfig(s)))
	} else {
		opts = append(opts, cache.WithMemory(&cache.MemoryConfig{
			CleanupInterval: s.CleanupInterval,
			MaxEntries:      s.MaxEntries,
		}))
	}
	return cache.NewWithOptions(opts...)
}

func hubOptions(s config.HubSettings, reg *metrics.Registry, log logger.Logger) []ws.Option {
	opts := []ws.Option{
		ws.WithMaxConnections(s.MaxConnections),
		ws.WithQueueCapacity(s.QueueCapacity),
		ws.WithWriteTimeout(s.WriteTimeout),
		ws.WithHeartbeat(s.HeartbeatInterval, s.HeartbeatTimeout),
		ws.WithMessageSizeLimit(s.MaxMessageSize),
		ws.WithMaxInvalidFrames(s.MaxInvalidFrames),
		ws.WithInboundRate(s.InboundRate, s.InboundBurst),
		ws.WithMetrics(reg.Hub),
		ws.WithLogger(log),
	}
	if len(s.AllowedOrigins) > 0 {
		opts = append(opts, ws.WithCheckOriginWhitelist(s.AllowedOrigins))
	}
	return opts
}
