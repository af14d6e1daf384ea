// Package stsrt 基于 gin 的 HTTP 服务骨架：统一响应、错误渲染、请求日志与 panic 恢复
package stsrt

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/stsrt/pkg/logger"
)

// Engine HTTP 服务引擎
type Engine struct {
	config *Config
	engine *gin.Engine
	log    logger.Logger

	mu     sync.Mutex
	server *http.Server
}

// New 创建一个新的 Engine 实例，使用 Options 模式配置
// 默认挂载 Recovery 中间件
func New(opts ...Option) *Engine {
	config := defaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}

	// gin.SetMode 是全局操作，进程内只应创建一个 Engine
	if gin.Mode() == gin.DebugMode || config.Mode != gin.DebugMode {
		gin.SetMode(config.Mode)
	}
	gin.DefaultWriter = io.Discard
	gin.DefaultErrorWriter = io.Discard

	ginEngine := gin.New()
	log := config.Logger.Named("http")

	if config.TrustedProxies != nil {
		if err := ginEngine.SetTrustedProxies(config.TrustedProxies); err != nil {
			log.Warn("set trusted proxies failed", zap.Error(err))
		}
	}

	e := &Engine{
		config: config,
		engine: ginEngine,
		log:    log,
	}
	e.Use(Recovery(log))
	return e
}

// Default 创建带请求日志的 Engine
func Default(opts ...Option) *Engine {
	e := New(opts...)
	e.Use(Logger(e.log))
	return e
}

// Use 注册全局中间件
func (e *Engine) Use(middlewares ...HandlerFunc) {
	e.engine.Use(WrapMiddlewares(middlewares...)...)
}

// Group 返回路由组
func (e *Engine) Group(path string, middlewares ...HandlerFunc) *RouterGroup {
	return &RouterGroup{
		group: e.engine.Group(path, WrapMiddlewares(middlewares...)...),
	}
}

// RouterGroup 返回根路由组
func (e *Engine) RouterGroup() *RouterGroup {
	return &RouterGroup{
		group: &e.engine.RouterGroup,
	}
}

// Handler 返回底层 http.Handler
func (e *Engine) Handler() http.Handler {
	return e.engine
}

// Logger 返回引擎日志
func (e *Engine) Logger() logger.Logger {
	return e.log
}

// Run 启动 HTTP 服务器，ctx 取消后优雅关机
func (e *Engine) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.config.Server.Addr)
	if err != nil {
		return err
	}
	return e.Serve(ctx, ln)
}

// Serve 在指定 Listener 上提供服务，ctx 取消后优雅关机
func (e *Engine) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:        e.engine,
		ReadTimeout:    e.config.Server.ReadTimeout,
		WriteTimeout:   e.config.Server.WriteTimeout,
		IdleTimeout:    e.config.Server.IdleTimeout,
		MaxHeaderBytes: e.config.Server.MaxHeaderBytes,
	}
	e.mu.Lock()
	e.server = srv
	e.mu.Unlock()

	e.log.Info("http server listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("routes", len(e.engine.Routes())),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.Shutdown.Timeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		e.log.Error("http server forced to shutdown", zap.Error(err))
		return err
	}
	e.log.Info("http server stopped")
	return nil
}

// Shutdown 关闭服务器
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	srv := e.server
	e.mu.Unlock()
	if srv == nil {
		return nil
	}

	if e.config.Shutdown.BeforeShutdown != nil {
		e.config.Shutdown.BeforeShutdown()
	}
	err := srv.Shutdown(ctx)
	if e.config.Shutdown.AfterShutdown != nil {
		e.config.Shutdown.AfterShutdown()
	}
	return err
}
