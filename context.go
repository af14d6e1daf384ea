package stsrt

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/stsrt/pkg/errors"
	"github.com/tokmz/stsrt/pkg/logger"
)

// Context 包装 gin.Context
type Context struct {
	ctx *gin.Context
}

// NewContext 创建上下文（用于测试与适配 gin 处理器）
func NewContext(c *gin.Context) *Context {
	return &Context{ctx: c}
}

// ============ Gin Context 访问方法 ============

// Request 返回底层的 *http.Request
func (c *Context) Request() *http.Request {
	return c.ctx.Request
}

// Writer 返回底层的 ResponseWriter
func (c *Context) Writer() gin.ResponseWriter {
	return c.ctx.Writer
}

// SetWriter 替换底层的 ResponseWriter（用于缓存中间件捕获响应体）
func (c *Context) SetWriter(w gin.ResponseWriter) {
	c.ctx.Writer = w
}

// Param 获取路径参数
func (c *Context) Param(key string) string {
	return c.ctx.Param(key)
}

// FullPath 获取路由模板路径（如 /rooms/:id）
func (c *Context) FullPath() string {
	return c.ctx.FullPath()
}

// Query 获取 URL 查询参数
func (c *Context) Query(key string) string {
	return c.ctx.Query(key)
}

// DefaultQuery 获取 URL 查询参数（带默认值）
func (c *Context) DefaultQuery(key, defaultValue string) string {
	return c.ctx.DefaultQuery(key, defaultValue)
}

// QueryArray 获取重复出现的查询参数
func (c *Context) QueryArray(key string) []string {
	return c.ctx.QueryArray(key)
}

func (c *Context) ShouldBind(obj any) error {
	return c.ctx.ShouldBind(obj)
}

func (c *Context) ShouldBindJSON(obj any) error {
	return c.ctx.ShouldBindJSON(obj)
}

func (c *Context) ShouldBindQuery(obj any) error {
	return c.ctx.ShouldBindQuery(obj)
}

func (c *Context) ShouldBindUri(obj any) error {
	return c.ctx.ShouldBindUri(obj)
}

// JSON 发送 JSON 响应
func (c *Context) JSON(code int, obj any) {
	c.ctx.JSON(code, obj)
}

// Data 发送原始字节响应
func (c *Context) Data(code int, contentType string, data []byte) {
	c.ctx.Data(code, contentType, data)
}

// Set 设置上下文键值对
func (c *Context) Set(key string, value any) {
	c.ctx.Set(key, value)
}

// Get 获取上下文键值对
func (c *Context) Get(key string) (any, bool) {
	return c.ctx.Get(key)
}

// GetString 获取字符串类型的上下文值
func (c *Context) GetString(key string) string {
	return c.ctx.GetString(key)
}

// Next 执行下一个中间件或处理函数
func (c *Context) Next() {
	c.ctx.Next()
}

// Abort 中止请求处理
func (c *Context) Abort() {
	c.ctx.Abort()
}

// AbortWithStatus 中止请求并设置状态码
func (c *Context) AbortWithStatus(code int) {
	c.ctx.AbortWithStatus(code)
}

// IsAborted 检查请求是否已中止
func (c *Context) IsAborted() bool {
	return c.ctx.IsAborted()
}

// ClientIP 获取客户端 IP
func (c *Context) ClientIP() string {
	return c.ctx.ClientIP()
}

// GetHeader 获取请求头
func (c *Context) GetHeader(key string) string {
	return c.ctx.GetHeader(key)
}

// Header 设置响应头
func (c *Context) Header(key, value string) {
	c.ctx.Header(key, value)
}

// ============ 请求绑定方法 ============

// BindJSON 绑定 JSON 请求体
// 绑定失败时自动响应错误，调用方只需判断 err != nil 并 return
func (c *Context) BindJSON(obj any) error {
	if err := c.ctx.ShouldBindJSON(obj); err != nil {
		wrappedErr := c.wrapBindError(err)
		c.RespondError(wrappedErr)
		return wrappedErr
	}
	return nil
}

// BindQuery 绑定 URL 查询参数
// 绑定失败时自动响应错误，调用方只需判断 err != nil 并 return
func (c *Context) BindQuery(obj any) error {
	if err := c.ctx.ShouldBindQuery(obj); err != nil {
		wrappedErr := c.wrapBindError(err)
		c.RespondError(wrappedErr)
		return wrappedErr
	}
	return nil
}

func (c *Context) wrapBindError(err error) error {
	return errors.ErrBadRequest.WithError(err)
}

// ============ 响应方法 ============

// Success 成功响应
func (c *Context) Success(data any) {
	c.respond(http.StatusOK, Success(data))
}

// Accepted 已受理响应（202），用于异步投递
func (c *Context) Accepted(data any) {
	c.respond(http.StatusAccepted, Accepted(data))
}

// Nil 成功响应（无数据）
func (c *Context) Nil() {
	c.Success(nil)
}

// RespondError 错误响应，HTTP 状态码取自 errors.Error
func (c *Context) RespondError(err error) {
	c.respond(ErrorResponse(err))
}

// respond 统一响应处理（自动添加 TraceID）
func (c *Context) respond(statusCode int, resp *Response) {
	if traceID := GetContextTraceID(c); traceID != "" {
		resp.WithTraceID(traceID)
	}
	c.JSON(statusCode, resp)
}

// RequestContext 返回标准库 context.Context，用于传递给 Service 层
// TraceID 与 UserID 写入 logger 包的 key，*Context 日志方法可直接提取
func (c *Context) RequestContext() context.Context {
	ctx := c.ctx.Request.Context()
	if traceID := GetContextTraceID(c); traceID != "" {
		ctx = logger.ContextWithTraceID(ctx, traceID)
	}
	if uid := GetContextUserID(c); uid != "" {
		ctx = logger.ContextWithUserID(ctx, uid)
	}
	return ctx
}

// SetRequestContext 更新 Request 的 Context（用于中间件注入 SpanContext）
func (c *Context) SetRequestContext(ctx context.Context) {
	c.ctx.Request = c.ctx.Request.WithContext(ctx)
}
