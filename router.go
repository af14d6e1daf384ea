package stsrt

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// RouterGroup 路由组
type RouterGroup struct {
	group *gin.RouterGroup
}

// Group 创建子路由组
func (rg *RouterGroup) Group(path string, middlewares ...HandlerFunc) *RouterGroup {
	return &RouterGroup{
		group: rg.group.Group(path, WrapMiddlewares(middlewares...)...),
	}
}

// Use 注册中间件
func (rg *RouterGroup) Use(middlewares ...HandlerFunc) {
	rg.group.Use(WrapMiddlewares(middlewares...)...)
}

// BasePath 路由组前缀
func (rg *RouterGroup) BasePath() string {
	return rg.group.BasePath()
}

// GET 注册 GET 路由
func (rg *RouterGroup) GET(path string, handler HandlerFunc, middlewares ...HandlerFunc) {
	rg.group.GET(path, chain(handler, middlewares)...)
}

// POST 注册 POST 路由
func (rg *RouterGroup) POST(path string, handler HandlerFunc, middlewares ...HandlerFunc) {
	rg.group.POST(path, chain(handler, middlewares)...)
}

// PUT 注册 PUT 路由
func (rg *RouterGroup) PUT(path string, handler HandlerFunc, middlewares ...HandlerFunc) {
	rg.group.PUT(path, chain(handler, middlewares)...)
}

// DELETE 注册 DELETE 路由
func (rg *RouterGroup) DELETE(path string, handler HandlerFunc, middlewares ...HandlerFunc) {
	rg.group.DELETE(path, chain(handler, middlewares)...)
}

// Any 注册所有 HTTP 方法的路由
func (rg *RouterGroup) Any(path string, handler HandlerFunc, middlewares ...HandlerFunc) {
	rg.group.Any(path, chain(handler, middlewares)...)
}

func chain(handler HandlerFunc, middlewares []HandlerFunc) []gin.HandlerFunc {
	return append(WrapMiddlewares(middlewares...), WrapHandler(handler))
}

// ============ 泛型路由（自动绑定 + 自动响应）============

// RouteRegister 路由注册函数类型
type RouteRegister func(path string, handler HandlerFunc, middlewares ...HandlerFunc)

// Handle 有请求参数，有响应数据
func Handle[Req any, Resp any](register RouteRegister, path string, handler func(*Context, *Req) (*Resp, error), middlewares ...HandlerFunc) {
	wrappedHandler := func(c *Context) {
		var req Req
		if err := autoBind(c, &req); err != nil {
			c.RespondError(err)
			return
		}
		resp, err := handler(c, &req)
		if err != nil {
			c.RespondError(err)
			return
		}
		c.Success(resp)
	}
	register(path, wrappedHandler, middlewares...)
}

// Handle0 有请求参数，无响应数据
func Handle0[Req any](register RouteRegister, path string, handler func(*Context, *Req) error, middlewares ...HandlerFunc) {
	wrappedHandler := func(c *Context) {
		var req Req
		if err := autoBind(c, &req); err != nil {
			c.RespondError(err)
			return
		}
		if err := handler(c, &req); err != nil {
			c.RespondError(err)
			return
		}
		c.Nil()
	}
	register(path, wrappedHandler, middlewares...)
}

// HandleOnly 无请求参数，有响应数据
func HandleOnly[Resp any](register RouteRegister, path string, handler func(*Context) (*Resp, error), middlewares ...HandlerFunc) {
	wrappedHandler := func(c *Context) {
		resp, err := handler(c)
		if err != nil {
			c.RespondError(err)
			return
		}
		c.Success(resp)
	}
	register(path, wrappedHandler, middlewares...)
}

// autoBind 根据请求方法自动选择绑定策略
// 路径参数只映射不校验，整体校验由随后的 Query / Body 绑定完成
func autoBind(c *Context, obj any) error {
	if len(c.ctx.Params) > 0 {
		params := make(map[string][]string, len(c.ctx.Params))
		for _, p := range c.ctx.Params {
			params[p.Key] = []string{p.Value}
		}
		if err := binding.MapFormWithTag(obj, params, "uri"); err != nil {
			return c.wrapBindError(err)
		}
	}

	switch c.Request().Method {
	case http.MethodGet, http.MethodDelete:
		if err := c.ShouldBindQuery(obj); err != nil {
			return c.wrapBindError(err)
		}
	default:
		// 根据 Content-Type 选择 JSON / Form 等
		if err := c.ShouldBind(obj); err != nil {
			return c.wrapBindError(err)
		}
	}
	return nil
}
