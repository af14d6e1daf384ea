package stsrt

// GET 注册 GET 路由（有请求 + 有响应）
func GET[Req any, Resp any](rg *RouterGroup, path string, handler func(*Context, *Req) (*Resp, error), middlewares ...HandlerFunc) {
	Handle[Req, Resp](rg.GET, path, handler, middlewares...)
}

// POST 注册 POST 路由（有请求 + 有响应）
func POST[Req any, Resp any](rg *RouterGroup, path string, handler func(*Context, *Req) (*Resp, error), middlewares ...HandlerFunc) {
	Handle[Req, Resp](rg.POST, path, handler, middlewares...)
}

// DELETE0 注册 DELETE 路由（有请求，无响应数据）
func DELETE0[Req any](rg *RouterGroup, path string, handler func(*Context, *Req) error, middlewares ...HandlerFunc) {
	Handle0[Req](rg.DELETE, path, handler, middlewares...)
}

// GETOnly 注册 GET 路由（无请求，有响应）
func GETOnly[Resp any](rg *RouterGroup, path string, handler func(*Context) (*Resp, error), middlewares ...HandlerFunc) {
	HandleOnly[Resp](rg.GET, path, handler, middlewares...)
}

// POSTOnly 注册 POST 路由（无请求，有响应）
func POSTOnly[Resp any](rg *RouterGroup, path string, handler func(*Context) (*Resp, error), middlewares ...HandlerFunc) {
	HandleOnly[Resp](rg.POST, path, handler, middlewares...)
}
