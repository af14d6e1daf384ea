package errors

/*
	内置常用错误码
*/

var (
	// ErrServer 服务器错误
	ErrServer = New(1000, 500, "服务器异常", nil)
	// ErrBadRequest 客户端请求错误
	ErrBadRequest = New(1001, 400, "请求异常", nil)
	// ErrUnauthorized 未授权
	ErrUnauthorized = New(1002, 401, "授权异常", nil)
	// ErrForbidden 禁止访问
	ErrForbidden = New(1003, 403, "禁止访问", nil)
	// ErrNotFound 资源不存在
	ErrNotFound = New(1004, 404, "资源不存在", nil)
	// ErrTooManyRequests 请求过于频繁
	ErrTooManyRequests = New(1005, 429, "请求过于频繁", nil)
)

/*
	缓存与实时推送共用的错误分类
*/

var (
	// ErrUsage 调用方用法错误（非法 key / topic），同步返回给调用方
	ErrUsage = New(4000, 400, "invalid usage", nil)
	// ErrCapacity 队列容量溢出，仅以计数体现，不向调用方抛出
	ErrCapacity = New(4290, 429, "capacity exceeded", nil)
	// ErrTransport 传输层写失败，触发连接关闭，不影响其他连接
	ErrTransport = New(5020, 502, "transport failure", nil)
	// ErrInvariant 内部不变量被破坏（例如连接 ID 冲突），仅影响本次操作
	ErrInvariant = New(5000, 500, "invariant violation", nil)
)
