package ws

import "github.com/tokmz/stsrt/pkg/errors"

// 错误定义
var (
	// 用法错误
	ErrInvalidTopic       = errors.ErrUsage.Derive(4101, "ws: topic must not be empty")
	ErrInvalidMessageType = errors.ErrUsage.Derive(4102, "ws: invalid message type")
	ErrInvalidPriority    = errors.ErrUsage.Derive(4103, "ws: invalid priority")
	ErrInvalidPayload     = errors.ErrUsage.Derive(4104, "ws: payload is not valid json")
	ErrInvalidFrame       = errors.ErrUsage.Derive(4105, "ws: invalid client frame")
	ErrInvalidEventType   = errors.ErrUsage.Derive(4106, "ws: invalid event type")

	// 连接相关错误
	ErrConnectionNotFound  = errors.ErrNotFound.Derive(4401, "ws: connection not found")
	ErrConnectionClosed    = errors.New(4402, 410, "ws: connection closed", nil)
	ErrTooManyConnections  = errors.New(4403, 503, "ws: too many connections", nil)
	ErrHubClosed           = errors.New(4404, 503, "ws: hub is shutting down", nil)
	ErrDuplicateConnection = errors.ErrInvariant.Derive(5101, "ws: connection id already registered")

	// 容量与传输错误，只记录不抛出
	ErrQueueFull   = errors.ErrCapacity.Derive(4291, "ws: message queue full")
	ErrWriteFail   = errors.ErrTransport.Derive(5021, "ws: transport write failed")
	ErrRateLimited = errors.ErrTooManyRequests.Derive(4292, "ws: inbound rate limited")

	// 配置相关错误
	ErrInvalidConfig = errors.New(4405, 500, "ws: invalid config", nil)
)
