package stsrt

import (
	"net/http"

	"github.com/tokmz/stsrt/pkg/errors"
)

// Response 统一响应结构
type Response struct {
	Code    int    `json:"code"`               // 业务状态码
	Data    any    `json:"data"`               // 响应数据
	Message string `json:"message"`            // 响应消息
	TraceID string `json:"trace_id,omitempty"` // 追踪ID（可选）
}

// MessageResponse 只有提示信息的响应，缓存管理接口直接以此作为响应体
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// WithTraceID 设置追踪ID
func (r *Response) WithTraceID(traceID string) *Response {
	r.TraceID = traceID
	return r
}

// Success 创建成功响应
func Success(data any) *Response {
	return &Response{Code: http.StatusOK, Data: data, Message: "success"}
}

// Accepted 创建已受理响应，投递结果在 data 中
func Accepted(data any) *Response {
	return &Response{Code: http.StatusAccepted, Data: data, Message: "accepted"}
}

// ErrorResponse 将错误转换为 HTTP 状态码与响应体
// 非 errors.Error 的错误归为 ErrServer，保留原始错误信息
func ErrorResponse(err error) (int, *Response) {
	var bizErr *errors.Error
	if errors.As(err, &bizErr) {
		return bizErr.HttpCode, &Response{Code: bizErr.Code, Message: bizErr.Message}
	}

	message := errors.ErrServer.Message
	if err != nil {
		message = err.Error()
	}
	return errors.ErrServer.HttpCode, &Response{Code: errors.ErrServer.Code, Message: message}
}
