package ws

import "time"

// Metrics 监控接口
type Metrics interface {
	// 连接指标
	ConnectionOpened()
	ConnectionClosed(reason CloseReason)
	SetConnectionCount(count int)
	SetTopicCount(count int)

	// 消息指标
	MessageEnqueued(msgType MessageType)
	MessageDelivered(msgType MessageType, latency time.Duration)
	MessageDropped(priority Priority)

	// 错误指标
	WriteError()
	InvalidFrame()
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (m *NoopMetrics) ConnectionOpened()                                           {}
func (m *NoopMetrics) ConnectionClosed(reason CloseReason)                         {}
func (m *NoopMetrics) SetConnectionCount(count int)                                {}
func (m *NoopMetrics) SetTopicCount(count int)                                     {}
func (m *NoopMetrics) MessageEnqueued(msgType MessageType)                         {}
func (m *NoopMetrics) MessageDelivered(msgType MessageType, latency time.Duration) {}
func (m *NoopMetrics) MessageDropped(priority Priority)                            {}
func (m *NoopMetrics) WriteError()                                                 {}
func (m *NoopMetrics) InvalidFrame()                                               {}
