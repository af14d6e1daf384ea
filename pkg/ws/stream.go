package ws

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/tokmz/stsrt/pkg/logger"
)

// DashboardTopic 仪表盘主题
const DashboardTopic = "dashboard"

// StreamEvent 业务状态变化事件，不持久化
type StreamEvent struct {
	EventType MessageType     `json:"event_type" binding:"required"`
	Topic     string          `json:"topic,omitempty" binding:"omitempty,max=256"`
	RoomID    string          `json:"room_id,omitempty" binding:"omitempty,max=128"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Priority  string          `json:"priority,omitempty" binding:"omitempty,oneof=low normal high critical"`
	Dashboard bool            `json:"dashboard,omitempty"`
}

// Validate 校验事件
func (e StreamEvent) Validate() error {
	if !isStreamType(e.EventType) {
		return ErrInvalidEventType
	}
	if e.Topic == "" && e.RoomID == "" {
		return ErrInvalidTopic.WithMessage("ws: event needs a topic or room_id")
	}
	if e.Topic != "" {
		if err := validateTopic(e.Topic); err != nil {
			return err
		}
	}
	if _, err := ParsePriority(e.Priority); err != nil {
		return err
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return ErrInvalidPayload
	}
	return nil
}

// TargetTopic 事件对应的主题：topic 优先，否则 room:<room_id>
func (e StreamEvent) TargetTopic() string {
	if e.Topic != "" {
		return e.Topic
	}
	return RoomTopic(e.RoomID)
}

// Topics 事件需要广播到的所有主题
func (e StreamEvent) Topics() []string {
	topic := e.TargetTopic()
	if topic != DashboardTopic && (e.Dashboard || isDashboardType(e.EventType)) {
		return []string{topic, DashboardTopic}
	}
	return []string{topic}
}

// Message 构造推送消息
func (e StreamEvent) Message() (Message, error) {
	priority, err := ParsePriority(e.Priority)
	if err != nil {
		return Message{}, err
	}
	if e.Priority == "" {
		priority = defaultPriority(e.EventType)
	}
	return NewMessage(e.EventType, e.Payload, priority)
}

// isStreamType 业务事件可用的消息类型，不含控制消息
func isStreamType(t MessageType) bool {
	switch t {
	case MessageTypeUpdate, MessageTypeRoomUpdate, MessageTypeDocumentUpdate,
		MessageTypeApprovalUpdate, MessageTypeVesselUpdate, MessageTypeNotification,
		MessageTypeSystem:
		return true
	}
	return false
}

// isDashboardType 总是同步到仪表盘的事件
func isDashboardType(t MessageType) bool {
	return t == MessageTypeApprovalUpdate || t == MessageTypeVesselUpdate
}

func defaultPriority(t MessageType) Priority {
	switch t {
	case MessageTypeApprovalUpdate, MessageTypeVesselUpdate, MessageTypeSystem:
		return PriorityHigh
	}
	return PriorityNormal
}

// Backplane 多实例事件通道
type Backplane interface {
	Publish(ctx context.Context, event StreamEvent) error
}

// StreamingService 将业务事件扇出到订阅者
type StreamingService struct {
	hub       *Hub
	backplane Backplane
	log       logger.Logger
}

// StreamOption 流服务选项
type StreamOption func(*StreamingService)

// WithBackplane 设置多实例事件通道，Publish 经由通道在每个实例上本地广播
func WithBackplane(b Backplane) StreamOption {
	return func(s *StreamingService) {
		s.backplane = b
	}
}

// NewStreamingService 创建流服务
func NewStreamingService(hub *Hub, opts ...StreamOption) *StreamingService {
	s := &StreamingService{hub: hub, log: hub.log.Named("stream")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publish 发布事件，返回本实例接收消息的队列数
// 配置了多实例通道时只负责发出，返回 0，广播在收到事件时完成
func (s *StreamingService) Publish(ctx context.Context, event StreamEvent) (int, error) {
	if err := event.Validate(); err != nil {
		return 0, err
	}
	if s.backplane != nil {
		if err := s.backplane.Publish(ctx, event); err != nil {
			s.log.WarnContext(ctx, "stream backplane publish failed",
				zap.String("event_type", string(event.EventType)),
				zap.Error(err),
			)
			return 0, err
		}
		return 0, nil
	}
	return s.Deliver(event)
}

// Deliver 在本实例广播事件
func (s *StreamingService) Deliver(event StreamEvent) (int, error) {
	if err := event.Validate(); err != nil {
		return 0, err
	}
	msg, err := event.Message()
	if err != nil {
		return 0, err
	}

	topics := event.Topics()
	n := s.hub.BroadcastTopics(topics, msg)
	s.log.Debug("stream event delivered",
		zap.String("event_type", string(event.EventType)),
		zap.Strings("topics", topics),
		zap.Int("accepted", n),
	)
	return n, nil
}

// HandleBackplane 返回多实例通道的接收回调
func (s *StreamingService) HandleBackplane() func(StreamEvent) {
	return func(event StreamEvent) {
		if _, err := s.Deliver(event); err != nil {
			s.log.Warn("stream drop invalid backplane event",
				zap.String("event_type", string(event.EventType)),
				zap.Error(err),
			)
		}
	}
}
