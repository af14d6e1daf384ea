package ws

import (
	"encoding/json"
	"strings"
	"time"
)

// MessageType 消息类型（封闭枚举）
type MessageType string

const (
	MessageTypeUpdate         MessageType = "update"
	MessageTypeRoomUpdate     MessageType = "room_update"
	MessageTypeDocumentUpdate MessageType = "document_update"
	MessageTypeApprovalUpdate MessageType = "approval_update"
	MessageTypeVesselUpdate   MessageType = "vessel_update"
	MessageTypeNotification   MessageType = "notification"
	MessageTypeSystem         MessageType = "system"
	MessageTypeHeartbeat      MessageType = "heartbeat"
	MessageTypeError          MessageType = "error"
	MessageTypeSubscribed     MessageType = "subscribed"
	MessageTypeUnsubscribed   MessageType = "unsubscribed"
)

// Valid 检查消息类型是否为已知类型
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeUpdate, MessageTypeRoomUpdate, MessageTypeDocumentUpdate,
		MessageTypeApprovalUpdate, MessageTypeVesselUpdate, MessageTypeNotification,
		MessageTypeSystem, MessageTypeHeartbeat, MessageTypeError,
		MessageTypeSubscribed, MessageTypeUnsubscribed:
		return true
	}
	return false
}

// Priority 消息优先级
type Priority int8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical

	numPriorities = 4
)

var priorityNames = [numPriorities]string{"low", "normal", "high", "critical"}

// Valid 检查优先级是否合法
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// String 返回优先级名称
func (p Priority) String() string {
	if !p.Valid() {
		return "unknown"
	}
	return priorityNames[p]
}

// ParsePriority 解析优先级名称，空串视为 normal
func ParsePriority(s string) (Priority, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PriorityNormal, nil
	}
	for i, name := range priorityNames {
		if name == s {
			return Priority(i), nil
		}
	}
	return PriorityNormal, ErrInvalidPriority
}

// MarshalJSON 以名称形式序列化
func (p Priority) MarshalJSON() ([]byte, error) {
	if !p.Valid() {
		return nil, ErrInvalidPriority
	}
	return json.Marshal(p.String())
}

// UnmarshalJSON 从名称反序列化
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return ErrInvalidPriority
	}
	v, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Message 推送给客户端的消息，入队后不可修改
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Priority  Priority        `json:"priority"`
	CreatedAt time.Time       `json:"created_at"`

	encoded []byte
}

// NewMessage 创建消息，未知类型返回 ErrInvalidMessageType
// payload 为 json.RawMessage 或 []byte 时按原样使用，否则做 JSON 序列化
func NewMessage(typ MessageType, payload any, priority Priority) (Message, error) {
	if !typ.Valid() {
		return Message{}, ErrInvalidMessageType
	}
	if !priority.Valid() {
		return Message{}, ErrInvalidPriority
	}

	var raw json.RawMessage
	switch v := payload.(type) {
	case nil:
	case json.RawMessage:
		raw = append(json.RawMessage(nil), v...)
	case []byte:
		raw = append(json.RawMessage(nil), v...)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return Message{}, ErrInvalidPayload.WithError(err)
		}
		raw = b
	}
	if raw != nil && !json.Valid(raw) {
		return Message{}, ErrInvalidPayload
	}

	m := Message{
		Type:      typ,
		Payload:   raw,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		return Message{}, ErrInvalidPayload.WithError(err)
	}
	m.encoded = encoded
	return m, nil
}

// MustMessage 创建消息，出错时 panic，仅用于内置控制消息
func MustMessage(typ MessageType, payload any, priority Priority) Message {
	m, err := NewMessage(typ, payload, priority)
	if err != nil {
		panic(err)
	}
	return m
}

// Encode 返回线上 JSON 格式
// {"type":...,"payload":...,"priority":"low|normal|high|critical","created_at":RFC3339Nano}
func (m Message) Encode() ([]byte, error) {
	if m.encoded != nil {
		return m.encoded, nil
	}
	return json.Marshal(m)
}

func (m Message) validate() error {
	if !m.Type.Valid() {
		return ErrInvalidMessageType
	}
	if !m.Priority.Valid() {
		return ErrInvalidPriority
	}
	return nil
}

// 客户端上行指令
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)

// ClientFrame 客户端上行帧
type ClientFrame struct {
	Action string `json:"action"`
	Topic  string `json:"topic,omitempty"`
}

// ParseClientFrame 解析并校验上行帧
func ParseClientFrame(data []byte) (ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return f, ErrInvalidFrame.WithError(err)
	}
	switch f.Action {
	case ActionSubscribe, ActionUnsubscribe:
		if err := validateTopic(f.Topic); err != nil {
			return f, err
		}
	case ActionPing:
	default:
		return f, ErrInvalidFrame.WithMessage("ws: unknown action " + f.Action)
	}
	return f, nil
}

// topicPayload 订阅确认消息载荷
type topicPayload struct {
	Topic string `json:"topic"`
}

// errorPayload 错误消息载荷
type errorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
