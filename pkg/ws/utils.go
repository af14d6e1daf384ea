package ws

import (
	"strings"

	"github.com/google/uuid"
)

// maxTopicLength 主题名最大长度
const maxTopicLength = 256

// generateConnectionID 生成连接 ID
func generateConnectionID() string {
	return uuid.NewString()
}

// validateTopic 校验主题名
func validateTopic(topic string) error {
	if strings.TrimSpace(topic) == "" {
		return ErrInvalidTopic
	}
	if len(topic) > maxTopicLength {
		return ErrInvalidTopic.WithMessage("ws: topic too long")
	}
	return nil
}

// RoomTopic 房间主题名
func RoomTopic(roomID string) string {
	return "room:" + roomID
}
