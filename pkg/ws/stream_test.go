package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/stsrt/pkg/errors"
)

type recordingBackplane struct {
	mu     sync.Mutex
	events []StreamEvent
	err    error
}

func (b *recordingBackplane) Publish(_ context.Context, e StreamEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.events = append(b.events, e)
	return nil
}

func TestPublishRoomEvent(t *testing.T) {
	h := newTestHub(t)
	s := NewStreamingService(h)
	id, _ := register(t, h, ConnectionMetadata{SubscribedTopics: []string{"room:42"}})

	n, err := s.Publish(context.Background(), StreamEvent{
		EventType: MessageTypeRoomUpdate,
		RoomID:    "42",
		Payload:   json.RawMessage(`{"status":"berthed"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	queued, err := h.Queued(id)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, MessageTypeRoomUpdate, queued[0].Type)
	assert.Equal(t, PriorityNormal, queued[0].Priority)
	assert.JSONEq(t, `{"status":"berthed"}`, string(queued[0].Payload))
}

func TestPublishExplicitTopicAndPriority(t *testing.T) {
	h := newTestHub(t)
	s := NewStreamingService(h)
	id, _ := register(t, h, ConnectionMetadata{SubscribedTopics: []string{"documents"}})

	n, err := s.Publish(context.Background(), StreamEvent{
		EventType: MessageTypeDocumentUpdate,
		Topic:     "documents",
		RoomID:    "ignored",
		Priority:  "critical",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	queued, _ := h.Queued(id)
	require.Len(t, queued, 1)
	assert.Equal(t, PriorityCritical, queued[0].Priority)
}

func TestPublishAlsoReachesDashboard(t *testing.T) {
	h := newTestHub(t)
	s := NewStreamingService(h)
	room, _ := register(t, h, ConnectionMetadata{SubscribedTopics: []string{"room:1"}})
	dash, _ := register(t, h, ConnectionMetadata{SubscribedTopics: []string{DashboardTopic}})
	both, _ := register(t, h, ConnectionMetadata{SubscribedTopics: []string{"room:1", DashboardTopic}})

	tests := []struct {
		name  string
		event StreamEvent
		want  map[string]int
	}{
		{
			name:  "approval always dashboard",
			event: StreamEvent{EventType: MessageTypeApprovalUpdate, RoomID: "1"},
			want:  map[string]int{room: 1, dash: 1, both: 1},
		},
		{
			name:  "flagged event",
			event: StreamEvent{EventType: MessageTypeNotification, RoomID: "1", Dashboard: true},
			want:  map[string]int{room: 2, dash: 2, both: 2},
		},
		{
			name:  "room only",
			event: StreamEvent{EventType: MessageTypeRoomUpdate, RoomID: "1"},
			want:  map[string]int{room: 3, dash: 2, both: 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Publish(context.Background(), tt.event)
			require.NoError(t, err)
			for id, want := range tt.want {
				queued, err := h.Queued(id)
				require.NoError(t, err)
				assert.Len(t, queued, want, id)
			}
		})
	}

	queued, _ := h.Queued(dash)
	assert.Equal(t, PriorityHigh, queued[0].Priority)
}

func TestPublishRejectsInvalidEvents(t *testing.T) {
	h := newTestHub(t)
	s := NewStreamingService(h)

	tests := []struct {
		name  string
		event StreamEvent
		want  error
	}{
		{"unknown type", StreamEvent{EventType: "bogus", RoomID: "1"}, ErrInvalidEventType},
		{"control type", StreamEvent{EventType: MessageTypeHeartbeat, RoomID: "1"}, ErrInvalidEventType},
		{"no target", StreamEvent{EventType: MessageTypeUpdate}, ErrInvalidTopic},
		{"bad priority", StreamEvent{EventType: MessageTypeUpdate, RoomID: "1", Priority: "urgent"}, ErrInvalidPriority},
		{"bad payload", StreamEvent{EventType: MessageTypeUpdate, RoomID: "1", Payload: json.RawMessage(`{`)}, ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Publish(context.Background(), tt.event)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.True(t, errors.Is(err, errors.ErrUsage))
		})
	}
}

func TestPublishThroughBackplane(t *testing.T) {
	h := newTestHub(t)
	bp := &recordingBackplane{}
	s := NewStreamingService(h, WithBackplane(bp))
	id, _ := register(t, h, ConnectionMetadata{SubscribedTopics: []string{"room:5"}})

	event := StreamEvent{EventType: MessageTypeVesselUpdate, RoomID: "5"}
	n, err := s.Publish(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.Len(t, bp.events, 1)

	queued, _ := h.Queued(id)
	assert.Empty(t, queued)

	s.HandleBackplane()(bp.events[0])
	queued, _ = h.Queued(id)
	assert.Len(t, queued, 1)

	// 非法事件被丢弃
	s.HandleBackplane()(StreamEvent{EventType: "bogus"})
	queued, _ = h.Queued(id)
	assert.Len(t, queued, 1)

	bp.err = fmt.Errorf("broker down")
	_, err = s.Publish(context.Background(), event)
	assert.Error(t, err)
}
