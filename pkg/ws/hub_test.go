package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/stsrt/pkg/errors"
)

const waitFor = 2 * time.Second

func TestRegister(t *testing.T) {
	h := newTestHub(t)

	id, _ := register(t, h, ConnectionMetadata{UserID: "u1", SubscribedTopics: []string{"dashboard"}})
	require.NotEmpty(t, id)

	c, ok := h.Connection(id)
	require.True(t, ok)
	assert.Equal(t, StateActive, c.State())
	assert.Equal(t, "u1", c.UserID())
	assert.Equal(t, []string{"dashboard"}, c.Metadata().SubscribedTopics)
	assert.Equal(t, 1, h.Subscribers("dashboard"))
	assert.Equal(t, 1, h.Stats().Connections)
}

func TestRegisterDuplicateID(t *testing.T) {
	h := newTestHub(t)

	register(t, h, ConnectionMetadata{ConnectionID: "c1"})
	_, err := h.Register(newFakeTransport(), ConnectionMetadata{ConnectionID: "c1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateConnection))
	assert.True(t, errors.Is(err, errors.ErrInvariant))
	assert.Equal(t, 1, h.Stats().Connections)
}

func TestRegisterTooManyConnections(t *testing.T) {
	h := newTestHub(t, WithMaxConnections(1))

	register(t, h, ConnectionMetadata{})
	_, err := h.Register(newFakeTransport(), ConnectionMetadata{})
	assert.True(t, errors.Is(err, ErrTooManyConnections))
	assert.Equal(t, 1, h.Stats().Connections)
}

func TestRegisterInvalidInitialTopic(t *testing.T) {
	h := newTestHub(t)

	_, err := h.Register(newFakeTransport(), ConnectionMetadata{SubscribedTopics: []string{" "}})
	assert.True(t, errors.Is(err, ErrInvalidTopic))
	assert.Equal(t, 0, h.Stats().Connections)
}

func TestSubscribe(t *testing.T) {
	h := newTestHub(t)
	id, _ := register(t, h, ConnectionMetadata{})

	err := h.Subscribe(id, "")
	assert.True(t, errors.Is(err, ErrInvalidTopic))
	assert.True(t, errors.Is(err, errors.ErrUsage))

	require.NoError(t, h.Subscribe(id, "room:1"))
	require.NoError(t, h.Subscribe(id, "room:1"))
	assert.Equal(t, 1, h.Subscribers("room:1"))

	require.NoError(t, h.Unsubscribe(id, "room:1"))
	require.NoError(t, h.Unsubscribe(id, "room:1"))
	assert.Equal(t, 0, h.Subscribers("room:1"))
	assert.Equal(t, 0, h.Stats().Topics)

	assert.True(t, errors.Is(h.Subscribe("missing", "room:1"), ErrConnectionNotFound))
}

func TestBroadcastToDashboard(t *testing.T) {
	h := newTestHub(t)
	c1, _ := register(t, h, ConnectionMetadata{})
	c2, _ := register(t, h, ConnectionMetadata{})
	require.NoError(t, h.Subscribe(c1, "dashboard"))

	n := h.Broadcast("dashboard", msg(t, MessageTypeUpdate, PriorityNormal, nil))
	assert.Equal(t, 1, n)

	queued, err := h.Queued(c1)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, MessageTypeUpdate, queued[0].Type)

	queued, err = h.Queued(c2)
	require.NoError(t, err)
	assert.Empty(t, queued)

	assert.Equal(t, 0, h.Broadcast("", msg(t, MessageTypeUpdate, PriorityNormal, nil)))
	assert.Equal(t, 0, h.Broadcast("nobody", msg(t, MessageTypeUpdate, PriorityNormal, nil)))
}

func TestBroadcastTopicsDeduplicates(t *testing.T) {
	h := newTestHub(t)
	both, _ := register(t, h, ConnectionMetadata{SubscribedTopics: []string{"room:1", "dashboard"}})
	register(t, h, ConnectionMetadata{SubscribedTopics: []string{"room:1"}})
	register(t, h, ConnectionMetadata{SubscribedTopics: []string{"dashboard"}})

	n := h.BroadcastTopics([]string{"room:1", "dashboard"}, msg(t, MessageTypeApprovalUpdate, PriorityHigh, nil))
	assert.Equal(t, 3, n)

	queued, err := h.Queued(both)
	require.NoError(t, err)
	assert.Len(t, queued, 1)
}

func TestEnqueue(t *testing.T) {
	h := newTestHub(t)
	id, _ := register(t, h, ConnectionMetadata{})

	ok, err := h.Enqueue(id, msg(t, MessageTypeNotification, PriorityLow, nil))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = h.Enqueue("missing", msg(t, MessageTypeNotification, PriorityLow, nil))
	assert.True(t, errors.Is(err, ErrConnectionNotFound))

	_, err = h.Enqueue(id, Message{Type: "bogus"})
	assert.True(t, errors.Is(err, ErrInvalidMessageType))

	assert.Equal(t, uint64(1), h.Stats().Enqueued)
}

func TestEnqueueOverflowIsCountedNotReturned(t *testing.T) {
	h := newTestHub(t, WithQueueCapacity(3))
	id, _ := register(t, h, ConnectionMetadata{})

	for _, p := range []Priority{PriorityLow, PriorityLow, PriorityHigh} {
		ok, err := h.Enqueue(id, msg(t, MessageTypeUpdate, p, nil))
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := h.Enqueue(id, msg(t, MessageTypeSystem, PriorityCritical, nil))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Enqueue(id, msg(t, MessageTypeUpdate, PriorityLow, nil))
	require.NoError(t, err)
	assert.False(t, ok)

	queued, err := h.Queued(id)
	require.NoError(t, err)
	got := make([]Priority, 0, len(queued))
	for _, m := range queued {
		got = append(got, m.Priority)
	}
	assert.Equal(t, []Priority{PriorityLow, PriorityHigh, PriorityCritical}, got)
	assert.Equal(t, uint64(2), h.Stats().Dropped)
}

func TestSendToUser(t *testing.T) {
	h := newTestHub(t)
	a, _ := register(t, h, ConnectionMetadata{UserID: "alice"})
	b, _ := register(t, h, ConnectionMetadata{UserID: "alice"})
	other, _ := register(t, h, ConnectionMetadata{UserID: "bob"})

	n := h.SendToUser("alice", msg(t, MessageTypeNotification, PriorityNormal, nil))
	assert.Equal(t, 2, n)

	for id, want := range map[string]int{a: 1, b: 1, other: 0} {
		queued, err := h.Queued(id)
		require.NoError(t, err)
		assert.Len(t, queued, want)
	}
	assert.Equal(t, 0, h.SendToUser("", msg(t, MessageTypeNotification, PriorityNormal, nil)))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	h := newTestHub(t)
	id, ft := register(t, h, ConnectionMetadata{SubscribedTopics: []string{"dashboard"}})
	_, err := h.Enqueue(id, msg(t, MessageTypeUpdate, PriorityNormal, nil))
	require.NoError(t, err)

	c, _ := h.Connection(id)
	h.Disconnect(id, ReasonKicked)
	h.Disconnect(id, ReasonKicked)
	h.Disconnect("missing", ReasonKicked)

	assert.Equal(t, StateClosed, c.State())
	assert.True(t, ft.isClosed())
	_, ok := h.Connection(id)
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers("dashboard"))

	stats := h.Stats()
	assert.Equal(t, 0, stats.Connections)
	assert.Equal(t, uint64(1), stats.Discarded)

	_, err = h.Enqueue(id, msg(t, MessageTypeUpdate, PriorityNormal, nil))
	assert.True(t, errors.Is(err, ErrConnectionNotFound))
}

func TestDrainToTransportKeepsFIFO(t *testing.T) {
	h := newTestHub(t)
	id, ft := register(t, h, ConnectionMetadata{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.DrainToTransport(ctx, id) }()

	priorities := []Priority{PriorityLow, PriorityCritical, PriorityNormal, PriorityHigh, PriorityLow}
	for i, p := range priorities {
		_, err := h.Enqueue(id, msg(t, MessageTypeUpdate, p, map[string]int{"seq": i}))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return ft.count() == len(priorities) }, waitFor, 5*time.Millisecond)
	for i, m := range ft.messages(t) {
		assert.JSONEq(t, fmt.Sprintf(`{"seq":%d}`, i), string(m.Payload))
	}
	assert.Equal(t, uint64(len(priorities)), h.Stats().Delivered)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWriteFailureClosesConnection(t *testing.T) {
	h := newTestHub(t)
	id, ft := register(t, h, ConnectionMetadata{})
	ft.writeErr = fmt.Errorf("broken pipe")

	for i := 0; i < 3; i++ {
		_, err := h.Enqueue(id, msg(t, MessageTypeUpdate, PriorityNormal, nil))
		require.NoError(t, err)
	}

	err := h.DrainToTransport(context.Background(), id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWriteFail))

	_, ok := h.Connection(id)
	assert.False(t, ok)
	assert.True(t, ft.isClosed())

	stats := h.Stats()
	assert.Equal(t, uint64(1), stats.WriteErrors)
	assert.Equal(t, uint64(2), stats.Discarded)
	assert.Equal(t, uint64(0), stats.Delivered)
}

func TestWriteFailureIsolatedToConnection(t *testing.T) {
	h := newTestHub(t)
	bad, badT := register(t, h, ConnectionMetadata{SubscribedTopics: []string{"room:1"}})
	good, goodT := register(t, h, ConnectionMetadata{SubscribedTopics: []string{"room:1"}})
	badT.writeErr = fmt.Errorf("reset by peer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.DrainToTransport(ctx, bad) }()
	go func() { _ = h.DrainToTransport(ctx, good) }()

	h.Broadcast("room:1", msg(t, MessageTypeRoomUpdate, PriorityNormal, nil))

	require.Eventually(t, func() bool { return goodT.count() == 1 }, waitFor, 5*time.Millisecond)
	require.Eventually(t, badT.isClosed, waitFor, 5*time.Millisecond)

	assert.Equal(t, 1, h.Broadcast("room:1", msg(t, MessageTypeRoomUpdate, PriorityNormal, nil)))
	require.Eventually(t, func() bool { return goodT.count() == 2 }, waitFor, 5*time.Millisecond)
}

func TestDisconnectStopsDrainLoop(t *testing.T) {
	h := newTestHub(t)
	id, _ := register(t, h, ConnectionMetadata{})

	done := make(chan error, 1)
	go func() { done <- h.DrainToTransport(context.Background(), id) }()

	h.Disconnect(id, ReasonKicked)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("drain loop did not stop")
	}
}

func TestDrainFlushesThenCloses(t *testing.T) {
	h := newTestHub(t)
	id, ft := register(t, h, ConnectionMetadata{})
	ft.block = make(chan struct{})

	go func() { _ = h.DrainToTransport(context.Background(), id) }()
	for i := 0; i < 3; i++ {
		_, err := h.Enqueue(id, msg(t, MessageTypeUpdate, PriorityNormal, nil))
		require.NoError(t, err)
	}

	c, _ := h.Connection(id)
	drained := make(chan error, 1)
	go func() { drained <- h.Drain(context.Background(), id) }()
	require.Eventually(t, func() bool { return c.State() == StateDraining }, waitFor, time.Millisecond)

	_, err := h.Enqueue(id, msg(t, MessageTypeUpdate, PriorityNormal, nil))
	assert.True(t, errors.Is(err, ErrConnectionClosed))

	close(ft.block)
	select {
	case err := <-drained:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("drain did not finish")
	}

	assert.Equal(t, 3, ft.count())
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, int32(CloseGoingAway), ft.closeCode.Load())
	assert.Equal(t, uint64(0), h.Stats().Discarded)
}

func TestDrainIdleConnection(t *testing.T) {
	h := newTestHub(t)
	id, ft := register(t, h, ConnectionMetadata{})

	require.NoError(t, h.Drain(context.Background(), id))
	assert.True(t, ft.isClosed())
	assert.True(t, errors.Is(h.Drain(context.Background(), id), ErrConnectionNotFound))
}

func TestShutdownForcesCloseAfterDeadline(t *testing.T) {
	h, err := NewHub(WithHeartbeat(0, 0))
	require.NoError(t, err)

	id, ft := register(t, h, ConnectionMetadata{})
	ft.block = make(chan struct{})
	go func() { _ = h.DrainToTransport(context.Background(), id) }()
	_, err = h.Enqueue(id, msg(t, MessageTypeUpdate, PriorityNormal, nil))
	require.NoError(t, err)
	_, err = h.Enqueue(id, msg(t, MessageTypeUpdate, PriorityNormal, nil))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = h.Shutdown(ctx)

	assert.True(t, ft.isClosed())
	assert.Equal(t, 0, h.Stats().Connections)

	_, err = h.Register(newFakeTransport(), ConnectionMetadata{})
	assert.True(t, errors.Is(err, ErrHubClosed))
	assert.NoError(t, h.Shutdown(context.Background()))
}

func TestServeAfterShutdown(t *testing.T) {
	h, err := NewHub(WithHeartbeat(0, 0))
	require.NoError(t, err)
	require.NoError(t, h.Shutdown(context.Background()))

	ft := newFakeTransport()
	err = h.Serve(context.Background(), ft, ConnectionMetadata{})
	assert.True(t, errors.Is(err, ErrHubClosed))
	assert.True(t, ft.isClosed())
	assert.EqualValues(t, CloseGoingAway, ft.closeCode.Load())
}

func TestServeConcurrentWithShutdown(t *testing.T) {
	h, err := NewHub(WithHeartbeat(0, 0))
	require.NoError(t, err)

	const n = 50
	var (
		wg      sync.WaitGroup
		started = make(chan struct{})
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i == n/2 {
				close(started)
			}
			_ = h.Serve(context.Background(), newFakeTransport(), ConnectionMetadata{})
		}()
	}

	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, h.Shutdown(ctx))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after shutdown")
	}
	assert.Equal(t, 0, h.Stats().Connections)
}

func TestHeartbeatPings(t *testing.T) {
	h := newTestHub(t, WithHeartbeat(10*time.Millisecond, time.Second))
	id, ft := register(t, h, ConnectionMetadata{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.DrainToTransport(ctx, id) }()

	require.Eventually(t, func() bool { return ft.pings.Load() >= 2 }, waitFor, 5*time.Millisecond)
}

func TestServeHandlesClientFrames(t *testing.T) {
	h := newTestHub(t, WithMaxInvalidFrames(2), WithInboundRate(0, 0))
	ft := newFakeTransport()

	served := make(chan error, 1)
	go func() {
		served <- h.Serve(context.Background(), ft, ConnectionMetadata{ConnectionID: "c1", UserID: "u1"})
	}()
	require.Eventually(t, func() bool { _, ok := h.Connection("c1"); return ok }, waitFor, time.Millisecond)

	ft.send(`{"action":"subscribe","topic":"room:7"}`)
	require.Eventually(t, func() bool { return h.Subscribers("room:7") == 1 }, waitFor, time.Millisecond)

	ft.send(`{"action":"ping"}`)
	ft.send(`{"action":"unsubscribe","topic":"room:7"}`)
	require.Eventually(t, func() bool { return ft.count() == 3 }, waitFor, time.Millisecond)

	msgs := ft.messages(t)
	assert.Equal(t, MessageTypeSubscribed, msgs[0].Type)
	assert.JSONEq(t, `{"topic":"room:7"}`, string(msgs[0].Payload))
	assert.Equal(t, MessageTypeHeartbeat, msgs[1].Type)
	assert.Equal(t, MessageTypeUnsubscribed, msgs[2].Type)
	assert.Equal(t, PriorityHigh, msgs[2].Priority)
	assert.Equal(t, 0, h.Subscribers("room:7"))

	// 两条非法帧得到错误回复，第三条触发断开
	ft.send(`not json`)
	ft.send(`{"action":"dance"}`)
	require.Eventually(t, func() bool { return ft.count() == 5 }, waitFor, time.Millisecond)
	assert.Equal(t, MessageTypeError, ft.messages(t)[3].Type)

	ft.send(`{"action":"subscribe"}`)
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("serve did not return")
	}
	assert.Equal(t, int32(ClosePolicy), ft.closeCode.Load())
	assert.Equal(t, uint64(3), h.Stats().InvalidFrames)
}

func TestValidFrameResetsInvalidCount(t *testing.T) {
	h := newTestHub(t, WithMaxInvalidFrames(1), WithInboundRate(0, 0))
	ft := newFakeTransport()
	go func() { _ = h.Serve(context.Background(), ft, ConnectionMetadata{ConnectionID: "c1"}) }()
	require.Eventually(t, func() bool { _, ok := h.Connection("c1"); return ok }, waitFor, time.Millisecond)

	for i := 0; i < 3; i++ {
		ft.send(`bad`)
		ft.send(`{"action":"ping"}`)
	}
	require.Eventually(t, func() bool { return ft.count() == 6 }, waitFor, time.Millisecond)
	assert.False(t, ft.isClosed())
}

func TestInboundRateLimit(t *testing.T) {
	h := newTestHub(t, WithInboundRate(0.001, 1), WithMaxInvalidFrames(0))
	ft := newFakeTransport()
	go func() { _ = h.Serve(context.Background(), ft, ConnectionMetadata{ConnectionID: "c1"}) }()
	require.Eventually(t, func() bool { _, ok := h.Connection("c1"); return ok }, waitFor, time.Millisecond)

	ft.send(`{"action":"ping"}`)
	ft.send(`{"action":"ping"}`)
	require.Eventually(t, func() bool { return ft.count() == 2 }, waitFor, time.Millisecond)

	msgs := ft.messages(t)
	assert.Equal(t, MessageTypeHeartbeat, msgs[0].Type)
	assert.Equal(t, MessageTypeError, msgs[1].Type)
	assert.Contains(t, string(msgs[1].Payload), "rate limited")
}

func TestEventsPublished(t *testing.T) {
	h := newTestHub(t)

	closed := make(chan Event, 1)
	h.On(EventDisconnected, func(e Event) { closed <- e })

	id, _ := register(t, h, ConnectionMetadata{UserID: "u9"})
	h.Disconnect(id, ReasonKicked)

	select {
	case e := <-closed:
		assert.Equal(t, id, e.ConnectionID)
		assert.Equal(t, "u9", e.UserID)
		assert.Equal(t, ReasonKicked, e.Reason)
	case <-time.After(waitFor):
		t.Fatal("no disconnect event")
	}
}

func TestConcurrentBroadcastAndRegister(t *testing.T) {
	h := newTestHub(t, WithQueueCapacity(8))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id, err := h.Register(newFakeTransport(), ConnectionMetadata{SubscribedTopics: []string{"dashboard"}})
				if err != nil {
					continue
				}
				if j%2 == 0 {
					h.Disconnect(id, ReasonKicked)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Broadcast("dashboard", MustMessage(MessageTypeUpdate, nil, Priority(j%numPriorities)))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, h.Stats().Connections)
	assert.Equal(t, 200, h.Subscribers("dashboard"))
	for _, meta := range h.Connections() {
		queued, err := h.Queued(meta.ConnectionID)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(queued), 8)
	}
}

func TestHandleUpgradeEndToEnd(t *testing.T) {
	h := newTestHub(t, WithHeartbeat(time.Second, 5*time.Second))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.HandleUpgrade(w, r, ConnectionMetadata{
			UserID:           r.URL.Query().Get("user_id"),
			SubscribedTopics: []string{"dashboard"},
		})
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user_id=u1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"subscribe","topic":"room:42"}`)))

	var ack Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, MessageTypeSubscribed, ack.Type)

	n := h.Broadcast("room:42", msg(t, MessageTypeRoomUpdate, PriorityNormal, map[string]string{"status": "open"}))
	assert.Equal(t, 1, n)

	var got Message
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, MessageTypeRoomUpdate, got.Type)
	assert.JSONEq(t, `{"status":"open"}`, string(got.Payload))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return h.Stats().Connections == 0 }, waitFor, 5*time.Millisecond)
}

func TestHandleUpgradeRejectsWhenFull(t *testing.T) {
	h := newTestHub(t, WithMaxConnections(1))
	register(t, h, ConnectionMetadata{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	err := h.HandleUpgrade(rec, req, ConnectionMetadata{})
	assert.True(t, errors.Is(err, ErrTooManyConnections))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
