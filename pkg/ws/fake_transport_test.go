package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTransport 内存传输，用于测试
type fakeTransport struct {
	mu       sync.Mutex
	written  [][]byte
	writeErr error

	// 非 nil 时写操作阻塞到通道关闭
	block chan struct{}

	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	closeCode atomic.Int32
	pings     atomic.Int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

var errFakeClosed = errors.New("fake transport closed")

func (f *fakeTransport) WriteMessage(ctx context.Context, data []byte) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		case <-f.closed:
			return errFakeClosed
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.inbound:
		return data, nil
	case <-f.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Ping(context.Context) error {
	f.pings.Add(1)
	return nil
}

func (f *fakeTransport) Close(code int, _ string) error {
	f.closeOnce.Do(func() {
		f.closeCode.Store(int32(code))
		close(f.closed)
	})
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return "fake" }

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) send(frame string) {
	f.inbound <- []byte(frame)
}

// messages 已写出的消息
func (f *fakeTransport) messages(t *testing.T) []Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Message, 0, len(f.written))
	for _, data := range f.written {
		var m Message
		require.NoError(t, json.Unmarshal(data, &m))
		out = append(out, m)
	}
	return out
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func newTestHub(t *testing.T, opts ...Option) *Hub {
	t.Helper()
	opts = append([]Option{WithHeartbeat(0, 0)}, opts...)
	h, err := NewHub(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
	})
	return h
}

func register(t *testing.T, h *Hub, meta ConnectionMetadata) (string, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	id, err := h.Register(ft, meta)
	require.NoError(t, err)
	return id, ft
}

func msg(t *testing.T, typ MessageType, p Priority, payload any) Message {
	t.Helper()
	m, err := NewMessage(typ, payload, p)
	require.NoError(t, err)
	return m
}
