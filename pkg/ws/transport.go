package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport 连接的底层传输
// WriteMessage 只会被投递循环调用；Close 可与读写并发调用
type Transport interface {
	WriteMessage(ctx context.Context, data []byte) error
	ReadMessage(ctx context.Context) ([]byte, error)
	Ping(ctx context.Context) error
	Close(code int, reason string) error
	RemoteAddr() string
}

// 关闭码
const (
	CloseNormal       = websocket.CloseNormalClosure
	CloseGoingAway    = websocket.CloseGoingAway
	ClosePolicy       = websocket.ClosePolicyViolation
	CloseInternalErr  = websocket.CloseInternalServerErr
	closeWriteTimeout = time.Second
)

// closeCode 关闭原因对应的关闭码
func closeCode(reason CloseReason) int {
	switch reason {
	case ReasonInvalidFrames:
		return ClosePolicy
	case ReasonShutdown, ReasonDrained:
		return CloseGoingAway
	case ReasonWriteFailed:
		return CloseInternalErr
	}
	return CloseNormal
}

// GorillaTransport 基于 gorilla/websocket 的传输
type GorillaTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	readTimeout  time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
}

// NewGorillaTransport 包装已升级的连接
// readTimeout 为读超时，收到 pong 时顺延；maxMessageSize 为上行帧大小上限
func NewGorillaTransport(conn *websocket.Conn, writeTimeout, readTimeout time.Duration, maxMessageSize int64) *GorillaTransport {
	t := &GorillaTransport{
		conn:         conn,
		writeTimeout: writeTimeout,
		readTimeout:  readTimeout,
	}
	if maxMessageSize > 0 {
		conn.SetReadLimit(maxMessageSize)
	}
	if readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
	} else {
		// 清除 http.Server 在升级前设置的读超时
		_ = conn.SetReadDeadline(time.Time{})
	}
	return t
}

func (t *GorillaTransport) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(t.writeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(d) {
		return dl
	}
	return d
}

// WriteMessage 写文本帧
func (t *GorillaTransport) WriteMessage(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(t.deadline(ctx)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// ReadMessage 读取下一个文本帧，忽略二进制帧
func (t *GorillaTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		typ, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if t.readTimeout > 0 {
			_ = t.conn.SetReadDeadline(time.Now().Add(t.readTimeout))
		}
		if typ == websocket.TextMessage {
			return data, nil
		}
	}
}

// Ping 发送心跳
func (t *GorillaTransport) Ping(ctx context.Context) error {
	return t.conn.WriteControl(websocket.PingMessage, nil, t.deadline(ctx))
}

// Close 发送关闭帧并关闭底层连接，可重复调用
func (t *GorillaTransport) Close(code int, reason string) error {
	var err error
	t.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		err = t.conn.Close()
	})
	return err
}

// RemoteAddr 对端地址
func (t *GorillaTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

// IsClientClose 是否为对端正常关闭
func IsClientClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}

// Upgrader WebSocket 升级器
type Upgrader struct {
	upgrader websocket.Upgrader
}

// NewUpgrader 创建升级器
func NewUpgrader(config UpgraderConfig) *Upgrader {
	// 如果没有设置 CheckOrigin，优先白名单，否则同源检查
	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		if len(config.AllowedOrigins) > 0 {
			checkOrigin = createWhitelistChecker(config.AllowedOrigins)
		} else {
			checkOrigin = defaultCheckOrigin
		}
	}

	return &Upgrader{
		upgrader: websocket.Upgrader{
			ReadBufferSize:    config.ReadBufferSize,
			WriteBufferSize:   config.WriteBufferSize,
			HandshakeTimeout:  config.HandshakeTimeout,
			CheckOrigin:       checkOrigin,
			EnableCompression: config.EnableCompression,
		},
	}
}

// Upgrade 升级 HTTP 连接为 WebSocket
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return u.upgrader.Upgrade(w, r, nil)
}
