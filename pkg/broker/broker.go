// Package broker 多实例事件通道
//
// 每个实例把 StreamEvent 发布到共享通道，并在收到事件时在本地广播，
// 使一组实例上的连接都能收到同一事件。事件以 JSON 信封 {id, origin, event} 传输，
// 同一事件在每个实例上只会交付一次。
package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/tokmz/stsrt/pkg/logger"
	"github.com/tokmz/stsrt/pkg/ws"
)

// Handler 事件回调
type Handler func(ws.StreamEvent)

// Broker 事件通道
type Broker interface {
	// Publish 发布事件
	Publish(ctx context.Context, event ws.StreamEvent) error
	// Subscribe 开始接收事件，立即返回；ctx 取消或 Close 后停止
	Subscribe(ctx context.Context, handler Handler) error
	// Close 关闭通道
	Close() error
}

// Envelope 传输信封
type Envelope struct {
	ID     string         `json:"id"`
	Origin string         `json:"origin"`
	Event  ws.StreamEvent `json:"event"`
}

// seenTTL 去重窗口
const seenTTL = 5 * time.Minute

func newEnvelope(origin string, event ws.StreamEvent) ([]byte, string, error) {
	env := Envelope{ID: uuid.NewString(), Origin: origin, Event: event}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, "", ErrEncode.WithError(err)
	}
	return data, env.ID, nil
}

// dispatcher 解码信封、去重后交给 handler
type dispatcher struct {
	handler Handler
	seen    *gocache.Cache
	log     logger.Logger
}

func newDispatcher(handler Handler, log logger.Logger) *dispatcher {
	return &dispatcher{
		handler: handler,
		seen:    gocache.New(seenTTL, seenTTL),
		log:     log,
	}
}

// dispatch 返回 false 表示信封无法解码或重复
func (d *dispatcher) dispatch(data []byte) bool {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		d.log.Warn("broker drop undecodable envelope", zap.Error(err))
		return false
	}
	if env.ID == "" {
		d.log.Warn("broker drop envelope without id", zap.String("origin", env.Origin))
		return false
	}
	if err := d.seen.Add(env.ID, struct{}{}, gocache.DefaultExpiration); err != nil {
		d.log.Debug("broker skip duplicate envelope", zap.String("id", env.ID))
		return false
	}
	d.handler(env.Event)
	return true
}
