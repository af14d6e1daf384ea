package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Serializer 序列化接口
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONSerializer JSON 序列化器（默认）
type JSONSerializer struct{}

// Marshal 序列化
func (JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal 反序列化
func (JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// RememberValue 类型安全的 Remember，值以 JSON 存储
func RememberValue[T any](
	ctx context.Context,
	c *ResponseCache,
	key string,
	ttl time.Duration,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	var (
		s      JSONSerializer
		result T
	)
	data, err := c.Remember(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		b, err := s.Marshal(v)
		if err != nil {
			return nil, ErrCacheSerialization.WithError(err)
		}
		return b, nil
	})
	if err != nil {
		return result, err
	}
	if err := s.Unmarshal(data, &result); err != nil {
		return result, ErrCacheSerialization.WithError(err)
	}
	return result, nil
}
