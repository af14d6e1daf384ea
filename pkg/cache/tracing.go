package cache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const cacheTracerName = "stsrt.cache"

// tracedStore 链路追踪存储装饰器
type tracedStore struct {
	Store
	tracer trace.Tracer
}

// NewTracing 创建带链路追踪的存储
func NewTracing(s Store) Store {
	return &tracedStore{
		Store:  s,
		tracer: otel.Tracer(cacheTracerName),
	}
}

// wrapOperation 包装操作，自动处理 Span
func (t *tracedStore) wrapOperation(
	ctx context.Context,
	operation string,
	attrs []attribute.KeyValue,
	fn func(ctx context.Context, span trace.Span) error,
) error {
	ctx, span := t.tracer.Start(ctx, operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx, span)
	span.SetAttributes(attribute.Int64("cache.duration_ms", time.Since(start).Milliseconds()))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (t *tracedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value []byte
		ok    bool
	)
	err := t.wrapOperation(ctx, "cache.get", []attribute.KeyValue{attribute.String("cache.key", key)},
		func(ctx context.Context, span trace.Span) error {
			var err error
			value, ok, err = t.Store.Get(ctx, key)
			span.SetAttributes(attribute.Bool("cache.hit", ok))
			return err
		})
	return value, ok, err
}

func (t *tracedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return t.wrapOperation(ctx, "cache.set", []attribute.KeyValue{
		attribute.String("cache.key", key),
		attribute.Float64("cache.ttl_seconds", ttl.Seconds()),
		attribute.Int("cache.value_size", len(value)),
	}, func(ctx context.Context, _ trace.Span) error {
		return t.Store.Set(ctx, key, value, ttl)
	})
}

func (t *tracedStore) Delete(ctx context.Context, keys ...string) error {
	return t.wrapOperation(ctx, "cache.delete", []attribute.KeyValue{attribute.Int("cache.keys_count", len(keys))},
		func(ctx context.Context, _ trace.Span) error {
			return t.Store.Delete(ctx, keys...)
		})
}

func (t *tracedStore) Clear(ctx context.Context) error {
	return t.wrapOperation(ctx, "cache.clear", nil, func(ctx context.Context, _ trace.Span) error {
		return t.Store.Clear(ctx)
	})
}

func (t *tracedStore) Len(ctx context.Context) (int, error) {
	var n int
	err := t.wrapOperation(ctx, "cache.len", nil, func(ctx context.Context, span trace.Span) error {
		var err error
		n, err = t.Store.Len(ctx)
		span.SetAttributes(attribute.Int("cache.entries", n))
		return err
	})
	return n, err
}

func (t *tracedStore) Ping(ctx context.Context) error {
	return t.wrapOperation(ctx, "cache.ping", nil, func(ctx context.Context, _ trace.Span) error {
		return t.Store.Ping(ctx)
	})
}
