package logger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// captureHook 收集写入的日志条目
type captureHook struct {
	mu      sync.Mutex
	entries []zapcore.Entry
	fields  [][]zapcore.Field
}

func (h *captureHook) OnWrite(entry zapcore.Entry, fields []zapcore.Field) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	h.fields = append(h.fields, append([]zapcore.Field(nil), fields...))
	return nil
}

func (h *captureHook) fieldMap(i int) map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := make(map[string]string)
	for _, f := range h.fields[i] {
		m[f.Key] = f.String
	}
	return m
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "nil config", config: nil},
		{name: "console output", config: &Config{Level: InfoLevel, Format: JSONFormat, Console: true}},
		{name: "file output", config: &Config{File: filepath.Join(dir, "app.log")}},
		{name: "rotate output", config: &Config{Rotate: &RotateConfig{Filename: filepath.Join(dir, "rotate.log")}}},
		{name: "invalid format", config: &Config{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			l.Info("hello")
			_ = l.Sync()
		})
	}
}

func TestSetLevel(t *testing.T) {
	hook := &captureHook{}
	l, err := NewWithOptions(WithLevel(InfoLevel), WithHook(hook))
	require.NoError(t, err)

	l.Debug("dropped")
	assert.Len(t, hook.entries, 0)

	l.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, l.Level())
	l.Debug("kept")
	require.Len(t, hook.entries, 1)
	assert.Equal(t, "kept", hook.entries[0].Message)

	child := l.With(zap.String("component", "hub"))
	l.SetLevel(WarnLevel)
	child.Info("dropped too")
	assert.Len(t, hook.entries, 1)
}

func TestContextFields(t *testing.T) {
	hook := &captureHook{}
	l, err := NewWithOptions(WithLevel(DebugLevel), WithHook(hook))
	require.NoError(t, err)

	ctx := ContextWithTraceID(context.Background(), "trace-1")
	ctx = ContextWithUserID(ctx, "u-42")
	l.InfoContext(ctx, "with context", zap.String("k", "v"))

	require.Len(t, hook.entries, 1)
	fields := hook.fieldMap(0)
	assert.Equal(t, "trace-1", fields["trace_id"])
	assert.Equal(t, "u-42", fields["user_id"])
	assert.Equal(t, "v", fields["k"])
}

func TestParseLevel(t *testing.T) {
	lv, ok := ParseLevel("WARN")
	assert.True(t, ok)
	assert.Equal(t, WarnLevel, lv)

	lv, ok = ParseLevel("verbose")
	assert.False(t, ok)
	assert.Equal(t, InfoLevel, lv)
}

func TestOptionsFromSettings(t *testing.T) {
	hook := &captureHook{}
	l, err := NewWithOptions(
		WithLevelName("warn"),
		WithRotateOutput(&RotateConfig{}),
		WithHook(hook),
	)
	require.NoError(t, err)
	assert.Equal(t, WarnLevel, l.Level())

	l.Info("dropped")
	l.Warn("kept")
	require.Len(t, hook.entries, 1)
	assert.Equal(t, "kept", hook.entries[0].Message)

	l, err = NewWithOptions(WithLevelName("verbose"), WithHook(hook))
	require.NoError(t, err)
	assert.Equal(t, InfoLevel, l.Level())

	path := filepath.Join(t.TempDir(), "stsrt.log")
	l, err = NewWithOptions(WithRotateOutput(&RotateConfig{Filename: path}))
	require.NoError(t, err)
	l.Info("to file")
	require.NoError(t, l.Sync())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestNop(t *testing.T) {
	l := Nop()
	assert.NotPanics(t, func() {
		l.Error("nothing")
		l.Named("nop").InfoContext(context.Background(), "still nothing")
	})
}
