package ws

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tokmz/stsrt/pkg/errors"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr bool
	}{
		{"defaults", nil, false},
		{"zero queue", []Option{WithQueueCapacity(0)}, true},
		{"negative max connections", []Option{WithMaxConnections(-1)}, true},
		{"timeout below interval", []Option{WithHeartbeat(time.Minute, time.Second)}, true},
		{"heartbeat disabled", []Option{WithHeartbeat(0, 0)}, false},
		{"zero write timeout", []Option{WithWriteTimeout(0)}, true},
		{"negative rate", []Option{WithInboundRate(-1, 1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			for _, opt := range tt.opts {
				opt(cfg)
			}
			err := cfg.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCheckOrigin(t *testing.T) {
	r := httptest.NewRequest("GET", "http://example.com/ws", nil)
	assert.True(t, defaultCheckOrigin(r), "non-browser clients pass")

	r.Header.Set("Origin", "http://example.com")
	assert.True(t, defaultCheckOrigin(r))

	r.Header.Set("Origin", "http://evil.com")
	assert.False(t, defaultCheckOrigin(r))

	check := createWhitelistChecker([]string{"https://app.example.com"})
	r.Header.Set("Origin", "https://app.example.com")
	assert.True(t, check(r))
	r.Header.Set("Origin", "http://example.com")
	assert.False(t, check(r))
	r.Header.Del("Origin")
	assert.False(t, check(r))

	all := createWhitelistChecker([]string{"*"})
	r.Header.Set("Origin", "http://anything.test")
	assert.True(t, all(r))
}
