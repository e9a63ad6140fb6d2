package lockmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()

	assert.Equal(t, 240*time.Second, cfg.ReadLockTTL)
	assert.Equal(t, 30*time.Second, cfg.WriteLockTTL)
	assert.Equal(t, 100*time.Millisecond, cfg.BaseDelay)
	assert.Equal(t, 10*time.Millisecond, cfg.DelayOffsetMin)
	assert.Equal(t, 100*time.Millisecond, cfg.DelayOffsetMax)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.NotNil(t, cfg.TokenSource)
	assert.NotEqual(t, cfg.TokenSource(), cfg.TokenSource())

	custom := Config{WriteLockTTL: time.Second, MaxRetries: 7}.WithDefaults()
	assert.Equal(t, time.Second, custom.WriteLockTTL)
	assert.Equal(t, 7, custom.MaxRetries)
	assert.Equal(t, 240*time.Second, custom.ReadLockTTL)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"equal offsets", Config{DelayOffsetMin: time.Millisecond, DelayOffsetMax: time.Millisecond}, false},
		{"max below min", Config{DelayOffsetMin: time.Second, DelayOffsetMax: time.Millisecond}, true},
		{"negative ttl", Config{ReadLockTTL: -time.Second}, true},
		{"negative delay", Config{BaseDelay: -time.Second}, true},
		{"negative retries", Config{MaxRetries: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.WithDefaults().Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
