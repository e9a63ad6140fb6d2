package lockmgr

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffSchedule(t *testing.T) {
	cfg := Config{}.WithDefaults()

	tests := []struct {
		name  string
		randN func(n int64) int64
		want  []time.Duration
	}{
		{
			name:  "minimal jitter",
			randN: func(int64) int64 { return 0 },
			want:  []time.Duration{210 * time.Millisecond, 430 * time.Millisecond, 870 * time.Millisecond},
		},
		{
			name:  "maximal jitter",
			randN: func(n int64) int64 { return n - 1 },
			want:  []time.Duration{300 * time.Millisecond, 700 * time.Millisecond, 1500 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackoff(cfg)
			b.randN = tt.randN
			for i, want := range tt.want {
				if got := b.next(); got != want {
					t.Errorf("delay %d = %s, want %s", i, got, want)
				}
			}
		})
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	cfg := Config{DelayOffsetMin: 5 * time.Millisecond, DelayOffsetMax: 7 * time.Millisecond}.WithDefaults()
	b := newBackoff(cfg)

	for i := 0; i < 1000; i++ {
		j := b.jitter()
		if j < cfg.DelayOffsetMin || j > cfg.DelayOffsetMax {
			t.Fatalf("jitter %s outside [%s, %s]", j, cfg.DelayOffsetMin, cfg.DelayOffsetMax)
		}
	}
}

func TestBackoffWithoutJitterRange(t *testing.T) {
	cfg := Config{DelayOffsetMin: 20 * time.Millisecond, DelayOffsetMax: 20 * time.Millisecond}.WithDefaults()
	b := newBackoff(cfg)
	b.randN = func(int64) int64 {
		t.Fatal("rand must not be used for an empty range")
		return 0
	}

	if got := b.next(); got != 220*time.Millisecond {
		t.Errorf("next() = %s, want 220ms", got)
	}
}

func TestSleep(t *testing.T) {
	if err := sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("sleep() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := sleep(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("sleep() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleep did not return on cancel")
	}
}
