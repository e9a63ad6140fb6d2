package lockmgr

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
)

// backoff is the retry state of one acquisition.
type backoff struct {
	delay    time.Duration
	min, max time.Duration
	randN    func(n int64) int64 // uniform in [0, n)
}

func newBackoff(cfg Config) *backoff {
	return &backoff{
		delay: cfg.BaseDelay,
		min:   cfg.DelayOffsetMin,
		max:   cfg.DelayOffsetMax,
		randN: rand.Int63n,
	}
}

// next grows the delay and returns the wait before the next attempt.
func (b *backoff) next() time.Duration {
	b.delay = b.delay*2 + b.jitter()
	return b.delay
}

func (b *backoff) jitter() time.Duration {
	if b.max <= b.min {
		return b.min
	}
	return b.min + time.Duration(b.randN(int64(b.max-b.min)+1))
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for retry")
	}
}
