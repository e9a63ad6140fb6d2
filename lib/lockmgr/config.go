package lockmgr

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Defaults used for zero Config fields.
const (
	DefaultReadLockTTL    = 240 * time.Second
	DefaultWriteLockTTL   = 30 * time.Second
	DefaultBaseDelay      = 100 * time.Millisecond
	DefaultDelayOffsetMin = 10 * time.Millisecond
	DefaultDelayOffsetMax = 100 * time.Millisecond
	DefaultMaxRetries     = 3
)

// Config configures a lock manager. The zero value uses the defaults.
type Config struct {
	ReadLockTTL  time.Duration // ttl of a read lock (default 240s)
	WriteLockTTL time.Duration // ttl of a write lock (default 30s)

	// BaseDelay is the initial backoff delay (default 100ms). Before every
	// retry the delay becomes delay*2 plus a random offset in
	// [DelayOffsetMin, DelayOffsetMax] (default 10ms to 100ms).
	BaseDelay      time.Duration
	DelayOffsetMin time.Duration
	DelayOffsetMax time.Duration

	// MaxRetries is the total number of attempts per acquisition (default 3).
	MaxRetries int

	// TokenSource mints lock tokens (default uuid.NewString). Tokens must
	// not contain ':'.
	TokenSource func() string
}

// WithDefaults returns a copy of c with every zero field set to its default.
func (c Config) WithDefaults() Config {
	if c.ReadLockTTL == 0 {
		c.ReadLockTTL = DefaultReadLockTTL
	}
	if c.WriteLockTTL == 0 {
		c.WriteLockTTL = DefaultWriteLockTTL
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.DelayOffsetMin == 0 {
		c.DelayOffsetMin = DefaultDelayOffsetMin
	}
	if c.DelayOffsetMax == 0 {
		c.DelayOffsetMax = DefaultDelayOffsetMax
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.TokenSource == nil {
		c.TokenSource = uuid.NewString
	}
	return c
}

// Validate reports an invalid configuration. It expects defaults to be applied.
func (c Config) Validate() error {
	switch {
	case c.ReadLockTTL < 0 || c.WriteLockTTL < 0:
		return fmt.Errorf("lock ttl must not be negative")
	case c.BaseDelay < 0 || c.DelayOffsetMin < 0 || c.DelayOffsetMax < 0:
		return fmt.Errorf("backoff delays must not be negative")
	case c.DelayOffsetMax < c.DelayOffsetMin:
		return fmt.Errorf("DelayOffsetMax (%s) is smaller than DelayOffsetMin (%s)", c.DelayOffsetMax, c.DelayOffsetMin)
	case c.MaxRetries < 0:
		return fmt.Errorf("MaxRetries must not be negative")
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("ReadLockTTL=%s WriteLockTTL=%s BaseDelay=%s DelayOffset=[%s,%s] MaxRetries=%d",
		c.ReadLockTTL, c.WriteLockTTL, c.BaseDelay, c.DelayOffsetMin, c.DelayOffsetMax, c.MaxRetries)
}
