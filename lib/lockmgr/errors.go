package lockmgr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Mode is the kind of lock an operation works on.
type Mode string

const (
	ModeRead  Mode = "read"
	ModeWrite Mode = "write"
)

// ErrLockTimeout is matched by every *LockTimeoutError.
var ErrLockTimeout = errors.New("lock timeout")

// LockTimeoutError is returned when the lock stayed taken for all attempts.
// This is expected under contention.
type LockTimeoutError struct {
	Mode     Mode
	ID       string
	Attempts int
}

func (e *LockTimeoutError) Error() string {
	if e.Attempts == 0 {
		return fmt.Sprintf("cannot get %s lock on %q", e.Mode, e.ID)
	}
	return fmt.Sprintf("cannot get %s lock on %q after %d attempts", e.Mode, e.ID, e.Attempts)
}

func (e *LockTimeoutError) Is(target error) bool {
	return target == ErrLockTimeout
}

// StoreCommandError wraps a failure of the backing store (or of borrowing a
// store from the pool).
type StoreCommandError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreCommandError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreCommandError) Unwrap() error {
	return e.Err
}

// CleanupError is a failed removal of a key this manager created during a
// failed acquisition. It is only logged, the ttl removes the key eventually.
type CleanupError struct {
	Key string
	Err error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup of %q failed: %v", e.Key, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}
