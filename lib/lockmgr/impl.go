package lockmgr

import (
	"context"
	"time"

	"github.com/ValentinKolb/dLock/lib/pool"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var log = logger.GetLogger("lockmgr")

type lockManager struct {
	pool       pool.IPool
	cfg        Config
	newBackoff func() *backoff
}

// NewLockManager creates a lock manager that keeps all lock state in the
// stores borrowed from p. Zero fields of cfg use the defaults.
//
// The manager has no state of its own: any number of managers (in any number
// of processes) on the same store see the same locks.
func NewLockManager(p pool.IPool, cfg Config) (ILockManager, error) {
	if p == nil {
		return nil, errors.New("lock manager needs a pool")
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid lock manager config")
	}
	m := &lockManager{
		pool: p,
		cfg:  cfg,
	}
	m.newBackoff = func() *backoff { return newBackoff(m.cfg) }
	return m, nil
}

// --------------------------------------------------------------------------
// Acquisition
// --------------------------------------------------------------------------

func (m *lockManager) ReadLock(ctx context.Context, id any) (string, error) {
	idStr := NormalizeID(id)
	token := m.cfg.TokenSource()
	rk, wk := readKey(idStr, token), writeKey(idStr)

	log.Debugf("try to lock for read %s (%s)", idStr, token)

	err := m.acquire(ctx, ModeRead, idStr, func(s store.IStore) (bool, error) {
		res, err := s.Exec(store.NewBatch().
			SetEIfUnset(rk, readSentinel, m.cfg.ReadLockTTL).
			Get(wk))
		if err == nil && len(res) != 2 {
			err = errors.Errorf("expected 2 results, got %d", len(res))
		}
		if err == nil && res[0].Ok && !res[1].Ok {
			return true, nil
		}

		// a writer holds the id or the batch failed: the read key must not outlive this attempt
		m.cleanup(ModeRead, rk, func() error {
			_, err := s.Delete(rk)
			return err
		})
		if err != nil {
			return false, &StoreCommandError{Op: "exec", Key: rk, Err: err}
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}

	log.Debugf("locked for read %s (%s)", idStr, token)
	return token, nil
}

func (m *lockManager) WriteLock(ctx context.Context, id any) (string, error) {
	idStr := NormalizeID(id)
	token := m.cfg.TokenSource()
	wk, prefix := writeKey(idStr), readPrefix(idStr)

	log.Debugf("try to lock for write %s (%s)", idStr, token)

	err := m.acquire(ctx, ModeWrite, idStr, func(s store.IStore) (bool, error) {
		res, err := s.Exec(store.NewBatch().
			SetEIfUnset(wk, []byte(token), m.cfg.WriteLockTTL).
			Keys(prefix))
		if err == nil && len(res) != 2 {
			err = errors.Errorf("expected 2 results, got %d", len(res))
		}
		if err == nil && res[0].Ok && countReaders(prefix, res[1].Keys) == 0 {
			return true, nil
		}

		// only ever remove the write key if it is ours
		m.cleanup(ModeWrite, wk, func() error {
			_, err := s.DeleteIfEqual(wk, []byte(token))
			return err
		})
		if err != nil {
			return false, &StoreCommandError{Op: "exec", Key: wk, Err: err}
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}

	log.Debugf("locked for write %s (%s)", idStr, token)
	return token, nil
}

// acquire runs attempt until it grants the lock, fails, or MaxRetries
// attempts were made. There is no wait before the first attempt.
func (m *lockManager) acquire(ctx context.Context, mode Mode, idStr string, attempt func(s store.IStore) (bool, error)) error {
	start := time.Now()
	bo := m.newBackoff()

	for n := 1; ; n++ {
		observeAttempt(mode)

		granted, err := m.withStore(ctx, attempt)
		if err != nil {
			observeStoreError(mode)
			return err
		}
		if granted {
			observeGrant(mode, start)
			return nil
		}

		if n >= m.cfg.MaxRetries {
			observeTimeout(mode)
			log.Debugf("giving up on %s lock %s after %d attempts", mode, idStr, n)
			return &LockTimeoutError{Mode: mode, ID: idStr, Attempts: n}
		}

		wait := bo.next()
		log.Debugf("%s lock %s is taken, retry %d in %s", mode, idStr, n, wait)
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// cleanup runs del and logs a failure as *CleanupError.
func (m *lockManager) cleanup(mode Mode, key string, del func() error) {
	if err := del(); err != nil {
		observeCleanupFailure(mode)
		log.Warningf("%v", &CleanupError{Key: key, Err: err})
	}
}

// --------------------------------------------------------------------------
// Release
// --------------------------------------------------------------------------

func (m *lockManager) ReadRelease(ctx context.Context, id any, token string) (string, error) {
	rk := readKey(NormalizeID(id), token)

	deleted, err := m.withStore(ctx, func(s store.IStore) (bool, error) {
		deleted, err := s.Delete(rk)
		if err != nil {
			return false, &StoreCommandError{Op: "delete", Key: rk, Err: err}
		}
		return deleted, nil
	})
	if err != nil {
		return "", err
	}

	observeRelease(ModeRead, deleted)
	if !deleted {
		log.Debugf("read lock %s already gone", rk)
		return "", nil
	}
	return token, nil
}

func (m *lockManager) WriteRelease(ctx context.Context, id any, token string) (string, error) {
	wk := writeKey(NormalizeID(id))

	deleted, err := m.withStore(ctx, func(s store.IStore) (bool, error) {
		deleted, err := s.DeleteIfEqual(wk, []byte(token))
		if err != nil {
			return false, &StoreCommandError{Op: "delete-if-equal", Key: wk, Err: err}
		}
		return deleted, nil
	})
	if err != nil {
		return "", err
	}

	observeRelease(ModeWrite, deleted)
	if !deleted {
		log.Debugf("write lock %s already gone or not owned by %s", wk, token)
		return "", nil
	}
	return token, nil
}

// withStore borrows a store for the duration of fn. The store is returned to
// the pool on every path.
func (m *lockManager) withStore(ctx context.Context, fn func(s store.IStore) (bool, error)) (bool, error) {
	s, err := m.pool.Acquire(ctx)
	if err != nil {
		return false, &StoreCommandError{Op: "acquire", Err: err}
	}
	defer m.pool.Release(s)
	return fn(s)
}
