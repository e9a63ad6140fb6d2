package pool

import (
	"context"
	"io"
	"sync"

	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/hashicorp/go-multierror"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

var log = logger.GetLogger("pool")

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("pool is closed")

// IPool hands out store connections. Every store returned by Acquire must be
// given back with Release exactly once.
type IPool interface {
	// Acquire borrows a store. It blocks while the pool is exhausted and
	// returns ctx.Err() (wrapped) if ctx ends first.
	Acquire(ctx context.Context) (store.IStore, error)
	// Release returns a store obtained from Acquire.
	Release(s store.IStore)
}

// Factory opens a new store connection.
type Factory func(ctx context.Context) (store.IStore, error)

// Options configure a Pool. Zero values use the defaults.
type Options struct {
	// MaxActive bounds the number of stores borrowed at the same time (default 16).
	MaxActive int
	// MaxIdle is the number of released stores kept for reuse (default MaxActive).
	MaxIdle int
}

func (o Options) withDefaults() Options {
	if o.MaxActive <= 0 {
		o.MaxActive = 16
	}
	if o.MaxIdle <= 0 || o.MaxIdle > o.MaxActive {
		o.MaxIdle = o.MaxActive
	}
	return o
}

// Stats is a point in time view of a pool.
type Stats struct {
	Active int // borrowed right now
	Idle   int // ready for reuse
}

// Pool is a bounded pool of store connections created on demand by a Factory.
type Pool struct {
	factory Factory
	opts    Options
	sem     *semaphore.Weighted

	mu       sync.Mutex
	idle     []store.IStore
	borrowed map[store.IStore]struct{}
	closed   bool
}

// New creates a pool. No connection is opened before the first Acquire.
func New(factory Factory, opts Options) *Pool {
	opts = opts.withDefaults()
	return &Pool{
		factory:  factory,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.MaxActive)),
		borrowed: make(map[store.IStore]struct{}),
	}
}

func (p *Pool) Acquire(ctx context.Context) (store.IStore, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(err, "acquire store")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ErrClosed
	}
	if n := len(p.idle); n > 0 {
		s := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.borrowed[s] = struct{}{}
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	// open outside the lock, the factory may dial
	s, err := p.factory(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, errors.Wrap(err, "open store")
	}

	p.mu.Lock()
	p.borrowed[s] = struct{}{}
	p.mu.Unlock()
	return s, nil
}

func (p *Pool) Release(s store.IStore) {
	if s == nil {
		return
	}

	p.mu.Lock()
	if _, ok := p.borrowed[s]; !ok {
		p.mu.Unlock()
		log.Warningf("release of a store that is not borrowed from this pool (%T)", s)
		return
	}
	delete(p.borrowed, s)

	var discard bool
	if p.closed || len(p.idle) >= p.opts.MaxIdle {
		discard = true
	} else {
		p.idle = append(p.idle, s)
	}
	p.mu.Unlock()
	p.sem.Release(1)

	if discard {
		if err := closeStore(s); err != nil {
			log.Warningf("failed to close discarded store: %v", err)
		}
	}
}

// Stats returns the current number of borrowed and idle stores.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Active: len(p.borrowed), Idle: len(p.idle)}
}

// Close closes all idle stores. Borrowed stores are closed when they are
// released. Acquire fails with ErrClosed afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	active := len(p.borrowed)
	p.mu.Unlock()

	if active > 0 {
		log.Infof("closing pool with %d borrowed stores", active)
	}

	var result *multierror.Error
	for _, s := range idle {
		if err := closeStore(s); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func closeStore(s store.IStore) error {
	if c, ok := s.(io.Closer); ok {
		return errors.Wrapf(c.Close(), "close %T", s)
	}
	return nil
}

// --------------------------------------------------------------------------
// Shared Pool
// --------------------------------------------------------------------------

type sharedPool struct {
	s store.IStore
}

// NewShared returns a pool that hands out the same store to every caller.
// Use it for stores that are safe for concurrent use and need no connection
// handling (lstore, dstore, a go-redis backed rstore).
func NewShared(s store.IStore) IPool {
	return &sharedPool{s: s}
}

func (p *sharedPool) Acquire(ctx context.Context) (store.IStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "acquire store")
	}
	return p.s, nil
}

func (p *sharedPool) Release(store.IStore) {}
