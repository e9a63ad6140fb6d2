package rstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/redis/go-redis/v9"
)

var log = logger.GetLogger("store")

// releaseSrc deletes KEYS[1] only if it still holds ARGV[1].
const releaseSrc = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseScript = redis.NewScript(releaseSrc)

// features lists what a redis server offers through this store.
var features = []db.Feature{
	db.FeatureSet, db.FeatureSetE, db.FeatureSetEIfUnset, db.FeatureGet,
	db.FeatureDelete, db.FeatureDeleteIfEqual, db.FeatureHas, db.FeatureKeys,
}

type storeImpl struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRedisStore creates a store.IStore backed by a redis server (or cluster).
// Every call runs with its own timeout since the interface carries no context.
func NewRedisStore(client redis.UniversalClient, timeout time.Duration) store.IStore {
	return &storeImpl{
		client:  client,
		timeout: timeout,
	}
}

func (s *storeImpl) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// wrap converts client errors into *store.Error.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return store.NewError(store.RetCInternalError, fmt.Sprintf("redis %s: %v", op, err))
}

// keysPattern returns the KEYS pattern matching every key that starts with prefix.
func keysPattern(prefix string) string {
	var b strings.Builder
	for _, r := range prefix {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('*')
	return b.String()
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return wrap("set", s.client.Set(ctx, key, value, 0).Err())
}

func (s *storeImpl) SetE(key string, value []byte, ttl time.Duration) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return wrap("set", s.client.Set(ctx, key, value, ttl).Err())
}

func (s *storeImpl) SetEIfUnset(key string, value []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	stored, err := s.client.SetNX(ctx, key, value, ttl).Result()
	return stored, wrap("setnx", err)
}

func (s *storeImpl) Delete(key string) (bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	n, err := s.client.Del(ctx, key).Result()
	return n > 0, wrap("del", err)
}

func (s *storeImpl) DeleteIfEqual(key string, value []byte) (bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	n, err := releaseScript.Run(ctx, s.client, []string{key}, value).Int()
	return n > 0, wrap("eval", err)
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrap("get", err)
	}
	return value, true, nil
}

func (s *storeImpl) Has(key string) (bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	n, err := s.client.Exists(ctx, key).Result()
	return n > 0, wrap("exists", err)
}

func (s *storeImpl) Keys(prefix string) ([]string, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	keys, err := s.client.Keys(ctx, keysPattern(prefix)).Result()
	if err != nil {
		return nil, wrap("keys", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Exec runs the batch inside MULTI/EXEC. Redis executes the queued commands
// back to back, so later ops observe the effects of earlier ones.
func (s *storeImpl) Exec(batch *store.Batch) ([]store.Result, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := s.ctx()
	defer cancel()

	cmds := make([]redis.Cmder, len(batch.Ops))
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, op := range batch.Ops {
			switch op.Type {
			case store.OpTSet:
				cmds[i] = pipe.Set(ctx, op.Key, op.Value, 0)
			case store.OpTSetE:
				cmds[i] = pipe.Set(ctx, op.Key, op.Value, op.TTL)
			case store.OpTSetEIfUnset:
				cmds[i] = pipe.SetNX(ctx, op.Key, op.Value, op.TTL)
			case store.OpTGet:
				cmds[i] = pipe.Get(ctx, op.Key)
			case store.OpTHas:
				cmds[i] = pipe.Exists(ctx, op.Key)
			case store.OpTDelete:
				cmds[i] = pipe.Del(ctx, op.Key)
			case store.OpTDeleteIfEqual:
				// EVALSHA cannot fall back to EVAL inside a transaction
				cmds[i] = pipe.Eval(ctx, releaseSrc, []string{op.Key}, op.Value)
			case store.OpTKeys:
				cmds[i] = pipe.Keys(ctx, keysPattern(op.Key))
			}
		}
		return nil
	})
	// a missing key in a GET fails the pipeline with redis.Nil, that is a result not an error
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, wrap("exec", err)
	}

	results := make([]store.Result, len(batch.Ops))
	for i, cmd := range cmds {
		res, err := toResult(cmd)
		if err != nil {
			log.Warningf("batch op %d (%s) failed: %v", i, batch.Ops[i].Type, err)
			return nil, wrap(batch.Ops[i].Type.String(), err)
		}
		results[i] = res
	}
	return results, nil
}

func toResult(cmd redis.Cmder) (store.Result, error) {
	switch c := cmd.(type) {
	case *redis.StatusCmd:
		return store.Result{Ok: c.Err() == nil}, c.Err()
	case *redis.BoolCmd:
		return store.Result{Ok: c.Val()}, c.Err()
	case *redis.StringCmd:
		value, err := c.Bytes()
		if errors.Is(err, redis.Nil) {
			return store.Result{}, nil
		}
		return store.Result{Ok: err == nil, Value: value}, err
	case *redis.IntCmd:
		return store.Result{Ok: c.Val() > 0}, c.Err()
	case *redis.Cmd:
		n, err := c.Int()
		return store.Result{Ok: n > 0}, err
	case *redis.StringSliceCmd:
		keys := c.Val()
		sort.Strings(keys)
		return store.Result{Ok: len(keys) > 0, Keys: keys}, c.Err()
	default:
		return store.Result{}, fmt.Errorf("unexpected command type %T", cmd)
	}
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	n, err := s.client.DBSize(ctx).Result()
	if err != nil {
		return db.DatabaseInfo{}, wrap("dbsize", err)
	}
	return db.DatabaseInfo{
		DbType:            db.ImplRedis,
		SupportedFeatures: features,
		Metadata: map[string]any{
			"keys": n,
		},
	}, nil
}

// Close closes the underlying client.
func (s *storeImpl) Close() error {
	return s.client.Close()
}
