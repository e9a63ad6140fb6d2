package server

import (
	"fmt"
	"io"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/engines/maple"
	"github.com/ValentinKolb/dLock/lib/lockmgr"
	"github.com/ValentinKolb/dLock/lib/pool"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/lib/store/dstore"
	"github.com/ValentinKolb/dLock/lib/store/lstore"
	"github.com/ValentinKolb/dLock/lib/store/rstore"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/transport"
	"github.com/hashicorp/go-multierror"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redis/go-redis/v9"
)

var Logger = logger.GetLogger("rpc")

// serverShard is a struct that represents a shard in the RPC server
// It contains the store the shard owns and the adapter that handles requests
type serverShard struct {
	Store   store.IStore
	Adapter IRPCServerAdapter
}

// RPCServer routes requests of a transport to its shards
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]

	nodeHost    *dragonboat.NodeHost
	redisClient redis.UniversalClient
	closeOnce   sync.Once
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		http.NewHttpServerTransport(),
//		serializer.NewJSONSerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
	}
}

// Serve creates all shards and serves requests until Close is called
func (s *RPCServer) Serve() error {
	if err := s.Init(); err != nil {
		return err
	}
	return s.transport.Listen(s.config)
}

// Init sets up loggers, the shards and the transport handler. Serve calls it,
// tests may call it directly and use Handle without a transport.
func (s *RPCServer) Init() error {
	if err := common.InitLoggers(s.config.LogLevel); err != nil {
		return err
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof("%s", s.config.String())

	if err := s.createShards(); err != nil {
		if cerr := s.closeShards(); cerr != nil {
			Logger.Warningf("cleanup after failed setup: %v", cerr)
		}
		return errors.WithMessage(err, "failed to create shards")
	}

	Logger.Infof("dLock setup completed successfully")
	s.transport.RegisterHandler(s.Handle)
	return nil
}

// Handle decodes a request, lets the adapter of the shard answer it and
// encodes the response. Failures are reported as MsgTError responses.
func (s *RPCServer) Handle(shardId uint64, req []byte) []byte {
	var respMsg *common.Message

	shard, ok := s.shards.Load(shardId)
	if !ok {
		respMsg = common.NewErrorResponse(fmt.Sprintf("shard %d not found", shardId))
	} else {
		var msg common.Message
		if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
		} else {
			respMsg = shard.Adapter.Handle(&msg)
		}
	}

	val, err := s.serializer.Serialize(*respMsg)
	if err != nil {
		Logger.Errorf("failed to serialize response: %v", err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}

// Close stops the transport and releases all shards, the raft node host and
// the redis client.
func (s *RPCServer) Close() error {
	var result error
	s.closeOnce.Do(func() {
		if err := s.transport.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "close transport"))
		}
		if err := s.closeShards(); err != nil {
			result = multierror.Append(result, err)
		}
	})
	return result
}

// --------------------------------------------------------------------------
// Shard setup
// --------------------------------------------------------------------------

/*
	Note: A single RPC Server can have any number of shards of any type. Each
	shard is either a store or a lock manager on top of a store. Lock manager
	shards share one pool.NewShared handle per shard: all stores used here are
	safe for concurrent use.
*/

func (s *RPCServer) createShards() error {
	dbFactory := func() db.KVDB { return maple.NewMapleDB(nil) }
	timeout := time.Duration(s.config.TimeoutSecond) * time.Second

	if s.config.HasRemoteShard() {
		nh, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return errors.Wrap(err, "failed to create node host")
		}
		s.nodeHost = nh
	}

	if s.config.HasRedisShard() {
		s.redisClient = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{s.config.RedisAddr},
			Password: s.config.RedisPassword,
			DB:       s.config.RedisDB,
		})
	}

	for _, shardConfig := range s.config.Shards {
		if _, exists := s.shards.Load(shardConfig.ShardID); exists {
			return fmt.Errorf("duplicate shard id %d", shardConfig.ShardID)
		}

		var st store.IStore
		switch shardConfig.Type {
		case common.ShardTypeLocalIStore, common.ShardTypeLocalILockManager:
			st = lstore.NewLocalStore(dbFactory)

		case common.ShardTypeRemoteIStore, common.ShardTypeRemoteILockManager:
			if err := s.nodeHost.StartConcurrentReplica(
				s.config.ClusterMembers,
				false,
				dstore.CreateStateMachineFactory(dbFactory),
				s.config.ToDragonboatConfig(shardConfig.ShardID),
			); err != nil {
				return errors.Wrapf(err, "failed to start shard %d", shardConfig.ShardID)
			}
			st = dstore.NewDistributedStore(s.nodeHost, shardConfig.ShardID, timeout)

		case common.ShardTypeRedisILockManager:
			st = rstore.NewRedisStore(s.redisClient, timeout)

		default:
			return fmt.Errorf("invalid shard type: %s", shardConfig.Type)
		}

		var adapter IRPCServerAdapter
		if shardConfig.Type.IsLockManager() {
			locks, err := lockmgr.NewLockManager(pool.NewShared(st), s.config.Lock)
			if err != nil {
				return errors.Wrapf(err, "failed to create lock manager for shard %d", shardConfig.ShardID)
			}
			adapter = NewLockManagerServerAdapter(locks, timeout)
		} else {
			adapter = NewIStoreServerAdapter(st)
		}

		s.shards.Store(shardConfig.ShardID, serverShard{Store: st, Adapter: adapter})
		Logger.Infof("created %s for shard %d", shardConfig.Type, shardConfig.ShardID)
	}
	return nil
}

func (s *RPCServer) closeShards() error {
	var result error

	s.shards.Range(func(id uint64, shard serverShard) bool {
		// the redis client is shared and closed below
		if s.isRedisShard(id) {
			return true
		}
		if c, ok := shard.Store.(io.Closer); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "close shard %d", id))
			}
		}
		return true
	})
	s.shards.Clear()

	if s.nodeHost != nil {
		s.nodeHost.Close()
		s.nodeHost = nil
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "close redis client"))
		}
		s.redisClient = nil
	}
	return result
}

func (s *RPCServer) isRedisShard(id uint64) bool {
	for _, shard := range s.config.Shards {
		if shard.ShardID == id {
			return shard.Type == common.ShardTypeRedisILockManager
		}
	}
	return false
}
