package lock

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dLock/cmd/util"
	"github.com/ValentinKolb/dLock/lib/lockmgr"
	"github.com/ValentinKolb/dLock/lib/pool"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/lib/store/rstore"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	lockMgr lockmgr.ILockManager

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:   "lock",
		Short: "Perform lock operations",
		Long: `Perform lock operations. With --backend=rpc (default) the lock manager shard of a dLock server does the work.
With --backend=redis the lock manager runs in this process directly on a redis server, using a pool of connections.`,
		PersistentPreRunE: setupLockClient,
	}
)

func init() {
	// Add subcommands to lock command
	LockCommands.AddCommand(readCmd)
	LockCommands.AddCommand(writeCmd)
	LockCommands.AddCommand(readReleaseCmd)
	LockCommands.AddCommand(writeReleaseCmd)
	LockCommands.AddCommand(perfCmd)

	// Add common RPC flags to the lock command
	util.SetupRPCClientFlags(LockCommands)

	// Set default shard ID for lock operations (different from KV default)
	LockCommands.PersistentFlags().Int("shard", 200, util.WrapString("ID of the shard to connect to"))

	key := "backend"
	LockCommands.PersistentFlags().String(key, "rpc", util.WrapString("Where the lock manager runs: rpc (on the dLock server) or redis (in this process, on a redis server)"))

	key = "pool-size"
	LockCommands.PersistentFlags().Int(key, 16, util.WrapString("(redis backend) Maximum number of redis connections in use at the same time"))

	// only used by the redis backend, the server has its own settings
	util.SetupLockFlags(LockCommands.PersistentFlags())
	util.SetupRedisFlags(LockCommands.PersistentFlags())
}

// setupLockClient initializes the lock manager for the selected backend
func setupLockClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	switch backend := viper.GetString("backend"); backend {
	case "rpc":
		lockMgr, err = util.NewRPCLockMgr()
	case "redis":
		lockMgr, err = newRedisLockMgr()
	default:
		err = fmt.Errorf("invalid backend %s (expected rpc or redis)", backend)
	}
	return err
}

// newRedisLockMgr runs the lock manager in process. Every pooled store owns
// one redis connection.
func newRedisLockMgr() (lockmgr.ILockManager, error) {
	opts := &redis.Options{
		Addr:     viper.GetString("redis-addr"),
		Password: viper.GetString("redis-password"),
		DB:       viper.GetInt("redis-db"),
		PoolSize: 1,
	}
	timeout := util.RedisTimeout()

	p := pool.New(func(ctx context.Context) (store.IStore, error) {
		c := redis.NewClient(opts)
		if err := c.Ping(ctx).Err(); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("cannot reach redis at %s: %w", opts.Addr, err)
		}
		return rstore.NewRedisStore(c, timeout), nil
	}, pool.Options{MaxActive: viper.GetInt("pool-size")})

	return lockmgr.NewLockManager(p, util.GetLockConfig())
}
