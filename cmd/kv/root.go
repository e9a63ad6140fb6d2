package kv

import (
	"github.com/ValentinKolb/dLock/cmd/util"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/spf13/cobra"
)

var (
	rpcStore store.IStore

	// KeyValueCommands groups the raw store operations. They work on the
	// same keys the lock managers use, which helps when inspecting locks
	// (e.g. "dlock kv keys read:" on a lockmgr(lstore) shard).
	KeyValueCommands = &cobra.Command{
		Use:   "kv",
		Short: "Perform key-value store operations",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) (err error) {
			if err = util.BindCommandFlags(cmd); err != nil {
				return err
			}
			rpcStore, err = util.NewRPCStore()
			return err
		},
	}
)

func init() {
	util.SetupRPCClientFlags(KeyValueCommands)

	// store shards default to 100, lock manager shards to 200
	KeyValueCommands.PersistentFlags().Int("shard", 100, util.WrapString("ID of the shard to connect to"))

	KeyValueCommands.AddCommand(
		setCmd, setECmd, setEIfUnsetCmd,
		getCmd, hasCmd, keysCmd,
		delCmd, delIfEqualCmd,
		infoCmd,
	)
}
