package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/lib/lockmgr"
	"github.com/spf13/cobra"
)

var (
	holdFor time.Duration

	readCmd = &cobra.Command{
		Use:   "read [id]",
		Short: "Acquire a read lock",
		Long:  "Acquire a read lock and print its token. With --hold the lock is held for the given duration and released afterwards.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLock(cmd.Context(), lockmgr.ModeRead, args[0])
		},
	}
	writeCmd = &cobra.Command{
		Use:   "write [id]",
		Short: "Acquire the write lock",
		Long:  "Acquire the write lock and print its token. With --hold the lock is held for the given duration and released afterwards.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLock(cmd.Context(), lockmgr.ModeWrite, args[0])
		},
	}
	readReleaseCmd = &cobra.Command{
		Use:   "read-release [id] [token]",
		Short: "Release a read lock",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelease(cmd.Context(), lockmgr.ModeRead, args[0], args[1])
		},
	}
	writeReleaseCmd = &cobra.Command{
		Use:   "write-release [id] [token]",
		Short: "Release the write lock",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelease(cmd.Context(), lockmgr.ModeWrite, args[0], args[1])
		},
	}
)

func init() {
	for _, c := range []*cobra.Command{readCmd, writeCmd} {
		c.Flags().DurationVar(&holdFor, "hold", 0, "Hold the lock for this long, then release it (0 keeps it until it expires)")
	}
}

func lock(ctx context.Context, mode lockmgr.Mode, id string) (string, error) {
	if mode == lockmgr.ModeWrite {
		return lockMgr.WriteLock(ctx, id)
	}
	return lockMgr.ReadLock(ctx, id)
}

func release(ctx context.Context, mode lockmgr.Mode, id, token string) (string, error) {
	if mode == lockmgr.ModeWrite {
		return lockMgr.WriteRelease(ctx, id, token)
	}
	return lockMgr.ReadRelease(ctx, id, token)
}

// runLock handles the read and write commands
func runLock(ctx context.Context, mode lockmgr.Mode, id string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	token, err := lock(ctx, mode, id)
	if errors.Is(err, lockmgr.ErrLockTimeout) {
		fmt.Printf("acquired=false, mode=%s, id=%s\n", mode, id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to acquire %s lock: %w", mode, err)
	}
	fmt.Printf("acquired=true, mode=%s, id=%s, token=%s\n", mode, id, token)

	if holdFor <= 0 {
		return nil
	}
	time.Sleep(holdFor)
	return runRelease(ctx, mode, id, token)
}

// runRelease handles the release commands
func runRelease(ctx context.Context, mode lockmgr.Mode, id, token string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	released, err := release(ctx, mode, id, token)
	if err != nil {
		return fmt.Errorf("failed to release %s lock: %w", mode, err)
	}
	fmt.Printf("released=%t, mode=%s, id=%s\n", released != "", mode, id)
	return nil
}
