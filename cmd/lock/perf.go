package lock

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dLock/cmd/util"
	"github.com/ValentinKolb/dLock/lib/lockmgr"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var perfCmd = &cobra.Command{
	Use:   "perf",
	Short: "Load test a lock manager",
	Long: `Runs concurrent workers that lock and release a set of ids for a fixed duration and reports
lock latencies, grants and timeouts per mode.`,
	Args: cobra.NoArgs,
	RunE: runPerfCmd,
}

func init() {
	key := "workers"
	perfCmd.Flags().Int(key, 10, util.WrapString("Number of concurrent workers"))
	key = "ids"
	perfCmd.Flags().Int(key, 10, util.WrapString("How many different lock ids the workers compete for"))
	key = "duration"
	perfCmd.Flags().Duration(key, 10*time.Second, util.WrapString("How long the test runs"))
	key = "write-ratio"
	perfCmd.Flags().Float64(key, 0.2, util.WrapString("Share of write locks between 0 and 1"))
	key = "hold"
	perfCmd.Flags().Duration(key, time.Millisecond, util.WrapString("How long a granted lock is held before it is released"))
	key = "csv"
	perfCmd.Flags().String(key, "", util.WrapString("Optional path to save the results as CSV"))
}

// perfConfig describes one load test
type perfConfig struct {
	Workers    int
	IDs        int
	Duration   time.Duration
	WriteRatio float64
	Hold       time.Duration
	IDPrefix   string
}

// perfResult holds the measurements of one lock mode
type perfResult struct {
	Mode       lockmgr.Mode
	Latency    metrics.Timer   // time until a lock was granted
	Timeouts   metrics.Counter // acquisitions that gave up
	Released   metrics.Counter // releases that removed the lock
	Unreleased metrics.Counter // releases that found the lock already gone
}

func newPerfResult(mode lockmgr.Mode) *perfResult {
	return &perfResult{
		Mode:       mode,
		Latency:    metrics.NewTimer(),
		Timeouts:   metrics.NewCounter(),
		Released:   metrics.NewCounter(),
		Unreleased: metrics.NewCounter(),
	}
}

func runPerfCmd(cmd *cobra.Command, _ []string) error {
	cfg := perfConfig{
		Workers:    viper.GetInt("workers"),
		IDs:        viper.GetInt("ids"),
		Duration:   viper.GetDuration("duration"),
		WriteRatio: viper.GetFloat64("write-ratio"),
		Hold:       viper.GetDuration("hold"),
		IDPrefix:   fmt.Sprintf("__perf-%d", time.Now().UnixNano()),
	}

	fmt.Println("Performance testing tool for dLock")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("Backend: %s\n", viper.GetString("backend"))
	if viper.GetString("backend") == "rpc" {
		fmt.Println(util.GetClientConfig().String())
	} else {
		fmt.Println(util.GetLockConfig().WithDefaults().String())
	}
	fmt.Printf("Workers: %d, IDs: %d, Duration: %s, WriteRatio: %.2f, Hold: %s\n", cfg.Workers, cfg.IDs, cfg.Duration, cfg.WriteRatio, cfg.Hold)
	fmt.Println()
	fmt.Println("starting test...")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	results, err := runPerf(ctx, lockMgr, cfg)
	if err != nil {
		return err
	}
	for _, r := range results {
		printResult(r, cfg.Duration)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, cfg); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// runPerf lets cfg.Workers workers lock and release random ids until
// cfg.Duration has passed. It returns the read and write results in that order.
// A store error stops all workers.
func runPerf(ctx context.Context, mgr lockmgr.ILockManager, cfg perfConfig) ([]*perfResult, error) {
	if cfg.Workers <= 0 || cfg.IDs <= 0 {
		return nil, fmt.Errorf("workers and ids must be positive")
	}
	if cfg.WriteRatio < 0 || cfg.WriteRatio > 1 {
		return nil, fmt.Errorf("write ratio %.2f is not between 0 and 1", cfg.WriteRatio)
	}

	read, write := newPerfResult(lockmgr.ModeRead), newPerfResult(lockmgr.ModeWrite)

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	for w := 0; w < cfg.Workers; w++ {
		g.Go(func() error {
			for gctx.Err() == nil {
				res := read
				if rand.Float64() < cfg.WriteRatio {
					res = write
				}
				id := fmt.Sprintf("%s-%d", cfg.IDPrefix, rand.Intn(cfg.IDs))

				start := time.Now()
				token, err := perfLock(gctx, mgr, res.Mode, id)
				switch {
				case errors.Is(err, lockmgr.ErrLockTimeout):
					res.Timeouts.Inc(1)
					continue
				case err != nil && gctx.Err() != nil:
					// the test ended during a backoff
					return nil
				case err != nil:
					return fmt.Errorf("%s lock %s: %w", res.Mode, id, err)
				}
				res.Latency.UpdateSince(start)

				if cfg.Hold > 0 {
					time.Sleep(cfg.Hold)
				}

				// release even if the test ended meanwhile
				released, err := perfRelease(context.WithoutCancel(gctx), mgr, res.Mode, id, token)
				if err != nil {
					return fmt.Errorf("%s release %s: %w", res.Mode, id, err)
				}
				if released != "" {
					res.Released.Inc(1)
				} else {
					res.Unreleased.Inc(1)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return []*perfResult{read, write}, nil
}

func perfLock(ctx context.Context, mgr lockmgr.ILockManager, mode lockmgr.Mode, id string) (string, error) {
	if mode == lockmgr.ModeWrite {
		return mgr.WriteLock(ctx, id)
	}
	return mgr.ReadLock(ctx, id)
}

func perfRelease(ctx context.Context, mgr lockmgr.ILockManager, mode lockmgr.Mode, id, token string) (string, error) {
	if mode == lockmgr.ModeWrite {
		return mgr.WriteRelease(ctx, id, token)
	}
	return mgr.ReadRelease(ctx, id, token)
}

// --------------------------------------------------------------------------
// Output
// --------------------------------------------------------------------------

var percentiles = []float64{0.5, 0.95, 0.99}

// printResult prints the result of one mode in a formatted way
func printResult(r *perfResult, d time.Duration) {
	lat := r.Latency.Snapshot()
	if lat.Count() == 0 && r.Timeouts.Count() == 0 {
		fmt.Printf("%-8sno locks requested\n", r.Mode)
		return
	}
	ps := lat.Percentiles(percentiles)
	fmt.Printf("%-8sgranted=%d (%.0f/sec) timeouts=%d mean=%s p50=%s p95=%s p99=%s max=%s unreleased=%d\n",
		r.Mode, lat.Count(), float64(lat.Count())/d.Seconds(), r.Timeouts.Count(),
		time.Duration(lat.Mean()), time.Duration(ps[0]), time.Duration(ps[1]), time.Duration(ps[2]),
		time.Duration(lat.Max()), r.Unreleased.Count())
}

// writeResultsToCSV writes the test results to a CSV file
func writeResultsToCSV(csvPath string, results []*perfResult, cfg perfConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	// Write header
	header := []string{
		"Mode", "Granted", "Timeouts", "Unreleased", "GrantsPerSec",
		"MeanNs", "P50Ns", "P95Ns", "P99Ns", "MaxNs",
		"Backend", "Endpoints", "ShardID", "Serializer", "Transport",
		"Workers", "IDs", "DurationSec", "WriteRatio", "HoldNs",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for _, r := range results {
		lat := r.Latency.Snapshot()
		ps := lat.Percentiles(percentiles)
		row := []string{
			string(r.Mode),
			strconv.FormatInt(lat.Count(), 10),
			strconv.FormatInt(r.Timeouts.Count(), 10),
			strconv.FormatInt(r.Unreleased.Count(), 10),
			fmt.Sprintf("%.0f", float64(lat.Count())/cfg.Duration.Seconds()),
			fmt.Sprintf("%.0f", lat.Mean()),
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			fmt.Sprintf("%.0f", ps[2]),
			strconv.FormatInt(lat.Max(), 10),
			viper.GetString("backend"),
			strings.ReplaceAll(viper.GetString("endpoints"), ",", ";"),
			strconv.FormatUint(util.GetShardID(), 10),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(cfg.Workers),
			strconv.Itoa(cfg.IDs),
			fmt.Sprintf("%.0f", cfg.Duration.Seconds()),
			fmt.Sprintf("%.2f", cfg.WriteRatio),
			strconv.FormatInt(int64(cfg.Hold), 10),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for mode %s: %v", r.Mode, err)
		}
	}

	// rows are buffered, write errors only show up on flush
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to write CSV file: %v", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close CSV file: %v", err)
	}
	return nil
}
