package lockmgr

import (
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics are registered in the default VictoriaMetrics set and exposed by
// the http transport under /metrics.

func counter(name string, mode Mode) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`dlock_%s_total{mode=%q}`, name, mode))
}

func observeAttempt(mode Mode) {
	counter("lock_attempts", mode).Inc()
}

func observeGrant(mode Mode, start time.Time) {
	counter("lock_grants", mode).Inc()
	metrics.GetOrCreateHistogram(fmt.Sprintf(`dlock_lock_acquire_duration_seconds{mode=%q}`, mode)).UpdateDuration(start)
}

func observeTimeout(mode Mode) {
	counter("lock_timeouts", mode).Inc()
}

func observeStoreError(mode Mode) {
	counter("lock_store_errors", mode).Inc()
}

func observeRelease(mode Mode, released bool) {
	if released {
		counter("lock_releases", mode).Inc()
	} else {
		counter("lock_releases_noop", mode).Inc()
	}
}

func observeCleanupFailure(mode Mode) {
	counter("lock_cleanup_failures", mode).Inc()
}
