// Package delivery tracks how many events a destination has received and waits for an
// expected count.
package delivery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/failures"
)

const (
	expectationDelivered       = "events delivered to destination"
	timeoutDetailFormat        = "received %d of %d (failed %d, total %d) within %s"
	logEventDeliveryReadFailed = "delivery_stats_read_failed"
	logEventDeliveryPolled     = "delivery_stats_polled"
	defaultPollInterval        = 2 * time.Second
)

// Stats is one observation of a destination's delivery counters.
type Stats struct {
	Received int           `json:"delivered"`
	Failed   int           `json:"failed"`
	Total    int           `json:"total"`
	Expected int           `json:"expected,omitempty"`
	Elapsed  time.Duration `json:"-"`
}

// Satisfied reports whether the expected count has been reached.
func (stats Stats) Satisfied() bool {
	return stats.Received >= stats.Expected
}

// SuccessRate is the delivered share of Total as a percentage. It is zero without events.
func (stats Stats) SuccessRate() float64 {
	if stats.Total <= 0 {
		return 0
	}
	return float64(stats.Received) / float64(stats.Total) * 100
}

// Reader reads the current counters of a destination.
type Reader func(ctx context.Context) (Stats, error)

// Await reads immediately and then once per interval until Received reaches expected.
// It fails with an AssertionFailure when timeout elapses first. Transient read errors are
// logged and polling continues; permanent read errors abort.
func Await(ctx context.Context, logger *zap.Logger, read Reader, expected int, timeout time.Duration, interval time.Duration) (Stats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}

	startedAt := time.Now()
	deadline := startedAt.Add(timeout)
	lastStats := Stats{Expected: expected}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadlineTimer := time.NewTimer(timeout)
	defer deadlineTimer.Stop()

	for {
		stats, readErr := read(ctx)
		elapsed := time.Since(startedAt)
		switch {
		case readErr == nil:
			stats.Expected = expected
			stats.Elapsed = elapsed
			lastStats = stats
			logger.Debug(logEventDeliveryPolled,
				zap.Int("received", stats.Received),
				zap.Int("expected", expected),
				zap.Duration("elapsed", elapsed),
			)
			if stats.Satisfied() {
				return stats, nil
			}
		case !failures.IsTransient(readErr):
			lastStats.Elapsed = elapsed
			return lastStats, readErr
		default:
			logger.Warn(logEventDeliveryReadFailed, zap.Error(readErr), zap.Duration("elapsed", elapsed))
		}

		if !time.Now().Before(deadline) {
			lastStats.Elapsed = time.Since(startedAt)
			return lastStats, failures.Assertf(expectationDelivered, timeoutDetailFormat,
				lastStats.Received, expected, lastStats.Failed, lastStats.Total, timeout)
		}

		select {
		case <-ctx.Done():
			lastStats.Elapsed = time.Since(startedAt)
			return lastStats, ctx.Err()
		case <-ticker.C:
		case <-deadlineTimer.C:
		}
	}
}
