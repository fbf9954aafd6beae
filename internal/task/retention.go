package task

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultRetention keeps a day of sink deliveries.
	DefaultRetention = 24 * time.Hour
	// DefaultPruneInterval is how often expired deliveries are removed.
	DefaultPruneInterval = 10 * time.Minute

	// RetentionJobName labels the prune job in logs.
	RetentionJobName = "delivery_retention"

	logEventDeliveriesPruned = "deliveries_pruned"
	logFieldPrunedCount      = "removed"
	logFieldCutoff           = "cutoff"
)

// DeliveryPruner removes deliveries received before a cutoff.
type DeliveryPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJob deletes deliveries older than retention on every run.
func RetentionJob(pruner DeliveryPruner, retention time.Duration, now func() time.Time, logger *zap.Logger) Job {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) error {
		cutoff := now().Add(-retention)
		removed, pruneErr := pruner.PruneBefore(ctx, cutoff)
		if pruneErr != nil {
			return pruneErr
		}
		if removed > 0 {
			logger.Info(logEventDeliveriesPruned, zap.Int64(logFieldPrunedCount, removed), zap.Time(logFieldCutoff, cutoff))
		}
		return nil
	}
}
