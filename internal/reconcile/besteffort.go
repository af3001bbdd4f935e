package reconcile

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// BestEffort runs ledger bookkeeping whose failure must not fail a
// confirmation. A failed op is logged, counted and handed back to the caller,
// which reports it in ConfirmResult.Skipped.
type BestEffort struct {
	Log      *zap.Logger
	Failures *prometheus.CounterVec // label: op
}

func (b BestEffort) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil {
		return nil
	}
	if b.Log != nil {
		b.Log.Warn("best-effort write failed", zap.String("op", op), zap.Error(err))
	}
	if b.Failures != nil {
		b.Failures.WithLabelValues(op).Inc()
	}
	return err
}
