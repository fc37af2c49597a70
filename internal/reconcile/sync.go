package reconcile

import (
	"context"
	"errors"
	"time"

	obsmetrics "github.com/smallbiznis/purchaseledger/internal/observability/metrics"
	"go.opentelemetry.io/otel/codes"
)

// Sync replays the source's current entitlements and then refreshes every
// subscription status. A source that cannot be read fails with
// KindSyncFailed; refresh failures are joined to the result.
func (e *Engine) Sync(ctx context.Context) (err error) {
	ctx, span := e.tracer.Start(ctx, "reconcile.Sync")
	started := time.Now()
	defer func() {
		e.passMetrics.ObservePass(obsmetrics.PassSync, started, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sync incomplete")
		}
		span.End()
	}()

	results, errs := e.source.CurrentEntitlements(ctx)
	syncErr := e.drain(ctx, sourceSync, results, errs)
	e.record(syncErr)

	refreshErr := e.RefreshSubscriptionStatus(ctx)
	return errors.Join(syncErr, refreshErr)
}
