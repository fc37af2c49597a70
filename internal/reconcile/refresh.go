package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/purchaseledger/internal/catalog"
	entdomain "github.com/smallbiznis/purchaseledger/internal/entitlement/domain"
	obsmetrics "github.com/smallbiznis/purchaseledger/internal/observability/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// RefreshSubscriptionStatus overwrites the renewal status of every
// auto-renewable product with the authority's current outlook. A failure
// for one product is recorded and does not stop the others; the joined
// failures are returned.
func (e *Engine) RefreshSubscriptionStatus(ctx context.Context) (err error) {
	ctx, span := e.tracer.Start(ctx, "reconcile.RefreshSubscriptionStatus")
	started := time.Now()
	defer func() {
		e.passMetrics.ObservePass(obsmetrics.PassRefresh, started, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "refresh incomplete")
		}
		span.End()
	}()

	products := e.catalog.AutoRenewable()
	span.SetAttributes(attribute.Int("products", len(products)))

	var errs []error
	for _, id := range products {
		if cerr := ctx.Err(); cerr != nil {
			errs = append(errs, entdomain.NewError(entdomain.KindSubscriptionStatusFailed, id.String(), cerr))
			break
		}
		if rerr := e.refreshProduct(ctx, id); rerr != nil {
			e.record(rerr, zap.String("product_id", id.String()))
			e.passMetrics.AddItems(obsmetrics.PassRefresh, obsmetrics.ItemFailed, 1)
			e.passMetrics.IncError(obsmetrics.PassRefresh, obsmetrics.ClassifyReason(rerr))
			errs = append(errs, rerr)
			continue
		}
		e.passMetrics.AddItems(obsmetrics.PassRefresh, obsmetrics.ItemApplied, 1)
	}
	return errors.Join(errs...)
}

// refreshProduct replaces the stored renewal status of id. Any failure is
// returned as KindSubscriptionStatusFailed wrapping the cause.
func (e *Engine) refreshProduct(ctx context.Context, id catalog.ProductID) (err error) {
	defer func() {
		e.obsMetrics.RecordRenewalRefresh(ctx, string(entdomain.KindOf(err)))
	}()

	outlook, err := e.renewals.RenewalOutlook(ctx, id.String())
	if err != nil {
		return entdomain.NewError(entdomain.KindSubscriptionStatusFailed, id.String(), err)
	}
	if outlook == nil {
		return nil
	}
	status, err := e.verifier.VerifyRenewal(id, *outlook)
	if err != nil {
		return entdomain.NewError(entdomain.KindSubscriptionStatusFailed, id.String(), err)
	}

	err = e.write(ctx, id.String(), func(ctx context.Context) error {
		if err := e.store.UpsertRenewal(ctx, status); err != nil {
			return writeFailed(id.String(), err)
		}
		return nil
	})
	if err != nil {
		return entdomain.NewError(entdomain.KindSubscriptionStatusFailed, id.String(), err)
	}
	return nil
}
