package reconcile

import (
	"context"

	"github.com/smallbiznis/purchaseledger/internal/catalog"
	entdomain "github.com/smallbiznis/purchaseledger/internal/entitlement/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ApplyTransaction applies a verified transaction by its catalog kind.
// Entitlement-like products are granted, or removed when the transaction is
// revoked. Consumables are credited by the purchased quantity; a revoked
// consumable transaction changes nothing. Other kinds fail with
// KindUnsupportedProductType. A renewal refresh follows for
// auto-renewable products; its failure is recorded and not returned.
func (e *Engine) ApplyTransaction(ctx context.Context, txn entdomain.Transaction) error {
	return e.applyTransaction(ctx, txn, sourceAPI)
}

func (e *Engine) applyTransaction(ctx context.Context, txn entdomain.Transaction, source string) (err error) {
	ctx, span := e.tracer.Start(ctx, "reconcile.ApplyTransaction", trace.WithAttributes(
		attribute.String("product_id", txn.ProductID.String()),
		attribute.String("source", source),
	))
	kind := catalog.KindOther
	defer func() {
		e.obsMetrics.RecordTransaction(ctx, string(kind), source, string(entdomain.KindOf(err)))
		if err != nil {
			e.record(err,
				zap.String("product_id", txn.ProductID.String()),
				zap.String("transaction_id", txn.ID),
				zap.String("source", source),
			)
			span.RecordError(err)
			span.SetStatus(codes.Error, string(entdomain.KindOf(err)))
		}
		span.End()
	}()

	product, err := e.product(txn.ProductID)
	if err != nil {
		return err
	}
	kind = product.Kind
	span.SetAttributes(attribute.String("product_kind", string(kind)))

	switch {
	case kind.EntitlementLike():
		if txn.Revoked() {
			err = e.revoke(ctx, product.ID)
		} else {
			err = e.grant(ctx, product.ID)
		}
	case kind == catalog.KindConsumable:
		if txn.Revoked() {
			e.log.Info("ignoring revoked consumable transaction",
				zap.String("product_id", product.ID.String()),
				zap.String("transaction_id", txn.ID),
			)
			return nil
		}
		err = e.credit(ctx, product.ID, txn.Quantity, txn.ID)
	default:
		return entdomain.NewError(entdomain.KindUnsupportedProductType, product.ID.String(), nil)
	}
	if err != nil {
		return err
	}

	if kind == catalog.KindAutoRenewable {
		if rerr := e.refreshProduct(ctx, product.ID); rerr != nil {
			e.record(rerr, zap.String("product_id", product.ID.String()))
		}
	}
	return nil
}

// Grant records ownership of an entitlement-like product. Granting an
// owned product is a no-op.
func (e *Engine) Grant(ctx context.Context, id catalog.ProductID) error {
	err := e.requireEntitlementLike(id)
	if err == nil {
		err = e.grant(ctx, id)
	}
	e.record(err, zap.String("product_id", id.String()))
	return err
}

// Revoke removes ownership of an entitlement-like product. Revoking a
// product that is not owned is a no-op.
func (e *Engine) Revoke(ctx context.Context, id catalog.ProductID) error {
	err := e.requireEntitlementLike(id)
	if err == nil {
		err = e.revoke(ctx, id)
	}
	e.record(err, zap.String("product_id", id.String()))
	return err
}

func (e *Engine) requireEntitlementLike(id catalog.ProductID) error {
	product, err := e.product(id)
	if err != nil {
		return err
	}
	if !product.Kind.EntitlementLike() {
		return entdomain.NewError(entdomain.KindUnsupportedProductType, id.String(), nil)
	}
	return nil
}

func (e *Engine) grant(ctx context.Context, id catalog.ProductID) error {
	return e.write(ctx, id.String(), func(ctx context.Context) error {
		if err := e.store.UpsertEntitlement(ctx, entdomain.Entitlement{ProductID: id.String()}); err != nil {
			return writeFailed(id.String(), err)
		}
		return nil
	})
}

func (e *Engine) revoke(ctx context.Context, id catalog.ProductID) error {
	return e.write(ctx, id.String(), func(ctx context.Context) error {
		if err := e.store.DeleteEntitlement(ctx, id.String()); err != nil {
			return writeFailed(id.String(), err)
		}
		return nil
	})
}
