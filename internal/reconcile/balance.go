package reconcile

import (
	"context"
	"errors"
	"math"

	"github.com/smallbiznis/purchaseledger/internal/catalog"
	entdomain "github.com/smallbiznis/purchaseledger/internal/entitlement/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var errBalanceOverflow = errors.New("balance would exceed the largest representable quantity")

// Consume debits quantity from a consumable balance. A missing or too small
// balance fails with KindInsufficientBalance and nothing is written.
func (e *Engine) Consume(ctx context.Context, id catalog.ProductID, quantity int64) (err error) {
	ctx, span := e.tracer.Start(ctx, "reconcile.Consume", trace.WithAttributes(
		attribute.String("product_id", id.String()),
		attribute.Int64("quantity", quantity),
	))
	defer func() {
		e.obsMetrics.RecordConsume(ctx, string(entdomain.KindOf(err)))
		if err != nil {
			e.record(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, string(entdomain.KindOf(err)))
		}
		span.End()
	}()

	if quantity <= 0 {
		return entdomain.NewError(entdomain.KindInvalidAmount, id.String(), nil)
	}
	if err := e.requireConsumable(id); err != nil {
		return err
	}

	return e.write(ctx, id.String(), func(ctx context.Context) error {
		balance, err := e.store.FindBalance(ctx, id.String())
		if err != nil {
			return readFailed(id.String(), err)
		}
		if balance == nil || balance.Quantity < quantity {
			return entdomain.NewError(entdomain.KindInsufficientBalance, id.String(), nil)
		}
		balance.Quantity -= quantity
		if err := e.store.SaveBalance(ctx, *balance); err != nil {
			return writeFailed(id.String(), err)
		}
		return nil
	})
}

// Credit adds quantity to a consumable balance, creating it when absent.
// A credit that would overflow the balance fails with KindInvalidAmount.
func (e *Engine) Credit(ctx context.Context, id catalog.ProductID, quantity int64) error {
	if err := e.requireConsumable(id); err != nil {
		e.record(err)
		return err
	}
	if err := e.credit(ctx, id, quantity, ""); err != nil {
		e.record(err)
		return err
	}
	return nil
}

func (e *Engine) requireConsumable(id catalog.ProductID) error {
	product, err := e.product(id)
	if err != nil {
		return err
	}
	if product.Kind != catalog.KindConsumable {
		return entdomain.NewError(entdomain.KindUnsupportedProductType, id.String(), nil)
	}
	return nil
}

// credit adds quantity to the balance of id. A non-empty transactionID is
// credited at most once; a repeat delivery is a no-op.
func (e *Engine) credit(ctx context.Context, id catalog.ProductID, quantity int64, transactionID string) error {
	if quantity <= 0 {
		return entdomain.NewError(entdomain.KindInvalidAmount, id.String(), nil)
	}
	return e.write(ctx, id.String(), func(ctx context.Context) error {
		if transactionID != "" {
			applied, err := e.store.IsTransactionApplied(ctx, transactionID)
			if err != nil {
				return readFailed(id.String(), err)
			}
			if applied {
				e.log.Debug("consumable transaction already credited",
					zap.String("product_id", id.String()),
					zap.String("transaction_id", transactionID),
				)
				return nil
			}
		}

		balance, err := e.store.FindBalance(ctx, id.String())
		if err != nil {
			return readFailed(id.String(), err)
		}
		if balance == nil {
			balance = &entdomain.ConsumableBalance{ProductID: id.String()}
		}
		if quantity > math.MaxInt64-balance.Quantity {
			return entdomain.NewError(entdomain.KindInvalidAmount, id.String(), errBalanceOverflow)
		}
		balance.Quantity += quantity

		if transactionID == "" {
			err = e.store.SaveBalance(ctx, *balance)
		} else {
			err = e.store.CreditTransaction(ctx, *balance, entdomain.AppliedTransaction{
				TransactionID: transactionID,
				ProductID:     id.String(),
				Quantity:      quantity,
			})
		}
		if err != nil {
			return writeFailed(id.String(), err)
		}
		return nil
	})
}
