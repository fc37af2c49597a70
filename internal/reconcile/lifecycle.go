package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	entdomain "github.com/smallbiznis/purchaseledger/internal/entitlement/domain"
	obsmetrics "github.com/smallbiznis/purchaseledger/internal/observability/metrics"
	storedomain "github.com/smallbiznis/purchaseledger/internal/storefront/domain"
	"go.uber.org/zap"
)

// Start launches the cold projection rebuild, the live listener, one replay
// pass over history and one renewal refresh pass, then returns.
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	if e.started {
		return ErrAlreadyStarted
	}
	e.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.bootstrap = make(chan struct{})

	sub, err := e.source.Updates(runCtx)
	if err != nil {
		e.record(entdomain.NewError(entdomain.KindSyncFailed, "", err))
	} else {
		e.sub = sub
		e.wg.Add(1)
		go e.listen(runCtx, sub)
	}

	var boot sync.WaitGroup
	boot.Add(3)
	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		defer boot.Done()
		started := time.Now()
		err := e.rebuild(runCtx)
		e.passMetrics.ObservePass(obsmetrics.PassRebuild, started, err)
	}()
	go func() {
		defer e.wg.Done()
		defer boot.Done()
		if err := e.replay(runCtx); err != nil {
			e.record(err)
		}
	}()
	go func() {
		defer e.wg.Done()
		defer boot.Done()
		// Per-product failures are recorded inside the pass.
		_ = e.RefreshSubscriptionStatus(runCtx)
	}()

	done := e.bootstrap
	go func() {
		boot.Wait()
		close(done)
		e.log.Info("bootstrap finished")
	}()

	e.log.Info("engine started", zap.Bool("listening", e.sub != nil))
	return nil
}

// WaitBootstrap blocks until the rebuild, replay and refresh started by
// Start have finished or ctx is done.
func (e *Engine) WaitBootstrap(ctx context.Context) error {
	e.lifeMu.Lock()
	done := e.bootstrap
	e.lifeMu.Unlock()

	if done == nil {
		return ErrNotStarted
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the listener and background passes, closes the live
// subscription and waits for them to return. Writes already in progress
// complete.
func (e *Engine) Stop(ctx context.Context) error {
	e.lifeMu.Lock()
	if !e.started {
		e.lifeMu.Unlock()
		return nil
	}
	cancel, sub := e.cancel, e.sub
	e.started = false
	e.cancel = nil
	e.sub = nil
	e.lifeMu.Unlock()

	cancel()
	if sub != nil {
		sub.Close()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.log.Info("engine stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) listen(ctx context.Context, sub storedomain.Subscription) {
	defer e.wg.Done()
	e.log.Info("live listener started")
	defer e.log.Info("live listener stopped")

	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case result, ok := <-sub.Events():
			if !ok {
				return
			}
			e.handle(context.WithoutCancel(ctx), sourceLive, result)
		}
	}
}

// replay runs one pass over the source history.
func (e *Engine) replay(ctx context.Context) (err error) {
	started := time.Now()
	defer func() {
		e.passMetrics.ObservePass(obsmetrics.PassReplay, started, err)
	}()

	results, errs := e.source.History(ctx)
	return e.drain(ctx, sourceReplay, results, errs)
}

// drain handles every result of a finite source sequence. A failure to read
// the sequence is returned as KindSyncFailed; per-transaction failures are
// recorded only.
func (e *Engine) drain(ctx context.Context, source string, results <-chan storedomain.VerificationResult, errs <-chan error) error {
	for result := range results {
		if ctx.Err() != nil {
			break
		}
		e.handle(ctx, source, result)
	}
	// Unblocks the producer when drain stopped early.
	for range results {
	}

	if err := <-errs; err != nil {
		return entdomain.NewError(entdomain.KindSyncFailed, "", err)
	}
	if err := ctx.Err(); err != nil {
		return entdomain.NewError(entdomain.KindSyncFailed, "", err)
	}
	return nil
}

// handle verifies, applies and finishes one result. Results that can never
// apply are finished so they are not delivered again; pending purchases and
// results that failed on a store error stay unfinished for the next replay.
func (e *Engine) handle(ctx context.Context, source string, result storedomain.VerificationResult) {
	txn, err := e.verifier.Verify(result)
	if errors.Is(err, entdomain.ErrPurchasePending) {
		e.log.Info("purchase pending approval",
			zap.String("transaction_id", result.TransactionID),
			zap.String("product_id", result.ProductID),
			zap.String("source", source),
		)
		e.passMetrics.AddItems(source, obsmetrics.ItemPending, 1)
		return
	}
	if err != nil {
		e.record(err,
			zap.String("transaction_id", result.TransactionID),
			zap.String("source", source),
		)
		e.obsMetrics.RecordVerificationFailure(ctx, source, string(entdomain.KindOf(err)))
		e.passMetrics.AddItems(source, obsmetrics.ItemDropped, 1)
		e.finish(ctx, result.TransactionID)
		return
	}

	err = e.applyTransaction(ctx, txn, source)
	switch {
	case err == nil:
		e.passMetrics.AddItems(source, obsmetrics.ItemApplied, 1)
	case entdomain.IsPersistence(err):
		e.passMetrics.AddItems(source, obsmetrics.ItemFailed, 1)
		e.passMetrics.IncError(source, obsmetrics.ClassifyReason(err))
		return
	default:
		e.passMetrics.AddItems(source, obsmetrics.ItemDropped, 1)
	}
	e.finish(ctx, result.TransactionID)
}

func (e *Engine) finish(ctx context.Context, transactionID string) {
	if transactionID == "" {
		return
	}
	if err := e.source.Finish(context.WithoutCancel(ctx), transactionID); err != nil {
		if errors.Is(err, storedomain.ErrTransactionNotFound) {
			e.log.Debug("finish for unknown transaction", zap.String("transaction_id", transactionID))
			return
		}
		e.record(err, zap.String("transaction_id", transactionID))
	}
}
