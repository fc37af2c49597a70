// Package reconcile applies verified purchase transactions to the ledger
// and keeps the published projection in step with it.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/smallbiznis/purchaseledger/internal/catalog"
	entdomain "github.com/smallbiznis/purchaseledger/internal/entitlement/domain"
	obsmetrics "github.com/smallbiznis/purchaseledger/internal/observability/metrics"
	"github.com/smallbiznis/purchaseledger/internal/projection"
	storedomain "github.com/smallbiznis/purchaseledger/internal/storefront/domain"
	"github.com/smallbiznis/purchaseledger/internal/verifier"
	"github.com/smallbiznis/purchaseledger/internal/writelock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrAlreadyStarted = errors.New("engine_already_started")
	ErrNotStarted     = errors.New("engine_not_started")
)

const (
	sourceLive   = obsmetrics.PassLive
	sourceReplay = obsmetrics.PassReplay
	sourceSync   = obsmetrics.PassSync
	sourceAPI    = "api"
)

type Params struct {
	fx.In

	Log         *zap.Logger
	Catalog     *catalog.Catalog
	Store       entdomain.Store
	Source      storedomain.Source
	Renewals    storedomain.RenewalQuerier
	Lock        writelock.Locker        `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics     `optional:"true"`
	PassMetrics *obsmetrics.PassMetrics `optional:"true"`
}

// Engine is the only writer of the ledger store. Every mutation and the
// rebuild that follows it run under one write mutex.
type Engine struct {
	log         *zap.Logger
	catalog     *catalog.Catalog
	store       entdomain.Store
	source      storedomain.Source
	renewals    storedomain.RenewalQuerier
	verifier    *verifier.Verifier
	projection  *projection.Projection
	lock        writelock.Locker
	tracer      trace.Tracer
	obsMetrics  *obsmetrics.Metrics
	passMetrics *obsmetrics.PassMetrics

	writeMu sync.Mutex
	lastErr atomic.Pointer[entdomain.Error]

	lifeMu    sync.Mutex
	started   bool
	cancel    context.CancelFunc
	sub       storedomain.Subscription
	wg        sync.WaitGroup
	bootstrap chan struct{}
}

func NewEngine(p Params) *Engine {
	lock := p.Lock
	if lock == nil {
		lock = writelock.Noop{}
	}
	return &Engine{
		log:         p.Log.Named("reconcile.engine"),
		catalog:     p.Catalog,
		store:       p.Store,
		source:      p.Source,
		renewals:    p.Renewals,
		verifier:    verifier.New(p.Catalog),
		projection:  projection.New(p.Log, p.Catalog, p.Store),
		lock:        lock,
		tracer:      otel.Tracer("purchaseledger/reconcile"),
		obsMetrics:  p.ObsMetrics,
		passMetrics: p.PassMetrics,
	}
}

// Snapshot returns the latest published projection. It never blocks.
func (e *Engine) Snapshot() *projection.Snapshot {
	return e.projection.Current()
}

// Subscribe registers fn for every snapshot published after a mutation.
// fn runs on the writing goroutine and must not block or call back into
// the engine's write operations.
func (e *Engine) Subscribe(fn func(*projection.Snapshot)) (cancel func()) {
	return e.projection.Subscribe(fn)
}

// LastError returns the most recent failure seen by any operation or
// background pass, or nil.
func (e *Engine) LastError() error {
	if err := e.lastErr.Load(); err != nil {
		return err
	}
	return nil
}

func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// record keeps err as the last error and logs it.
func (e *Engine) record(err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	classified := entdomain.Classify(err)
	e.lastErr.Store(classified)

	fields = append(fields, zap.String("error_kind", string(classified.Kind)), zap.Error(err))
	switch classified.Kind {
	case entdomain.KindVerificationFailed, entdomain.KindUnknownProduct,
		entdomain.KindInsufficientBalance, entdomain.KindInvalidAmount:
		e.log.Info("reconcile rejected", fields...)
	default:
		e.log.Warn("reconcile failed", fields...)
	}
}

// write runs fn and the projection rebuild as one exclusive step. fn gets a
// context that is never cancelled so a started write always completes.
func (e *Engine) write(ctx context.Context, productID string, fn func(ctx context.Context) error) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	release, err := e.lock.Acquire(ctx)
	if err != nil {
		return entdomain.NewError(entdomain.KindPersistenceWriteFailed, productID, err)
	}
	defer release()

	wctx := context.WithoutCancel(ctx)
	if err := fn(wctx); err != nil {
		return err
	}
	e.rebuildLocked(wctx)
	return nil
}

// rebuild publishes a snapshot of the current store contents.
func (e *Engine) rebuild(ctx context.Context) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.rebuildLocked(ctx)
}

func (e *Engine) rebuildLocked(ctx context.Context) error {
	err := e.projection.Rebuild(ctx)
	e.record(err)
	return err
}

func (e *Engine) product(id catalog.ProductID) (catalog.Product, error) {
	p, ok := e.catalog.Product(id)
	if !ok {
		return catalog.Product{}, entdomain.NewError(entdomain.KindUnknownProduct, id.String(), nil)
	}
	return p, nil
}

func readFailed(productID string, err error) error {
	return entdomain.NewError(entdomain.KindPersistenceReadFailed, productID, err)
}

func writeFailed(productID string, err error) error {
	return entdomain.NewError(entdomain.KindPersistenceWriteFailed, productID, err)
}
