package projection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallbiznis/purchaseledger/internal/catalog"
	"github.com/smallbiznis/purchaseledger/internal/entitlement/domain"
	"go.uber.org/zap"
)

// Projection publishes the latest snapshot. Readers never block on a rebuild.
type Projection struct {
	log     *zap.Logger
	catalog *catalog.Catalog
	store   domain.Store
	now     func() time.Time

	current atomic.Pointer[Snapshot]

	mu     sync.RWMutex
	subs   map[uint64]func(*Snapshot)
	nextID uint64
}

func New(log *zap.Logger, cat *catalog.Catalog, store domain.Store) *Projection {
	p := &Projection{
		log:     log.Named("projection"),
		catalog: cat,
		store:   store,
		now:     time.Now,
		subs:    make(map[uint64]func(*Snapshot)),
	}
	p.current.Store(Empty(cat))
	return p
}

// Current returns the last published snapshot.
func (p *Projection) Current() *Snapshot {
	return p.current.Load()
}

// Subscribe registers fn to receive every published snapshot. Callbacks run
// on the rebuilding goroutine and must not block.
func (p *Projection) Subscribe(fn func(*Snapshot)) (cancel func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
		})
	}
}

// Rebuild scans the store and publishes a new snapshot. A table that cannot
// be read contributes nothing; the returned error joins one
// KindPersistenceReadFailed per failed table.
func (p *Projection) Rebuild(ctx context.Context) error {
	snap, err := p.build(ctx)
	p.current.Store(snap)

	p.mu.RLock()
	subs := make([]func(*Snapshot), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.RUnlock()
	for _, fn := range subs {
		fn(snap)
	}
	return err
}

func (p *Projection) build(ctx context.Context) (*Snapshot, error) {
	snap := Empty(p.catalog)
	snap.builtAt = p.now().UTC()

	var errs []error

	entitlements, err := p.store.ListEntitlements(ctx)
	if err != nil {
		errs = append(errs, domain.NewError(domain.KindPersistenceReadFailed, "", err))
		p.log.Warn("entitlements unreadable, projecting none", zap.Error(err))
	}
	for _, e := range entitlements {
		id, ok := p.catalog.Lookup(e.ProductID)
		if !ok {
			p.log.Debug("skipping entitlement for unknown product", zap.String("product_id", e.ProductID))
			continue
		}
		snap.owned[id] = struct{}{}
	}

	balances, err := p.store.ListBalances(ctx)
	if err != nil {
		errs = append(errs, domain.NewError(domain.KindPersistenceReadFailed, "", err))
		p.log.Warn("balances unreadable, projecting zero", zap.Error(err))
	}
	for _, b := range balances {
		id, ok := p.catalog.Lookup(b.ProductID)
		if !ok {
			p.log.Debug("skipping balance for unknown product", zap.String("product_id", b.ProductID))
			continue
		}
		snap.balances[id] = b.Quantity
	}

	renewals, err := p.store.ListRenewals(ctx)
	if err != nil {
		errs = append(errs, domain.NewError(domain.KindPersistenceReadFailed, "", err))
		p.log.Warn("renewals unreadable, projecting none", zap.Error(err))
	}
	for _, r := range renewals {
		id, ok := p.catalog.Lookup(r.ProductID)
		if !ok {
			p.log.Debug("skipping renewal for unknown product", zap.String("product_id", r.ProductID))
			continue
		}
		snap.renewals[id] = Renewal{
			RenewsAt:       r.RenewsAt,
			WillAutoRenew:  r.WillAutoRenew,
			InBillingRetry: r.InBillingRetry,
			UpdatedAt:      r.UpdatedAt,
		}
	}

	snap.level = p.catalog.AccessLevel(snap.Owned())
	snap.tier = p.catalog.TierName(snap.level)
	return snap, errors.Join(errs...)
}
