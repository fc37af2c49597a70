// Package projection derives the read-only view of the ledger that every
// query is answered from.
package projection

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/smallbiznis/purchaseledger/internal/catalog"
)

// Renewal is the renewal outlook kept for a subscription product.
type Renewal struct {
	RenewsAt       *time.Time `json:"renews_at,omitempty"`
	WillAutoRenew  bool       `json:"will_auto_renew"`
	InBillingRetry bool       `json:"in_billing_retry"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Snapshot is an immutable view of the ledger at one point in time.
type Snapshot struct {
	owned    map[catalog.ProductID]struct{}
	balances map[catalog.ProductID]int64
	renewals map[catalog.ProductID]Renewal
	level    catalog.AccessLevel
	tier     string
	builtAt  time.Time
}

// Empty is the snapshot of a ledger with no records.
func Empty(cat *catalog.Catalog) *Snapshot {
	return &Snapshot{
		owned:    map[catalog.ProductID]struct{}{},
		balances: map[catalog.ProductID]int64{},
		renewals: map[catalog.ProductID]Renewal{},
		level:    catalog.Floor,
		tier:     cat.TierName(catalog.Floor),
	}
}

// Owned returns the owned products sorted by identifier.
func (s *Snapshot) Owned() []catalog.ProductID {
	out := make([]catalog.ProductID, 0, len(s.owned))
	for id := range s.owned {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Snapshot) Owns(id catalog.ProductID) bool {
	_, ok := s.owned[id]
	return ok
}

// Balance returns the remaining quantity of id, zero when never credited.
func (s *Snapshot) Balance(id catalog.ProductID) int64 {
	return s.balances[id]
}

// Renewal returns the stored outlook of id. False means unknown.
func (s *Snapshot) Renewal(id catalog.ProductID) (Renewal, bool) {
	r, ok := s.renewals[id]
	return r, ok
}

func (s *Snapshot) AccessLevel() catalog.AccessLevel { return s.level }

// Tier is the configured name of AccessLevel.
func (s *Snapshot) Tier() string { return s.tier }

func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

type snapshotJSON struct {
	Owned       []catalog.ProductID           `json:"owned"`
	Balances    map[catalog.ProductID]int64   `json:"balances"`
	Renewals    map[catalog.ProductID]Renewal `json:"renewals"`
	AccessLevel catalog.AccessLevel           `json:"access_level"`
	Tier        string                        `json:"tier"`
	BuiltAt     time.Time                     `json:"built_at"`
}

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	balances := make(map[catalog.ProductID]int64, len(s.balances))
	for id, q := range s.balances {
		balances[id] = q
	}
	renewals := make(map[catalog.ProductID]Renewal, len(s.renewals))
	for id, r := range s.renewals {
		renewals[id] = r
	}
	return json.Marshal(snapshotJSON{
		Owned:       s.Owned(),
		Balances:    balances,
		Renewals:    renewals,
		AccessLevel: s.level,
		Tier:        s.tier,
		BuiltAt:     s.builtAt,
	})
}
