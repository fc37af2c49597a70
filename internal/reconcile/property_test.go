package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/smallbiznis/purchaseledger/internal/catalog"
	entdomain "github.com/smallbiznis/purchaseledger/internal/entitlement/domain"
)

// Property: credit q1 then consume q2 <= q1 leaves q1-q2, and a further
// consume of q1-q2+1 fails without changing the balance.
func TestCreditConsumeArithmetic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("balance tracks credits minus consumes", prop.ForAll(
		func(q1, raw int64) bool {
			ctx := context.Background()
			f := newFixture(t)
			q2 := raw % (q1 + 1)

			if f.engine.Credit(ctx, "consumable100", q1) != nil {
				return false
			}
			if q2 > 0 && f.engine.Consume(ctx, "consumable100", q2) != nil {
				return false
			}
			want := q1 - q2
			if f.engine.Snapshot().Balance("consumable100") != want {
				return false
			}

			err := f.engine.Consume(ctx, "consumable100", want+1)
			return errors.Is(err, entdomain.ErrInsufficientBalance) &&
				f.engine.Snapshot().Balance("consumable100") == want
		},
		gen.Int64Range(1, 10_000),
		gen.Int64Range(0, 10_000),
	))

	properties.TestingRun(t)
}

// Property: ownership after any grant/revoke sequence is decided by the
// last operation per product, and replaying the sequence changes nothing.
func TestEntitlementSequencesConverge(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	products := []catalog.ProductID{"pro", "lifetime", "season"}

	properties.Property("last operation wins and replay is idempotent", prop.ForAll(
		func(ops []int) bool {
			ctx := context.Background()
			f := newFixture(t)
			want := map[catalog.ProductID]bool{}

			apply := func() bool {
				for _, op := range ops {
					id := products[op%len(products)]
					grant := op/len(products)%2 == 0
					var err error
					if grant {
						err = f.engine.ApplyTransaction(ctx, txn("t", id, 1))
					} else {
						err = f.engine.ApplyTransaction(ctx, revokedTxn("t", id))
					}
					if err != nil {
						return false
					}
					want[id] = grant
				}
				return true
			}

			if !apply() {
				return false
			}
			first := f.engine.Snapshot()
			if !apply() {
				return false
			}
			second := f.engine.Snapshot()

			for _, id := range products {
				if first.Owns(id) != want[id] || second.Owns(id) != want[id] {
					return false
				}
			}
			return first.AccessLevel() == second.AccessLevel()
		},
		gen.SliceOf(gen.IntRange(0, 5)),
	))

	properties.TestingRun(t)
}

// Property: delivering a set of consumable transactions any number of
// times credits each transaction id exactly once.
func TestConsumableRedeliveryCreditsOnce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("balance is the sum over distinct transactions", prop.ForAll(
		func(quantities []int64, deliveries []int) bool {
			ctx := context.Background()
			f := newFixture(t)

			var want int64
			for i, q := range quantities {
				want += q
				id := fmt.Sprintf("t%d", i)
				times := 1
				if i < len(deliveries) {
					times += deliveries[i]
				}
				for n := 0; n < times; n++ {
					if f.engine.ApplyTransaction(ctx, txn(id, "consumable100", q)) != nil {
						return false
					}
				}
			}
			return f.engine.Snapshot().Balance("consumable100") == want
		},
		gen.SliceOf(gen.Int64Range(1, 1_000)),
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}
