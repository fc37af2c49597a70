// Package storefront is the webhook-fed transaction feed the ledger
// reconciles against. Notifications from the commerce authority are kept in
// a transaction log, replayed on demand and fanned out live.
package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/purchaseledger/internal/catalog"
	"github.com/smallbiznis/purchaseledger/internal/clock"
	obsmetrics "github.com/smallbiznis/purchaseledger/internal/observability/metrics"
	"github.com/smallbiznis/purchaseledger/internal/storefront/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const pageSize = 200

var (
	_ domain.Source         = (*Service)(nil)
	_ domain.RenewalQuerier = (*Service)(nil)
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Repo       domain.Repository
	GenID      *snowflake.Node
	Hub        *Hub
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	repo       domain.Repository
	genID      *snowflake.Node
	hub        *Hub
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		log:        p.Log.Named("storefront.service"),
		repo:       p.Repo,
		genID:      p.GenID,
		hub:        p.Hub,
		clock:      clk,
		obsMetrics: p.ObsMetrics,
	}
}

// Ingest records an authority notification. A transaction already recorded
// in the same state is deduplicated and not published again; a changed one
// (for example a later revocation) becomes unfinished and is republished.
// A finished consumable is only reopened by its revocation; other changes
// are recorded without redelivery.
func (s *Service) Ingest(ctx context.Context, n domain.Notification) (domain.IngestResult, error) {
	if n.Transaction == nil && n.Renewal == nil {
		return domain.IngestResult{}, domain.ErrInvalidPayload
	}

	var result domain.IngestResult
	now := s.clock.Now()

	if n.Renewal != nil {
		productID := strings.TrimSpace(n.Renewal.ProductID)
		if productID == "" {
			return domain.IngestResult{}, domain.ErrInvalidProductID
		}
		record := &domain.RenewalRecord{
			ProductID:      productID,
			RenewsAt:       n.Renewal.RenewsAt,
			WillAutoRenew:  n.Renewal.WillAutoRenew,
			InBillingRetry: n.Renewal.InBillingRetry,
			Verified:       n.Renewal.Verified,
			Reason:         strings.TrimSpace(n.Renewal.Reason),
			UpdatedAt:      now,
		}
		if err := s.repo.UpsertRenewal(ctx, record); err != nil {
			return domain.IngestResult{}, err
		}
		result.RenewalRecorded = true
	}

	if n.Transaction != nil {
		status, err := s.ingestTransaction(ctx, *n.Transaction, auditPayload(n), now)
		if err != nil {
			return domain.IngestResult{}, err
		}
		result.TransactionStatus = status
		s.obsMetrics.RecordNotification(ctx, status)
	}

	return result, nil
}

func (s *Service) ingestTransaction(ctx context.Context, in domain.VerificationResult, payload []byte, now time.Time) (string, error) {
	in.TransactionID = strings.TrimSpace(in.TransactionID)
	in.ProductID = strings.TrimSpace(in.ProductID)
	in.Kind = strings.TrimSpace(in.Kind)
	in.Reason = strings.TrimSpace(in.Reason)
	if in.TransactionID == "" {
		return "", domain.ErrInvalidTransactionID
	}
	if in.ProductID == "" {
		return "", domain.ErrInvalidProductID
	}
	if in.PurchasedAt.IsZero() {
		in.PurchasedAt = now
	}

	existing, err := s.repo.FindTransaction(ctx, in.TransactionID)
	if err != nil {
		return "", err
	}

	switch {
	case existing == nil:
		record := &domain.TransactionRecord{
			ID:        s.genID.Generate(),
			CreatedAt: now,
		}
		applyResult(record, in, payload, now)
		if err := s.repo.InsertTransaction(ctx, record); err != nil {
			if errors.Is(err, domain.ErrDuplicateTransaction) {
				// A concurrent delivery of the same transaction was recorded first.
				return domain.StatusDeduplicated, nil
			}
			return "", err
		}
	case sameState(existing.Result(), in):
		s.log.Debug("duplicate notification", zap.String("transaction_id", in.TransactionID))
		return domain.StatusDeduplicated, nil
	case settledCredit(existing, in):
		applyResult(existing, in, payload, now)
		if err := s.repo.UpdateTransaction(ctx, existing); err != nil {
			return "", err
		}
		s.log.Debug("change to settled consumable recorded",
			zap.String("transaction_id", in.TransactionID),
		)
		return domain.StatusRecorded, nil
	default:
		applyResult(existing, in, payload, now)
		existing.FinishedAt = nil
		if err := s.repo.UpdateTransaction(ctx, existing); err != nil {
			return "", err
		}
	}

	if err := s.hub.Publish(ctx, in); err != nil {
		s.log.Warn("live publish abandoned, transaction left for replay",
			zap.String("transaction_id", in.TransactionID),
			zap.Error(err),
		)
	}
	return domain.StatusAccepted, nil
}

// settledCredit reports whether existing is a finished consumable that in
// changes without revoking it. Its credit is final, so it is not redelivered.
func settledCredit(existing *domain.TransactionRecord, in domain.VerificationResult) bool {
	if existing.FinishedAt == nil || existing.Pending {
		return false
	}
	if catalog.ParseKind(existing.Kind) != catalog.KindConsumable {
		return false
	}
	return existing.RevokedAt != nil || in.RevokedAt == nil
}

// auditPayload returns the body n was decoded from, or its JSON form.
func auditPayload(n domain.Notification) []byte {
	if len(n.Raw) > 0 && json.Valid(n.Raw) {
		return n.Raw
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return nil
	}
	return payload
}

func applyResult(record *domain.TransactionRecord, in domain.VerificationResult, payload []byte, now time.Time) {
	record.TransactionID = in.TransactionID
	record.ProductID = in.ProductID
	record.Kind = in.Kind
	record.Quantity = in.Quantity
	record.PurchasedAt = in.PurchasedAt
	record.RevokedAt = in.RevokedAt
	record.ExpiresAt = in.ExpiresAt
	record.Verified = in.Verified
	record.Pending = in.Pending
	record.Reason = in.Reason
	if len(payload) > 0 {
		record.Payload = datatypes.JSON(payload)
	}
	record.UpdatedAt = now
}

func sameState(a, b domain.VerificationResult) bool {
	return a.ProductID == b.ProductID &&
		a.Kind == b.Kind &&
		a.Quantity == b.Quantity &&
		a.PurchasedAt.Equal(b.PurchasedAt) &&
		sameTime(a.RevokedAt, b.RevokedAt) &&
		sameTime(a.ExpiresAt, b.ExpiresAt) &&
		a.Verified == b.Verified &&
		a.Pending == b.Pending &&
		a.Reason == b.Reason
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// History streams the transaction log in arrival order. Finished consumable
// transactions are omitted: their credit has already been applied.
func (s *Service) History(ctx context.Context) (<-chan domain.VerificationResult, <-chan error) {
	return s.stream(ctx, func(records []domain.TransactionRecord, emit func(domain.VerificationResult) bool) bool {
		for _, record := range records {
			if record.FinishedAt != nil && catalog.ParseKind(record.Kind) == catalog.KindConsumable {
				continue
			}
			if !emit(record.Result()) {
				return false
			}
		}
		return true
	}, nil)
}

// CurrentEntitlements streams the latest settled transaction of every
// entitlement-like product that is not revoked. Pending purchases are skipped.
func (s *Service) CurrentEntitlements(ctx context.Context) (<-chan domain.VerificationResult, <-chan error) {
	latest := make(map[string]domain.TransactionRecord)
	return s.stream(ctx, func(records []domain.TransactionRecord, _ func(domain.VerificationResult) bool) bool {
		for _, record := range records {
			if !catalog.ParseKind(record.Kind).EntitlementLike() || record.Pending {
				continue
			}
			latest[record.ProductID] = record
		}
		return true
	}, func(emit func(domain.VerificationResult) bool) {
		ids := make([]string, 0, len(latest))
		for id := range latest {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			record := latest[id]
			if record.RevokedAt != nil {
				continue
			}
			if !emit(record.Result()) {
				return
			}
		}
	})
}

func (s *Service) stream(
	ctx context.Context,
	page func([]domain.TransactionRecord, func(domain.VerificationResult) bool) bool,
	done func(func(domain.VerificationResult) bool),
) (<-chan domain.VerificationResult, <-chan error) {
	out := make(chan domain.VerificationResult)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(out)

		emit := func(result domain.VerificationResult) bool {
			select {
			case out <- result:
				return true
			case <-ctx.Done():
				errs <- ctx.Err()
				return false
			}
		}

		var after snowflake.ID
		for {
			if err := ctx.Err(); err != nil {
				errs <- err
				return
			}
			records, err := s.repo.ListTransactions(ctx, after, pageSize)
			if err != nil {
				errs <- err
				return
			}
			if len(records) == 0 {
				break
			}
			if !page(records, emit) {
				return
			}
			after = records[len(records)-1].ID
			if len(records) < pageSize {
				break
			}
		}
		if done != nil {
			done(emit)
		}
	}()

	return out, errs
}

func (s *Service) Updates(context.Context) (domain.Subscription, error) {
	return s.hub.Subscribe()
}

func (s *Service) Finish(ctx context.Context, transactionID string) error {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return domain.ErrInvalidTransactionID
	}
	found, err := s.repo.MarkFinished(ctx, transactionID, s.clock.Now())
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrTransactionNotFound
	}
	return nil
}

func (s *Service) RenewalOutlook(ctx context.Context, productID string) (*domain.RenewalOutlook, error) {
	record, err := s.repo.FindRenewal(ctx, strings.TrimSpace(productID))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	outlook := record.Outlook()
	return &outlook, nil
}
