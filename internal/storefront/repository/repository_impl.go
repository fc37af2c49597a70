package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/purchaseledger/internal/storefront/domain"
	pkgdb "github.com/smallbiznis/purchaseledger/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

// AutoMigrate creates the feed tables for dialects without SQL migrations.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(&domain.TransactionRecord{}, &domain.RenewalRecord{})
}

func (r *repo) FindTransaction(ctx context.Context, transactionID string) (*domain.TransactionRecord, error) {
	var rows []domain.TransactionRecord
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) InsertTransaction(ctx context.Context, record *domain.TransactionRecord) error {
	err := r.db.WithContext(ctx).Create(record).Error
	if pkgdb.IsDuplicateKeyErr(err) {
		return domain.ErrDuplicateTransaction
	}
	return err
}

func (r *repo) UpdateTransaction(ctx context.Context, record *domain.TransactionRecord) error {
	return r.db.WithContext(ctx).
		Model(&domain.TransactionRecord{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"product_id":   record.ProductID,
			"kind":         record.Kind,
			"quantity":     record.Quantity,
			"purchased_at": record.PurchasedAt,
			"revoked_at":   record.RevokedAt,
			"expires_at":   record.ExpiresAt,
			"verified":     record.Verified,
			"pending":      record.Pending,
			"reason":       record.Reason,
			"payload":      record.Payload,
			"finished_at":  record.FinishedAt,
			"updated_at":   record.UpdatedAt,
		}).Error
}

func (r *repo) ListTransactions(ctx context.Context, afterID snowflake.ID, limit int) ([]domain.TransactionRecord, error) {
	var rows []domain.TransactionRecord
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) MarkFinished(ctx context.Context, transactionID string, finishedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.TransactionRecord{}).
		Where("transaction_id = ? AND finished_at IS NULL", transactionID).
		Updates(map[string]any{"finished_at": finishedAt, "updated_at": finishedAt})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&domain.TransactionRecord{}).
		Where("transaction_id = ?", transactionID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) UpsertRenewal(ctx context.Context, record *domain.RenewalRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"renews_at", "will_auto_renew", "in_billing_retry", "verified", "reason", "updated_at",
			}),
		}).
		Create(record).Error
}

func (r *repo) FindRenewal(ctx context.Context, productID string) (*domain.RenewalRecord, error) {
	var rows []domain.RenewalRecord
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
