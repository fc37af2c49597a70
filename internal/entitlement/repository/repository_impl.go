package repository

import (
	"context"

	"github.com/smallbiznis/purchaseledger/internal/entitlement/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ domain.Store = (*repo)(nil)

type repo struct {
	db *gorm.DB
}

// Provide returns a gorm-backed record store.
func Provide(db *gorm.DB) domain.Store {
	return &repo{db: db}
}

// AutoMigrate creates the ledger tables for dialects without SQL migrations.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(
		&domain.Entitlement{},
		&domain.ConsumableBalance{},
		&domain.RenewalStatus{},
		&domain.AppliedTransaction{},
	)
}

func (r *repo) UpsertEntitlement(ctx context.Context, e domain.Entitlement) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}},
			DoNothing: true,
		}).
		Create(&e).Error
}

func (r *repo) DeleteEntitlement(ctx context.Context, productID string) error {
	return r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Delete(&domain.Entitlement{}).Error
}

func (r *repo) ListEntitlements(ctx context.Context) ([]domain.Entitlement, error) {
	var rows []domain.Entitlement
	if err := r.db.WithContext(ctx).Order("product_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) FindBalance(ctx context.Context, productID string) (*domain.ConsumableBalance, error) {
	var rows []domain.ConsumableBalance
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

func (r *repo) SaveBalance(ctx context.Context, b domain.ConsumableBalance) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"quantity", "updated_at"}),
		}).
		Create(&b).Error
}

func (r *repo) IsTransactionApplied(ctx context.Context, transactionID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.AppliedTransaction{}).
		Where("transaction_id = ?", transactionID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) CreditTransaction(ctx context.Context, b domain.ConsumableBalance, applied domain.AppliedTransaction) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&applied).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"quantity", "updated_at"}),
		}).Create(&b).Error
	})
}

func (r *repo) ListBalances(ctx context.Context) ([]domain.ConsumableBalance, error) {
	var rows []domain.ConsumableBalance
	if err := r.db.WithContext(ctx).Order("product_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) UpsertRenewal(ctx context.Context, s domain.RenewalStatus) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"renews_at", "will_auto_renew", "in_billing_retry", "updated_at",
			}),
		}).
		Create(&s).Error
}

func (r *repo) ListRenewals(ctx context.Context) ([]domain.RenewalStatus, error) {
	var rows []domain.RenewalStatus
	if err := r.db.WithContext(ctx).Order("product_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
