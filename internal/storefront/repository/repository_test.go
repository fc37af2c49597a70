package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/purchaseledger/internal/storefront/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func setupRepo(t *testing.T) domain.Repository {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, AutoMigrate(context.Background(), db))

	return Provide(db)
}

func record(id snowflake.ID, transactionID, productID string) *domain.TransactionRecord {
	return &domain.TransactionRecord{
		ID:            id,
		TransactionID: transactionID,
		ProductID:     productID,
		Kind:          "non_consumable",
		Quantity:      1,
		PurchasedAt:   testNow,
		Verified:      true,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
}

func TestInsertDuplicateTransactionIsReported(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertTransaction(ctx, record(1, "t1", "pro")))
	err := repo.InsertTransaction(ctx, record(2, "t1", "pro"))
	assert.ErrorIs(t, err, domain.ErrDuplicateTransaction)

	found, err := repo.FindTransaction(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, snowflake.ID(1), found.ID)
}

func TestFindTransactionAbsentIsNil(t *testing.T) {
	repo := setupRepo(t)

	found, err := repo.FindTransaction(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestListTransactionsPagesByID(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, repo.InsertTransaction(ctx, record(snowflake.ID(i), fmt.Sprintf("t%d", i), "pro")))
	}

	first, err := repo.ListTransactions(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "t1", first[0].TransactionID)

	rest, err := repo.ListTransactions(ctx, first[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 3)
	assert.Equal(t, "t3", rest[0].TransactionID)
	assert.Equal(t, "t5", rest[2].TransactionID)
}

func TestMarkFinished(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.InsertTransaction(ctx, record(1, "t1", "pro")))

	found, err := repo.MarkFinished(ctx, "t1", testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, found)

	found, err = repo.MarkFinished(ctx, "t1", testNow.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, found)

	stored, err := repo.FindTransaction(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, stored.FinishedAt)
	assert.True(t, stored.FinishedAt.Equal(testNow.Add(time.Minute)))

	found, err = repo.MarkFinished(ctx, "unknown", testNow)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpdateTransactionClearsFinished(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.InsertTransaction(ctx, record(1, "t1", "pro")))
	_, err := repo.MarkFinished(ctx, "t1", testNow)
	require.NoError(t, err)

	stored, err := repo.FindTransaction(ctx, "t1")
	require.NoError(t, err)
	revokedAt := testNow.Add(time.Hour)
	stored.RevokedAt = &revokedAt
	stored.FinishedAt = nil
	stored.UpdatedAt = revokedAt
	require.NoError(t, repo.UpdateTransaction(ctx, stored))

	stored, err = repo.FindTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, stored.FinishedAt)
	require.NotNil(t, stored.RevokedAt)
	assert.True(t, stored.RevokedAt.Equal(revokedAt))
}

func TestUpsertRenewalOverwrites(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	renewsAt := testNow.Add(30 * 24 * time.Hour)

	require.NoError(t, repo.UpsertRenewal(ctx, &domain.RenewalRecord{
		ProductID: "monthly", RenewsAt: &renewsAt, WillAutoRenew: true, Verified: true, UpdatedAt: testNow,
	}))
	require.NoError(t, repo.UpsertRenewal(ctx, &domain.RenewalRecord{
		ProductID: "monthly", InBillingRetry: true, Verified: true, UpdatedAt: testNow.Add(time.Hour),
	}))

	stored, err := repo.FindRenewal(ctx, "monthly")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Nil(t, stored.RenewsAt)
	assert.False(t, stored.WillAutoRenew)
	assert.True(t, stored.InBillingRetry)

	missing, err := repo.FindRenewal(ctx, "yearly")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
