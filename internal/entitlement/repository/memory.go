package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/smallbiznis/purchaseledger/internal/entitlement/domain"
)

var _ domain.Store = (*Memory)(nil)

// Memory is an in-process record store used by tests and local runs.
type Memory struct {
	mu           sync.RWMutex
	entitlements map[string]domain.Entitlement
	balances     map[string]domain.ConsumableBalance
	renewals     map[string]domain.RenewalStatus
	applied      map[string]domain.AppliedTransaction
}

func NewMemory() *Memory {
	return &Memory{
		entitlements: make(map[string]domain.Entitlement),
		balances:     make(map[string]domain.ConsumableBalance),
		renewals:     make(map[string]domain.RenewalStatus),
		applied:      make(map[string]domain.AppliedTransaction),
	}
}

func (m *Memory) UpsertEntitlement(_ context.Context, e domain.Entitlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entitlements[e.ProductID]; exists {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.entitlements[e.ProductID] = e
	return nil
}

func (m *Memory) DeleteEntitlement(_ context.Context, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entitlements, productID)
	return nil
}

func (m *Memory) ListEntitlements(_ context.Context) ([]domain.Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Entitlement, 0, len(m.entitlements))
	for _, e := range m.entitlements {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (m *Memory) FindBalance(_ context.Context, productID string) (*domain.ConsumableBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.balances[productID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *Memory) SaveBalance(_ context.Context, b domain.ConsumableBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b.UpdatedAt = time.Now().UTC()
	m.balances[b.ProductID] = b
	return nil
}

func (m *Memory) IsTransactionApplied(_ context.Context, transactionID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.applied[transactionID]
	return ok, nil
}

func (m *Memory) CreditTransaction(_ context.Context, b domain.ConsumableBalance, applied domain.AppliedTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.applied[applied.TransactionID]; ok {
		return fmt.Errorf("transaction %s already applied", applied.TransactionID)
	}
	now := time.Now().UTC()
	if applied.AppliedAt.IsZero() {
		applied.AppliedAt = now
	}
	b.UpdatedAt = now
	m.applied[applied.TransactionID] = applied
	m.balances[b.ProductID] = b
	return nil
}

func (m *Memory) ListBalances(_ context.Context) ([]domain.ConsumableBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.ConsumableBalance, 0, len(m.balances))
	for _, b := range m.balances {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (m *Memory) UpsertRenewal(_ context.Context, s domain.RenewalStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.UpdatedAt = time.Now().UTC()
	m.renewals[s.ProductID] = s
	return nil
}

func (m *Memory) ListRenewals(_ context.Context) ([]domain.RenewalStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.RenewalStatus, 0, len(m.renewals))
	for _, s := range m.renewals {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}
