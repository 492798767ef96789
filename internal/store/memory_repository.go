/**
 * @description
 * In-memory implementation of the persistence gateway. Values are kept as
 * marshaled JSON under the same key scheme as the real backends, so the
 * whole-value read/overwrite semantics (and their serialization quirks) are
 * exercised identically. Used by the test suite and by the standalone demo
 * mode when no Redis or Postgres backend is configured.
 */

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sprp/wallet-service/internal/domain"
)

// MemoryRepository is a Repository backed by a process-local map.
type MemoryRepository struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{data: make(map[string][]byte)}
}

func (r *MemoryRepository) getLocked(key string, dest interface{}) (bool, error) {
	raw, ok := r.data[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (r *MemoryRepository) putLocked(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	r.data[key] = raw
	return nil
}

// GetUser returns the user aggregate stored under user:<id>.
func (r *MemoryRepository) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var user domain.User
	found, err := r.getLocked(userKey(userID), &user)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

// GetUserByPhone resolves the phone index and loads the user aggregate.
func (r *MemoryRepository) GetUserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var idStr string
	found, err := r.getLocked(phoneKey(phone), &idStr)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrUserNotFound
	}
	userID, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt phone index for %s: %w", phone, err)
	}
	var user domain.User
	found, err = r.getLocked(userKey(userID), &user)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

// UpdateUser rewrites the user aggregate through fn. The whole
// read-modify-write cycle runs under the store lock so a concurrent ledger
// commit cannot slip between the load and the write-back.
func (r *MemoryRepository) UpdateUser(ctx context.Context, userID uuid.UUID, fn func(*domain.User) error) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var user domain.User
	found, err := r.getLocked(userKey(userID), &user)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrUserNotFound
	}
	if err := fn(&user); err != nil {
		return nil, err
	}
	if err := r.putLocked(userKey(userID), &user); err != nil {
		return nil, err
	}
	if err := r.putLocked(phoneKey(user.Phone), user.ID.String()); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateAccount writes a new user record plus its seed data under one lock.
func (r *MemoryRepository) CreateAccount(ctx context.Context, user *domain.User, seed *AccountSeed) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[phoneKey(user.Phone)]; ok {
		return ErrPhoneAlreadyInUse
	}
	if err := r.putLocked(userKey(user.ID), user); err != nil {
		return err
	}
	if err := r.putLocked(phoneKey(user.Phone), user.ID.String()); err != nil {
		return err
	}
	if err := r.putLocked(txKey(user.ID), seed.Transactions); err != nil {
		return err
	}
	if err := r.putLocked(loansKey(user.ID), []domain.Loan{}); err != nil {
		return err
	}
	if err := r.putLocked(policiesKey(user.ID), []domain.InsurancePolicy{}); err != nil {
		return err
	}
	if err := r.putLocked(merchantKey(user.ID), seed.MerchantStats); err != nil {
		return err
	}
	return r.putLocked(hasAccountKey, true)
}

// HasAnyAccount reports whether any account has ever been created.
func (r *MemoryRepository) HasAnyAccount(ctx context.Context) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var flag bool
	found, err := r.getLocked(hasAccountKey, &flag)
	if err != nil {
		return false, err
	}
	return found && flag, nil
}

// ListUserIDs scans the user keyspace.
func (r *MemoryRepository) ListUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []uuid.UUID
	for key := range r.data {
		if !strings.HasPrefix(key, "user:") {
			continue
		}
		id, err := uuid.Parse(strings.TrimPrefix(key, "user:"))
		if err != nil {
			return nil, fmt.Errorf("corrupt user key %q: %w", key, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetTransactions returns the transaction list in stored (append) order.
func (r *MemoryRepository) GetTransactions(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var txs []domain.Transaction
	if _, err := r.getLocked(txKey(userID), &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// GetLoans returns the loan list in stored order.
func (r *MemoryRepository) GetLoans(ctx context.Context, userID uuid.UUID) ([]domain.Loan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var loans []domain.Loan
	if _, err := r.getLocked(loansKey(userID), &loans); err != nil {
		return nil, err
	}
	return loans, nil
}

// GetPolicies returns the policy list in stored order.
func (r *MemoryRepository) GetPolicies(ctx context.Context, userID uuid.UUID) ([]domain.InsurancePolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var policies []domain.InsurancePolicy
	if _, err := r.getLocked(policiesKey(userID), &policies); err != nil {
		return nil, err
	}
	return policies, nil
}

// GetMerchantStats returns the merchant aggregate, zero-valued when absent.
func (r *MemoryRepository) GetMerchantStats(ctx context.Context, userID uuid.UUID) (*domain.MerchantStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.MerchantStats
	if _, err := r.getLocked(merchantKey(userID), &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// PutMerchantStats overwrites the merchant aggregate.
func (r *MemoryRepository) PutMerchantStats(ctx context.Context, userID uuid.UUID, stats *domain.MerchantStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putLocked(merchantKey(userID), stats)
}

// ApplyLedgerMutation runs build against the stored aggregate and appends
// its records, all under a single lock acquisition. Nothing is written when
// build fails.
func (r *MemoryRepository) ApplyLedgerMutation(ctx context.Context, userID uuid.UUID, build LedgerMutationFunc) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var user domain.User
	found, err := r.getLocked(userKey(userID), &user)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrUserNotFound
	}
	var stats domain.MerchantStats
	if _, err := r.getLocked(merchantKey(userID), &stats); err != nil {
		return nil, err
	}

	mut, err := build(&user, &stats)
	if err != nil {
		return nil, err
	}
	if err := validateMutation(mut); err != nil {
		return nil, err
	}

	if len(mut.Transactions) > 0 {
		var txs []domain.Transaction
		if _, err := r.getLocked(txKey(userID), &txs); err != nil {
			return nil, err
		}
		txs = append(txs, mut.Transactions...)
		if err := r.putLocked(txKey(userID), txs); err != nil {
			return nil, err
		}
	}
	if mut.Loan != nil {
		var loans []domain.Loan
		if _, err := r.getLocked(loansKey(userID), &loans); err != nil {
			return nil, err
		}
		loans = append(loans, *mut.Loan)
		if err := r.putLocked(loansKey(userID), loans); err != nil {
			return nil, err
		}
	}
	if mut.Policy != nil {
		var policies []domain.InsurancePolicy
		if _, err := r.getLocked(policiesKey(userID), &policies); err != nil {
			return nil, err
		}
		policies = append(policies, *mut.Policy)
		if err := r.putLocked(policiesKey(userID), policies); err != nil {
			return nil, err
		}
	}
	if mut.MerchantStats != nil {
		if err := r.putLocked(merchantKey(userID), mut.MerchantStats); err != nil {
			return nil, err
		}
	}
	if err := r.putLocked(userKey(userID), &user); err != nil {
		return nil, err
	}
	return &user, nil
}
