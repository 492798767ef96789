/**
 * @description
 * Redis implementation of the persistence gateway. Every entity is a JSON
 * blob under an entity-scoped key; list appends are read-push-write. The
 * composite ledger commit batches all of its writes into one MULTI/EXEC
 * pipeline so the transaction record and the balance overwrite land
 * together.
 *
 * Read-modify-write cycles run under WATCH on the user key with an
 * optimistic retry loop. Every committed write rewrites user:<id>, so
 * watching that single key serializes all writers for the same user.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sprp/wallet-service/internal/domain"
)

// redisTxRetries bounds the optimistic WATCH retry loop. Contention on a
// single user is a handful of writers at worst, so the bound is generous.
const redisTxRetries = 16

// RedisRepository is a Repository backed by a Redis instance.
type RedisRepository struct {
	client redis.UniversalClient
}

// NewRedisRepository creates a Repository backed by the given Redis client.
func NewRedisRepository(client redis.UniversalClient) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// getJSONTx is getJSON scoped to a WATCH transaction, so the read
// participates in the optimistic conflict check.
func getJSONTx(ctx context.Context, tx *redis.Tx, key string, dest interface{}) (bool, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// watchUser runs txf under WATCH on the user key, retrying when a concurrent
// writer invalidates the transaction.
func (r *RedisRepository) watchUser(ctx context.Context, userID uuid.UUID, txf func(tx *redis.Tx) error) error {
	for i := 0; i < redisTxRetries; i++ {
		err := r.client.Watch(ctx, txf, userKey(userID))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis watch %s: retries exhausted", userKey(userID))
}

// GetUser returns the user aggregate stored under user:<id>.
func (r *RedisRepository) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var user domain.User
	found, err := r.getJSON(ctx, userKey(userID), &user)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

// GetUserByPhone resolves the phone index and loads the user aggregate.
func (r *RedisRepository) GetUserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	idStr, err := r.client.Get(ctx, phoneKey(phone)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", phoneKey(phone), err)
	}
	userID, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt phone index for %s: %w", phone, err)
	}
	return r.GetUser(ctx, userID)
}

// UpdateUser rewrites the user aggregate through fn. The load and the
// write-back run under WATCH on the user key, so the cycle retries instead
// of clobbering a concurrent ledger commit.
func (r *RedisRepository) UpdateUser(ctx context.Context, userID uuid.UUID, fn func(*domain.User) error) (*domain.User, error) {
	var updated *domain.User
	err := r.watchUser(ctx, userID, func(tx *redis.Tx) error {
		var user domain.User
		found, err := getJSONTx(ctx, tx, userKey(userID), &user)
		if err != nil {
			return err
		}
		if !found {
			return ErrUserNotFound
		}
		if err := fn(&user); err != nil {
			return err
		}
		raw, err := json.Marshal(&user)
		if err != nil {
			return fmt.Errorf("encode user: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, userKey(userID), raw, 0)
			pipe.Set(ctx, phoneKey(user.Phone), user.ID.String(), 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = &user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CreateAccount writes a new user record plus its seed data. The phone index
// is claimed first with SETNX so a duplicate registration fails before any
// other key is touched.
func (r *RedisRepository) CreateAccount(ctx context.Context, user *domain.User, seed *AccountSeed) error {
	claimed, err := r.client.SetNX(ctx, phoneKey(user.Phone), user.ID.String(), 0).Result()
	if err != nil {
		return fmt.Errorf("redis claim phone index: %w", err)
	}
	if !claimed {
		return ErrPhoneAlreadyInUse
	}

	userRaw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	txRaw, err := json.Marshal(seed.Transactions)
	if err != nil {
		return fmt.Errorf("encode seed transactions: %w", err)
	}
	statsRaw, err := json.Marshal(seed.MerchantStats)
	if err != nil {
		return fmt.Errorf("encode seed merchant stats: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, userKey(user.ID), userRaw, 0)
		pipe.Set(ctx, txKey(user.ID), txRaw, 0)
		pipe.Set(ctx, loansKey(user.ID), []byte("[]"), 0)
		pipe.Set(ctx, policiesKey(user.ID), []byte("[]"), 0)
		pipe.Set(ctx, merchantKey(user.ID), statsRaw, 0)
		pipe.Set(ctx, hasAccountKey, "1", 0)
		pipe.SAdd(ctx, userIndexKey, user.ID.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis create account: %w", err)
	}
	return nil
}

// HasAnyAccount reports whether any account has ever been created.
func (r *RedisRepository) HasAnyAccount(ctx context.Context) (bool, error) {
	n, err := r.client.Exists(ctx, hasAccountKey).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", hasAccountKey, err)
	}
	return n > 0, nil
}

// ListUserIDs returns the ids of every registered user.
func (r *RedisRepository) ListUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	members, err := r.client.SMembers(ctx, userIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", userIndexKey, err)
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			return nil, fmt.Errorf("corrupt user index entry %q: %w", m, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetTransactions returns the transaction list in stored (append) order.
func (r *RedisRepository) GetTransactions(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error) {
	var txs []domain.Transaction
	if _, err := r.getJSON(ctx, txKey(userID), &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// GetLoans returns the loan list in stored order.
func (r *RedisRepository) GetLoans(ctx context.Context, userID uuid.UUID) ([]domain.Loan, error) {
	var loans []domain.Loan
	if _, err := r.getJSON(ctx, loansKey(userID), &loans); err != nil {
		return nil, err
	}
	return loans, nil
}

// GetPolicies returns the policy list in stored order.
func (r *RedisRepository) GetPolicies(ctx context.Context, userID uuid.UUID) ([]domain.InsurancePolicy, error) {
	var policies []domain.InsurancePolicy
	if _, err := r.getJSON(ctx, policiesKey(userID), &policies); err != nil {
		return nil, err
	}
	return policies, nil
}

// GetMerchantStats returns the merchant aggregate, zero-valued when absent.
func (r *RedisRepository) GetMerchantStats(ctx context.Context, userID uuid.UUID) (*domain.MerchantStats, error) {
	var stats domain.MerchantStats
	if _, err := r.getJSON(ctx, merchantKey(userID), &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// PutMerchantStats overwrites the merchant aggregate.
func (r *RedisRepository) PutMerchantStats(ctx context.Context, userID uuid.UUID, stats *domain.MerchantStats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode merchant stats: %w", err)
	}
	if err := r.client.Set(ctx, merchantKey(userID), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis put merchant stats: %w", err)
	}
	return nil
}

// ApplyLedgerMutation runs build against the aggregate loaded under WATCH
// and commits the appends plus the user overwrite in one MULTI/EXEC
// pipeline. A concurrent writer on the same user invalidates the EXEC and
// the whole cycle retries from the fresh reads.
func (r *RedisRepository) ApplyLedgerMutation(ctx context.Context, userID uuid.UUID, build LedgerMutationFunc) (*domain.User, error) {
	var committed *domain.User
	err := r.watchUser(ctx, userID, func(tx *redis.Tx) error {
		var user domain.User
		found, err := getJSONTx(ctx, tx, userKey(userID), &user)
		if err != nil {
			return err
		}
		if !found {
			return ErrUserNotFound
		}
		var stats domain.MerchantStats
		if _, err := getJSONTx(ctx, tx, merchantKey(userID), &stats); err != nil {
			return err
		}

		mut, err := build(&user, &stats)
		if err != nil {
			return err
		}
		if err := validateMutation(mut); err != nil {
			return err
		}

		var txs []domain.Transaction
		if len(mut.Transactions) > 0 {
			if _, err := getJSONTx(ctx, tx, txKey(userID), &txs); err != nil {
				return err
			}
			txs = append(txs, mut.Transactions...)
		}
		var loans []domain.Loan
		if mut.Loan != nil {
			if _, err := getJSONTx(ctx, tx, loansKey(userID), &loans); err != nil {
				return err
			}
			loans = append(loans, *mut.Loan)
		}
		var policies []domain.InsurancePolicy
		if mut.Policy != nil {
			if _, err := getJSONTx(ctx, tx, policiesKey(userID), &policies); err != nil {
				return err
			}
			policies = append(policies, *mut.Policy)
		}

		userRaw, err := json.Marshal(&user)
		if err != nil {
			return fmt.Errorf("encode user: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(mut.Transactions) > 0 {
				raw, err := json.Marshal(txs)
				if err != nil {
					return fmt.Errorf("encode transactions: %w", err)
				}
				pipe.Set(ctx, txKey(userID), raw, 0)
			}
			if mut.Loan != nil {
				raw, err := json.Marshal(loans)
				if err != nil {
					return fmt.Errorf("encode loans: %w", err)
				}
				pipe.Set(ctx, loansKey(userID), raw, 0)
			}
			if mut.Policy != nil {
				raw, err := json.Marshal(policies)
				if err != nil {
					return fmt.Errorf("encode policies: %w", err)
				}
				pipe.Set(ctx, policiesKey(userID), raw, 0)
			}
			if mut.MerchantStats != nil {
				raw, err := json.Marshal(mut.MerchantStats)
				if err != nil {
					return fmt.Errorf("encode merchant stats: %w", err)
				}
				pipe.Set(ctx, merchantKey(userID), raw, 0)
			}
			pipe.Set(ctx, userKey(userID), userRaw, 0)
			return nil
		})
		if err != nil {
			return err
		}
		committed = &user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}
