/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. Entities keep the same entity-scoped key scheme as the Redis
 * backend; values live as jsonb in a single `kv_entries` table, read and
 * overwritten whole. The composite ledger commit runs inside a database
 * transaction with the user row locked, so the record append and the
 * balance overwrite are atomic.
 *
 * @dependencies
 * - context, encoding/json, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sprp/wallet-service/internal/domain"
)

// pgExecutor is satisfied by both *pgxpool.Pool and pgx.Tx so the kv helpers
// work inside and outside a transaction.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is a Repository backed by a PostgreSQL kv table.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the kv table if it does not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS kv_entries (
			key        TEXT PRIMARY KEY,
			value      JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("ensure kv schema: %w", err)
	}
	return nil
}

func getValue(ctx context.Context, q pgExecutor, key string, dest interface{}) (bool, error) {
	var raw []byte
	err := q.QueryRow(ctx, "SELECT value FROM kv_entries WHERE key = $1", key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kv get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func putValue(ctx context.Context, q pgExecutor, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO kv_entries (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, raw)
	if err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

// GetUser returns the user aggregate stored under user:<id>.
func (r *PostgresRepository) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var user domain.User
	found, err := getValue(ctx, r.db, userKey(userID), &user)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

// GetUserByPhone resolves the phone index and loads the user aggregate.
func (r *PostgresRepository) GetUserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	var idStr string
	found, err := getValue(ctx, r.db, phoneKey(phone), &idStr)
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
	return r.GetUser(ctx, userID)
}

// lockUser loads the user aggregate inside tx with its row locked, so the
// caller's read-modify-write serializes against every other writer.
func lockUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.User, error) {
	var raw []byte
	err := tx.QueryRow(ctx, "SELECT value FROM kv_entries WHERE key = $1 FOR UPDATE", userKey(userID)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock user row: %w", err)
	}
	var user domain.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("decode %s: %w", userKey(userID), err)
	}
	return &user, nil
}

// UpdateUser rewrites the user aggregate through fn inside a transaction
// that holds the row lock for the whole read-modify-write cycle.
func (r *PostgresRepository) UpdateUser(ctx context.Context, userID uuid.UUID, fn func(*domain.User) error) (*domain.User, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update user: %w", err)
	}
	defer tx.Rollback(ctx)

	user, err := lockUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if err := fn(user); err != nil {
		return nil, err
	}
	if err := putValue(ctx, tx, userKey(userID), user); err != nil {
		return nil, err
	}
	if err := putValue(ctx, tx, phoneKey(user.Phone), user.ID.String()); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update user: %w", err)
	}
	return user, nil
}

// CreateAccount writes a new user record plus its seed data in one
// transaction. A duplicate phone number fails before anything is written.
func (r *PostgresRepository) CreateAccount(ctx context.Context, user *domain.User, seed *AccountSeed) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create account: %w", err)
	}
	defer tx.Rollback(ctx)

	var existing string
	found, err := getValue(ctx, tx, phoneKey(user.Phone), &existing)
	if err != nil {
		return err
	}
	if found {
		return ErrPhoneAlreadyInUse
	}

	if err := putValue(ctx, tx, userKey(user.ID), user); err != nil {
		return err
	}
	if err := putValue(ctx, tx, phoneKey(user.Phone), user.ID.String()); err != nil {
		return err
	}
	if err := putValue(ctx, tx, txKey(user.ID), seed.Transactions); err != nil {
		return err
	}
	if err := putValue(ctx, tx, loansKey(user.ID), []domain.Loan{}); err != nil {
		return err
	}
	if err := putValue(ctx, tx, policiesKey(user.ID), []domain.InsurancePolicy{}); err != nil {
		return err
	}
	if err := putValue(ctx, tx, merchantKey(user.ID), seed.MerchantStats); err != nil {
		return err
	}
	if err := putValue(ctx, tx, hasAccountKey, true); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// HasAnyAccount reports whether any account has ever been created.
func (r *PostgresRepository) HasAnyAccount(ctx context.Context) (bool, error) {
	var flag bool
	found, err := getValue(ctx, r.db, hasAccountKey, &flag)
	if err != nil {
		return false, err
	}
	return found && flag, nil
}

// ListUserIDs scans the user keyspace. The kv table stays small (one row per
// entity per user) so a prefix scan is fine here.
func (r *PostgresRepository) ListUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, "SELECT key FROM kv_entries WHERE key LIKE 'user:%'")
	if err != nil {
		return nil, fmt.Errorf("kv scan users: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("kv scan users: %w", err)
		}
		id, err := uuid.Parse(strings.TrimPrefix(key, "user:"))
		if err != nil {
			return nil, fmt.Errorf("corrupt user key %q: %w", key, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetTransactions returns the transaction list in stored (append) order.
func (r *PostgresRepository) GetTransactions(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error) {
	var txs []domain.Transaction
	if _, err := getValue(ctx, r.db, txKey(userID), &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// GetLoans returns the loan list in stored order.
func (r *PostgresRepository) GetLoans(ctx context.Context, userID uuid.UUID) ([]domain.Loan, error) {
	var loans []domain.Loan
	if _, err := getValue(ctx, r.db, loansKey(userID), &loans); err != nil {
		return nil, err
	}
	return loans, nil
}

// GetPolicies returns the policy list in stored order.
func (r *PostgresRepository) GetPolicies(ctx context.Context, userID uuid.UUID) ([]domain.InsurancePolicy, error) {
	var policies []domain.InsurancePolicy
	if _, err := getValue(ctx, r.db, policiesKey(userID), &policies); err != nil {
		return nil, err
	}
	return policies, nil
}

// GetMerchantStats returns the merchant aggregate, zero-valued when absent.
func (r *PostgresRepository) GetMerchantStats(ctx context.Context, userID uuid.UUID) (*domain.MerchantStats, error) {
	var stats domain.MerchantStats
	if _, err := getValue(ctx, r.db, merchantKey(userID), &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// PutMerchantStats overwrites the merchant aggregate.
func (r *PostgresRepository) PutMerchantStats(ctx context.Context, userID uuid.UUID, stats *domain.MerchantStats) error {
	return putValue(ctx, r.db, merchantKey(userID), stats)
}

// ApplyLedgerMutation runs build against the aggregate loaded under the row
// lock and appends its records inside the same transaction, so concurrent
// commits against the same user serialize and never clobber each other.
func (r *PostgresRepository) ApplyLedgerMutation(ctx context.Context, userID uuid.UUID, build LedgerMutationFunc) (*domain.User, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin ledger commit: %w", err)
	}
	defer tx.Rollback(ctx)

	user, err := lockUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	var stats domain.MerchantStats
	if _, err := getValue(ctx, tx, merchantKey(userID), &stats); err != nil {
		return nil, err
	}

	mut, err := build(user, &stats)
	if err != nil {
		return nil, err
	}
	if err := validateMutation(mut); err != nil {
		return nil, err
	}

	if len(mut.Transactions) > 0 {
		var txs []domain.Transaction
		if _, err := getValue(ctx, tx, txKey(userID), &txs); err != nil {
			return nil, err
		}
		txs = append(txs, mut.Transactions...)
		if err := putValue(ctx, tx, txKey(userID), txs); err != nil {
			return nil, err
		}
	}
	if mut.Loan != nil {
		var loans []domain.Loan
		if _, err := getValue(ctx, tx, loansKey(userID), &loans); err != nil {
			return nil, err
		}
		loans = append(loans, *mut.Loan)
		if err := putValue(ctx, tx, loansKey(userID), loans); err != nil {
			return nil, err
		}
	}
	if mut.Policy != nil {
		var policies []domain.InsurancePolicy
		if _, err := getValue(ctx, tx, policiesKey(userID), &policies); err != nil {
			return nil, err
		}
		policies = append(policies, *mut.Policy)
		if err := putValue(ctx, tx, policiesKey(userID), policies); err != nil {
			return nil, err
		}
	}
	if mut.MerchantStats != nil {
		if err := putValue(ctx, tx, merchantKey(userID), mut.MerchantStats); err != nil {
			return nil, err
		}
	}
	if err := putValue(ctx, tx, userKey(userID), user); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger mutation: %w", err)
	}
	return user, nil
}
