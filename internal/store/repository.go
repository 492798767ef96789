/**
 * @description
 * This file defines the `Repository` interface: the persistence gateway
 * contract for the wallet-service. Each entity kind lives under a slot keyed
 * by user id with whole-value read/overwrite semantics; list-typed entities
 * are appended by reading the whole list, pushing, and writing it back.
 *
 * Writes to an existing user go through two callback-style methods,
 * `UpdateUser` and `ApplyLedgerMutation`. Both load the aggregate inside the
 * backend's per-user critical section, hand it to the caller's function, and
 * write the result back before the section ends. Concurrent writers for the
 * same user therefore serialize: a ledger commit can never be overwritten by
 * a stale aggregate read taken before it, and callers never observe a
 * transaction record without its balance update, or the other way round.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For user ids.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sprp/wallet-service/internal/domain"
)

// Sentinel errors shared by all repository implementations and the ledger
// service built on top of them.
var (
	ErrInsufficientFunds  = errors.New("insufficient funds in primary wallet")
	ErrUserNotFound       = errors.New("user not found")
	ErrWalletNotFound     = errors.New("wallet not found")
	ErrPhoneAlreadyInUse  = errors.New("phone number already registered")
	ErrInvalidCredentials = errors.New("invalid phone number or PIN")
)

// LedgerMutation is the unit of commit for one ledger operation: every
// record the operation appends, plus the merchant aggregate when the
// operation touches it. The user aggregate itself is not part of the struct;
// the store writes back the instance it handed to the build function.
// Implementations must persist all of it atomically or none of it.
type LedgerMutation struct {
	Transactions  []domain.Transaction
	Loan          *domain.Loan
	Policy        *domain.InsurancePolicy
	MerchantStats *domain.MerchantStats
}

// LedgerMutationFunc builds one ledger commit. It runs inside the store's
// per-user critical section with the freshly loaded user aggregate and
// merchant stats; it mutates the aggregate in place and returns the records
// to append. Returning an error aborts the commit with nothing written, and
// the error surfaces to the caller unwrapped.
type LedgerMutationFunc func(user *domain.User, stats *domain.MerchantStats) (*LedgerMutation, error)

// AccountSeed carries the starter data written alongside a new user record.
type AccountSeed struct {
	Transactions  []domain.Transaction
	MerchantStats domain.MerchantStats
}

// Repository defines the set of methods for interacting with the store.
type Repository interface {
	// User methods. UpdateUser is the only way to rewrite an existing
	// aggregate: load, fn and write-back are one atomic step per user.
	GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*domain.User, error)
	UpdateUser(ctx context.Context, userID uuid.UUID, fn func(*domain.User) error) (*domain.User, error)

	// Account lifecycle
	CreateAccount(ctx context.Context, user *domain.User, seed *AccountSeed) error
	HasAnyAccount(ctx context.Context) (bool, error)
	ListUserIDs(ctx context.Context) ([]uuid.UUID, error)

	// List-typed entities, newest data appended at the tail
	GetTransactions(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error)
	GetLoans(ctx context.Context, userID uuid.UUID) ([]domain.Loan, error)
	GetPolicies(ctx context.Context, userID uuid.UUID) ([]domain.InsurancePolicy, error)

	// Merchant stats
	GetMerchantStats(ctx context.Context, userID uuid.UUID) (*domain.MerchantStats, error)
	PutMerchantStats(ctx context.Context, userID uuid.UUID, stats *domain.MerchantStats) error

	// Composite commit for ledger operations. The build function runs
	// under the same per-user synchronization as UpdateUser; the returned
	// user is the committed aggregate.
	ApplyLedgerMutation(ctx context.Context, userID uuid.UUID, build LedgerMutationFunc) (*domain.User, error)
}

// Entity-scoped storage keys. Every implementation uses the same scheme so
// stored data is portable between backends.
func userKey(userID uuid.UUID) string     { return "user:" + userID.String() }
func phoneKey(phone string) string        { return "phone:" + phone }
func txKey(userID uuid.UUID) string       { return "transactions:" + userID.String() }
func loansKey(userID uuid.UUID) string    { return "loans:" + userID.String() }
func policiesKey(userID uuid.UUID) string { return "policies:" + userID.String() }
func merchantKey(userID uuid.UUID) string { return "merchant:" + userID.String() }

const hasAccountKey = "hasAccount"
const userIndexKey = "users"

// validateMutation rejects build functions that return no mutation.
func validateMutation(mut *LedgerMutation) error {
	if mut == nil {
		return fmt.Errorf("ledger mutation build returned nil")
	}
	return nil
}
