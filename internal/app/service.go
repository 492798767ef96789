/**
 * @description
 * This file contains the core ledger logic for the wallet-service. The
 * `Service` struct is the single authority for balance mutations: it
 * classifies transactions as debit or credit, enforces the non-negative
 * primary balance invariant, derives secondary state (savings progress,
 * merchant stats, xp/level), and commits each operation through the
 * persistence gateway's composite write.
 *
 * Key features:
 * - RecordTransaction, ApplyLoan, PurchaseInsurance: the wallet mutations.
 * - UpdateSecuritySettings, AwardExperience: aggregate-only updates.
 * - Publishes events to RabbitMQ after commits; publish failures are logged
 *   and never fail the ledger operation.
 *
 * @dependencies
 * - context, errors, fmt, log, sort, time: Standard Go libraries.
 * - github.com/google/uuid: For record ids.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For event publishing.
 */

package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sprp/wallet-service/internal/domain"
	"github.com/sprp/wallet-service/internal/store"
	"github.com/sprp/wallet-service/pkg/rabbitmq"
)

const (
	// LoanInterestPercent is the flat interest charged on every loan,
	// independent of duration.
	LoanInterestPercent = 3
	// XPPerLevel converts cumulative experience points into a level.
	XPPerLevel = 100
	// PolicyTermYears is the fixed validity window of a purchased policy.
	PolicyTermYears = 1
)

// Validation errors raised before any state is touched.
var (
	ErrInvalidAmount          = errors.New("amount must be a positive number")
	ErrInvalidDuration        = errors.New("duration must be a positive number of days")
	ErrInvalidTransactionType = errors.New("unknown transaction type")
	ErrInvalidInsuranceType   = errors.New("unknown insurance type")
)

// Service provides the core ledger logic for the wallet-service.
type Service struct {
	repo         store.Repository
	events       rabbitmq.Publisher
	jwtSecret    []byte
	sessionTTL   time.Duration
	loginLimiter *LoginRateLimiter
}

// NewService creates a new ledger service instance. The events publisher may
// be nil, in which case publishing is skipped.
func NewService(repo store.Repository, events rabbitmq.Publisher, jwtSecret []byte, sessionTTL time.Duration) *Service {
	return &Service{
		repo:       repo,
		events:     events,
		jwtSecret:  jwtSecret,
		sessionTTL: sessionTTL,
	}
}

// SetLoginRateLimiter attaches an optional Redis-backed limiter for the
// login endpoint.
func (s *Service) SetLoginRateLimiter(limiter *LoginRateLimiter) {
	s.loginLimiter = limiter
}

// RecordTransaction applies one transaction to the user's primary wallet.
// The debit/credit classification is a pure function of the transaction
// type. A debit that would take the primary balance negative fails with
// store.ErrInsufficientFunds and mutates nothing.
func (s *Service) RecordTransaction(ctx context.Context, userID uuid.UUID, req domain.TransactionRequest) (*domain.User, *domain.Transaction, error) {
	if req.Amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if !req.Type.IsValid() {
		return nil, nil, ErrInvalidTransactionType
	}

	// The build closure runs inside the store's per-user critical section,
	// so the balance check and the commit see the same aggregate even with
	// concurrent writers (other requests, the experience consumer).
	now := time.Now().UTC()
	var tx domain.Transaction
	user, err := s.repo.ApplyLedgerMutation(ctx, userID, func(user *domain.User, stats *domain.MerchantStats) (*store.LedgerMutation, error) {
		primary := user.WalletByRole(domain.WalletRolePrimary)
		if primary == nil {
			return nil, fmt.Errorf("user %s: primary wallet: %w", userID, store.ErrWalletNotFound)
		}

		var newBalance int64
		if req.Type.IsDebit() {
			newBalance = primary.Balance - req.Amount
		} else {
			newBalance = primary.Balance + req.Amount
		}
		if newBalance < 0 {
			return nil, store.ErrInsufficientFunds
		}

		tx = domain.Transaction{
			ID:          uuid.New(),
			Date:        now,
			Amount:      req.Amount,
			Type:        req.Type,
			Description: req.Description,
			Status:      domain.TransactionSuccessful,
			Recipient:   req.Recipient,
			Category:    req.Category,
		}

		primary.Balance = newBalance

		// A savings deposit moves value into the savings wallet as well; its
		// progress percentage is always recomputed, never set directly.
		if req.Type == domain.TransactionSavingsDeposit {
			savings := user.WalletByRole(domain.WalletRoleSavings)
			if savings == nil {
				return nil, fmt.Errorf("user %s: savings wallet: %w", userID, store.ErrWalletNotFound)
			}
			savings.Balance += req.Amount
			savings.RecomputeSavingsProgress()
		}

		mut := &store.LedgerMutation{
			Transactions: []domain.Transaction{tx},
		}
		if req.Type == domain.TransactionMerchantPayment {
			stats.TodaysSales += req.Amount
			stats.TransactionCount++
			mut.MerchantStats = stats
		}

		user.UpdatedAt = now
		return mut, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) || errors.Is(err, store.ErrUserNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.publish(ctx, rabbitmq.RoutingTransactionRecorded, rabbitmq.TransactionRecordedEvent{
		UserID:      userID,
		Transaction: tx.ID,
		Type:        string(tx.Type),
		Amount:      tx.Amount,
		Timestamp:   now,
	})

	return user, &tx, nil
}

// ApplyLoan disburses a loan: the primary wallet is credited with the
// principal, a disbursement transaction is appended and the loan record is
// created. Interest is a flat percentage of the principal, computed in
// integer minor units and truncated toward zero; the due date is plain
// calendar-day arithmetic.
func (s *Service) ApplyLoan(ctx context.Context, userID uuid.UUID, amount int64, durationDays int) (*domain.User, *domain.Loan, error) {
	if amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if durationDays <= 0 {
		return nil, nil, ErrInvalidDuration
	}

	now := time.Now().UTC()
	var loan domain.Loan
	user, err := s.repo.ApplyLedgerMutation(ctx, userID, func(user *domain.User, _ *domain.MerchantStats) (*store.LedgerMutation, error) {
		primary := user.WalletByRole(domain.WalletRolePrimary)
		if primary == nil {
			return nil, fmt.Errorf("user %s: primary wallet: %w", userID, store.ErrWalletNotFound)
		}

		interest := amount * LoanInterestPercent / 100
		loan = domain.Loan{
			ID:             uuid.New(),
			Amount:         amount,
			Interest:       interest,
			DurationDays:   durationDays,
			TotalRepayment: amount + interest,
			StartDate:      now,
			DueDate:        now.AddDate(0, 0, durationDays),
			IsRepaid:       false,
		}
		tx := domain.Transaction{
			ID:          uuid.New(),
			Date:        now,
			Amount:      amount,
			Type:        domain.TransactionLoanDisbursement,
			Description: "Loan disbursement",
			Status:      domain.TransactionSuccessful,
		}

		// Principal only; interest is owed at repayment, not deducted up front.
		primary.Balance += amount
		user.UpdatedAt = now

		return &store.LedgerMutation{
			Transactions: []domain.Transaction{tx},
			Loan:         &loan,
		}, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("failed to commit loan: %w", err)
	}

	s.publish(ctx, rabbitmq.RoutingLoanDisbursed, rabbitmq.LoanEvent{
		UserID:    userID,
		LoanID:    loan.ID,
		Amount:    loan.Amount,
		DueDate:   loan.DueDate,
		Timestamp: now,
	})

	return user, &loan, nil
}

// PurchaseInsurance debits the primary wallet by the premium and creates a
// one-year policy. The insufficient-funds guard applies here exactly as it
// does for ordinary debits.
func (s *Service) PurchaseInsurance(ctx context.Context, userID uuid.UUID, req domain.PolicyRequest) (*domain.User, *domain.InsurancePolicy, error) {
	if req.Premium <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if !req.Type.IsValid() {
		return nil, nil, ErrInvalidInsuranceType
	}

	now := time.Now().UTC()
	var policy domain.InsurancePolicy
	user, err := s.repo.ApplyLedgerMutation(ctx, userID, func(user *domain.User, _ *domain.MerchantStats) (*store.LedgerMutation, error) {
		primary := user.WalletByRole(domain.WalletRolePrimary)
		if primary == nil {
			return nil, fmt.Errorf("user %s: primary wallet: %w", userID, store.ErrWalletNotFound)
		}
		if primary.Balance-req.Premium < 0 {
			return nil, store.ErrInsufficientFunds
		}

		policy = domain.InsurancePolicy{
			ID:           uuid.New(),
			Type:         req.Type,
			Premium:      req.Premium,
			Coverage:     req.Coverage,
			PolicyNumber: newPolicyNumber(),
			StartDate:    now,
			EndDate:      now.AddDate(PolicyTermYears, 0, 0),
			Details:      req.Details,
		}
		tx := domain.Transaction{
			ID:          uuid.New(),
			Date:        now,
			Amount:      req.Premium,
			Type:        domain.TransactionInsurancePremium,
			Description: fmt.Sprintf("%s insurance premium", req.Type),
			Status:      domain.TransactionSuccessful,
		}

		primary.Balance -= req.Premium
		user.UpdatedAt = now

		return &store.LedgerMutation{
			Transactions: []domain.Transaction{tx},
			Policy:       &policy,
		}, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) || errors.Is(err, store.ErrUserNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("failed to commit policy purchase: %w", err)
	}

	s.publish(ctx, rabbitmq.RoutingPolicyPurchased, rabbitmq.PolicyEvent{
		UserID:    userID,
		PolicyID:  policy.ID,
		Type:      string(policy.Type),
		Premium:   policy.Premium,
		Timestamp: now,
	})

	return user, &policy, nil
}

// UpdateSecuritySettings merges a partial security update into the user
// record. PIN confirmation and any side-validation belong to the caller.
func (s *Service) UpdateSecuritySettings(ctx context.Context, userID uuid.UUID, upd domain.SecurityUpdate) (*domain.User, error) {
	user, err := s.repo.UpdateUser(ctx, userID, func(user *domain.User) error {
		if upd.IsCardFrozen != nil {
			user.IsCardFrozen = *upd.IsCardFrozen
		}
		if upd.Has2FA != nil {
			user.Has2FA = *upd.Has2FA
		}
		if upd.PIN != nil {
			user.PINHash = hashPIN(user.Phone, *upd.PIN)
		}
		user.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to persist security settings: %w", err)
	}
	return user, nil
}

// AwardExperience adds experience points to the user. The level is a pure
// function of cumulative xp and is recomputed on every award. The award goes
// through the store's atomic update so the experience consumer, which runs
// on its own goroutine, can never revert a ledger commit that landed after
// its read.
func (s *Service) AwardExperience(ctx context.Context, userID uuid.UUID, points int64) (*domain.User, error) {
	if points <= 0 {
		return nil, ErrInvalidAmount
	}
	user, err := s.repo.UpdateUser(ctx, userID, func(user *domain.User) error {
		user.XP += points
		user.Level = int(user.XP/XPPerLevel) + 1
		user.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to persist experience award: %w", err)
	}
	return user, nil
}

// GetUser returns the user aggregate for display.
func (s *Service) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.repo.GetUser(ctx, userID)
}

// ListTransactions returns the user's transactions, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error) {
	txs, err := s.repo.GetTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].Date.After(txs[j].Date) })
	return txs, nil
}

// ListLoans returns the user's loans in application order.
func (s *Service) ListLoans(ctx context.Context, userID uuid.UUID) ([]domain.Loan, error) {
	return s.repo.GetLoans(ctx, userID)
}

// ListPolicies returns the user's insurance policies in purchase order.
func (s *Service) ListPolicies(ctx context.Context, userID uuid.UUID) ([]domain.InsurancePolicy, error) {
	return s.repo.GetPolicies(ctx, userID)
}

// MerchantStats returns the user's merchant aggregate.
func (s *Service) MerchantStats(ctx context.Context, userID uuid.UUID) (*domain.MerchantStats, error) {
	return s.repo.GetMerchantStats(ctx, userID)
}

// publish sends an event to the broker, logging and swallowing failures.
// The ledger commit has already happened; events are best-effort.
func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, rabbitmq.EventsExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=ledger msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

const policyNumberCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newPolicyNumber generates a policy number like SPRP-7K2Q9XMB.
func newPolicyNumber() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "SPRP-" + uuid.NewString()[:8]
	}
	for i, b := range buf {
		buf[i] = policyNumberCharset[int(b)%len(policyNumberCharset)]
	}
	return "SPRP-" + string(buf)
}
