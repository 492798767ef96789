/**
 * @description
 * Account lifecycle and session logic: registration with seeded starter
 * data, PIN login, and session token minting. The authenticated user id is
 * carried in a signed JWT rather than any process-global "current user"
 * state, so concurrent sessions never cross-talk.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256: PIN hash storage and comparison.
 * - github.com/golang-jwt/jwt/v5: Session tokens.
 * - internal/domain, internal/store: Domain models and data access.
 */

package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sprp/wallet-service/internal/domain"
	"github.com/sprp/wallet-service/internal/store"
)

var (
	ErrMissingAccountFields = errors.New("phone, pin, name and national id are required")
	ErrLoginRateLimited     = errors.New("too many login attempts")
)

// Starter balances for a fresh account, in minor currency units.
const (
	seedPrimaryBalance    = 85430
	seedSavingsBalance    = 25000
	seedSavingsGoal       = 100000
	seedInvestmentBalance = 15000
	seedEmergencyBalance  = 10000
)

// CreateAccount registers a new user with the seeded wallet set and starter
// data, and returns a session token for the new account.
func (s *Service) CreateAccount(ctx context.Context, req domain.AccountRequest) (*domain.User, string, error) {
	if req.Phone == "" || req.PIN == "" || req.Name == "" || req.NationalID == "" {
		return nil, "", ErrMissingAccountFields
	}

	now := time.Now().UTC()
	userID := uuid.New()

	accountNumber := "2500"
	if len(req.Phone) > 1 {
		accountNumber += req.Phone[1:]
	}

	user := &domain.User{
		ID:            userID,
		Phone:         req.Phone,
		PINHash:       hashPIN(req.Phone, req.PIN),
		Name:          req.Name,
		NationalID:    req.NationalID,
		SecurityScore: 85,
		SpendingLimits: domain.SpendingLimits{
			Daily:   500000,
			Monthly: 2000000,
		},
		Level:        1,
		LoginHistory: []time.Time{now},
		Wallets: []domain.Wallet{
			{ID: "wallet_main", Name: "Main Account", Role: domain.WalletRolePrimary, Balance: seedPrimaryBalance, AccountNumber: accountNumber},
			{ID: "wallet_savings", Name: "Savings", Role: domain.WalletRoleSavings, Balance: seedSavingsBalance, Goal: seedSavingsGoal, Progress: 25},
			{ID: "wallet_investment", Name: "Investment", Role: domain.WalletRoleInvestment, Balance: seedInvestmentBalance, ReturnValue: 1200},
			{ID: "wallet_emergency", Name: "Emergency Fund", Role: domain.WalletRoleEmergency, Balance: seedEmergencyBalance},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	salaryCategory := "Salary"
	shoppingCategory := "Shopping"
	seed := &store.AccountSeed{
		Transactions: []domain.Transaction{
			{
				ID:          uuid.New(),
				Date:        now.Add(-24 * time.Hour),
				Amount:      300000,
				Type:        domain.TransactionIncome,
				Description: "Salary from Company XYZ",
				Status:      domain.TransactionSuccessful,
				Category:    &salaryCategory,
			},
			{
				ID:          uuid.New(),
				Date:        now.Add(-time.Hour),
				Amount:      15000,
				Type:        domain.TransactionExpense,
				Description: "Simba Supermarket",
				Status:      domain.TransactionSuccessful,
				Category:    &shoppingCategory,
			},
		},
		MerchantStats: domain.MerchantStats{
			TodaysSales:      45000,
			TransactionCount: 12,
			PendingPayout:    40000,
			CustomerCount:    8,
		},
	}

	if err := s.repo.CreateAccount(ctx, user, seed); err != nil {
		return nil, "", fmt.Errorf("failed to create account: %w", err)
	}

	token, err := s.mintSessionToken(userID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to mint session token: %w", err)
	}
	return user, token, nil
}

// Login verifies the phone/PIN pair, records the login, and returns a fresh
// session token. Unknown phone numbers and wrong PINs are indistinguishable
// to the caller.
func (s *Service) Login(ctx context.Context, phone, pin string) (*domain.User, string, error) {
	if s.loginLimiter != nil {
		allowed, err := s.loginLimiter.Allow(ctx, phone)
		if err != nil {
			log.Printf("level=warn component=auth msg=\"login rate limiter unavailable\" err=%v", err)
		} else if !allowed {
			return nil, "", ErrLoginRateLimited
		}
	}

	user, err := s.repo.GetUserByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, "", store.ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("failed to load user: %w", err)
	}

	if !hmac.Equal([]byte(user.PINHash), []byte(hashPIN(phone, pin))) {
		return nil, "", store.ErrInvalidCredentials
	}

	user, err = s.repo.UpdateUser(ctx, user.ID, func(user *domain.User) error {
		user.LoginHistory = append(user.LoginHistory, time.Now().UTC())
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to record login: %w", err)
	}

	token, err := s.mintSessionToken(user.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to mint session token: %w", err)
	}
	return user, token, nil
}

// HasAnyAccount reports whether any account has ever been created; the
// client uses it to pick the first-run screen.
func (s *Service) HasAnyAccount(ctx context.Context) (bool, error) {
	return s.repo.HasAnyAccount(ctx)
}

func (s *Service) mintSessionToken(userID uuid.UUID) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.sessionTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

// hashPIN derives the stored PIN digest. The phone number salts the hash so
// equal PINs on different accounts produce different digests.
func hashPIN(phone, pin string) string {
	sum := sha256.Sum256([]byte(phone + ":" + pin))
	return hex.EncodeToString(sum[:])
}
