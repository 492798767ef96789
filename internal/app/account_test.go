package app

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sprp/wallet-service/internal/domain"
	"github.com/sprp/wallet-service/internal/store"
)

func TestCreateAccount_SeedsStarterData(t *testing.T) {
	service, _ := newTestService(t)

	user, token, err := service.CreateAccount(context.Background(), domain.AccountRequest{
		Phone:      "0788123456",
		PIN:        "1234",
		Name:       "Jane Doe",
		NationalID: "1199000000000000",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(user.Wallets) != 4 {
		t.Fatalf("expected 4 seeded wallets, got %d", len(user.Wallets))
	}

	primary := user.WalletByRole(domain.WalletRolePrimary)
	if primary.Balance != 85430 {
		t.Fatalf("expected seeded primary balance 85430, got %d", primary.Balance)
	}
	if primary.AccountNumber != "2500788123456" {
		t.Fatalf("expected account number derived from phone, got %q", primary.AccountNumber)
	}

	savings := user.WalletByRole(domain.WalletRoleSavings)
	if savings.Balance != 25000 || savings.Goal != 100000 || savings.Progress != 25 {
		t.Fatalf("unexpected savings seed: %+v", savings)
	}

	if user.SecurityScore != 85 {
		t.Fatalf("expected security score 85, got %d", user.SecurityScore)
	}
	if user.Level != 1 || user.XP != 0 {
		t.Fatalf("expected fresh account at level 1 with no xp, got level=%d xp=%d", user.Level, user.XP)
	}
	if user.SpendingLimits.Daily != 500000 || user.SpendingLimits.Monthly != 2000000 {
		t.Fatalf("unexpected spending limits: %+v", user.SpendingLimits)
	}

	transactions, err := service.ListTransactions(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("unexpected error listing transactions: %v", err)
	}
	if len(transactions) != 2 {
		t.Fatalf("expected 2 seeded transactions, got %d", len(transactions))
	}

	stats, err := service.MerchantStats(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("unexpected error loading merchant stats: %v", err)
	}
	if stats.TodaysSales != 45000 || stats.TransactionCount != 12 {
		t.Fatalf("unexpected merchant seed: %+v", stats)
	}

	// The returned token must be a valid session for the new user.
	parsed, err := jwt.Parse(token, func(tok *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("expected a valid session token, got err=%v", err)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub != user.ID.String() {
		t.Fatalf("expected token subject %s, got %q (err=%v)", user.ID, sub, err)
	}
}

func TestCreateAccount_RejectsMissingFields(t *testing.T) {
	service, _ := newTestService(t)

	_, _, err := service.CreateAccount(context.Background(), domain.AccountRequest{
		Phone: "0788123456",
		PIN:   "1234",
	})
	if !errors.Is(err, ErrMissingAccountFields) {
		t.Fatalf("expected ErrMissingAccountFields, got %v", err)
	}
}

func TestCreateAccount_RejectsDuplicatePhone(t *testing.T) {
	service, _ := newTestService(t)
	createTestAccount(t, service)

	_, _, err := service.CreateAccount(context.Background(), domain.AccountRequest{
		Phone:      "0788123456",
		PIN:        "5678",
		Name:       "Second User",
		NationalID: "1199000000000001",
	})
	if !errors.Is(err, store.ErrPhoneAlreadyInUse) {
		t.Fatalf("expected ErrPhoneAlreadyInUse, got %v", err)
	}
}

func TestLogin_RecordsHistoryAndMintsToken(t *testing.T) {
	service, _ := newTestService(t)
	user := createTestAccount(t, service)

	loggedIn, token, err := service.Login(context.Background(), user.Phone, "1234")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == "" {
		t.Fatal("expected a session token")
	}
	if len(loggedIn.LoginHistory) != 2 {
		t.Fatalf("expected login history to grow to 2, got %d", len(loggedIn.LoginHistory))
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	service, _ := newTestService(t)
	user := createTestAccount(t, service)

	if _, _, err := service.Login(context.Background(), user.Phone, "0000"); !errors.Is(err, store.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong PIN, got %v", err)
	}

	// Unknown phone numbers must be indistinguishable from wrong PINs.
	if _, _, err := service.Login(context.Background(), "0700000000", "1234"); !errors.Is(err, store.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown phone, got %v", err)
	}
}

func TestHasAnyAccount(t *testing.T) {
	service, _ := newTestService(t)

	exists, err := service.HasAnyAccount(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Fatal("expected no accounts before registration")
	}

	createTestAccount(t, service)

	exists, err = service.HasAnyAccount(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Fatal("expected accounts to exist after registration")
	}
}

func TestHashPIN_SaltedByPhone(t *testing.T) {
	if hashPIN("0788123456", "1234") == hashPIN("0788999999", "1234") {
		t.Fatal("expected equal PINs on different phones to hash differently")
	}
	if hashPIN("0788123456", "1234") != hashPIN("0788123456", "1234") {
		t.Fatal("expected the hash to be deterministic")
	}
}
