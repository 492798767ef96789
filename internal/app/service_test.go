package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sprp/wallet-service/internal/domain"
	"github.com/sprp/wallet-service/internal/store"
)

// recordingPublisher captures published routing keys instead of talking to a broker.
type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) published(routingKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, key := range p.keys {
		if key == routingKey {
			count++
		}
	}
	return count
}

func newTestService(t *testing.T) (*Service, *recordingPublisher) {
	t.Helper()
	publisher := &recordingPublisher{}
	service := NewService(store.NewMemoryRepository(), publisher, []byte("test-secret"), time.Hour)
	return service, publisher
}

func createTestAccount(t *testing.T, service *Service) *domain.User {
	t.Helper()
	user, _, err := service.CreateAccount(context.Background(), domain.AccountRequest{
		Phone:      "0788123456",
		PIN:        "1234",
		Name:       "Test User",
		NationalID: "1199000000000000",
	})
	if err != nil {
		t.Fatalf("failed to create test account: %v", err)
	}
	return user
}

func TestRecordTransaction_DebitReducesPrimaryBalance(t *testing.T) {
	service, publisher := newTestService(t)
	user := createTestAccount(t, service)

	updated, tx, err := service.RecordTransaction(context.Background(), user.ID, domain.TransactionRequest{
		Amount:      20000,
		Type:        domain.TransactionSent,
		Description: "Sent to John",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	primary := updated.WalletByRole(domain.WalletRolePrimary)
	if primary.Balance != 65430 {
		t.Fatalf("expected primary balance 65430, got %d", primary.Balance)
	}
	if tx.Status != domain.TransactionSuccessful {
		t.Fatalf("expected successful status, got %q", tx.Status)
	}

	transactions, err := service.ListTransactions(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("unexpected error listing transactions: %v", err)
	}
	if len(transactions) != 3 {
		t.Fatalf("expected 2 seeded transactions plus 1 recorded, got %d", len(transactions))
	}
	if transactions[0].ID != tx.ID {
		t.Fatalf("expected newest transaction first, got %s", transactions[0].ID)
	}

	if publisher.published("transaction.recorded") != 1 {
		t.Fatal("expected one transaction.recorded event")
	}
}

func TestRecordTransaction_CreditIncreasesPrimaryBalance(t *testing.T) {
	service, _ := newTestService(t)
	user := createTestAccount(t, service)

	updated, _, err := service.RecordTransaction(context.Background(), user.ID, domain.TransactionRequest{
		Amount:      10000,
		Type:        domain.TransactionReceived,
		Description: "From Alice",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := updated.WalletByRole(domain.WalletRolePrimary).Balance; got != 95430 {
		t.Fatalf("expected primary balance 95430, got %d", got)
	}
}

func TestRecordTransaction_InsufficientFundsMutatesNothing(t *testing.T) {
	service, publisher := newTestService(t)
	user := createTestAccount(t, service)

	_, _, err := service.RecordTransaction(context.Background(), user.ID, domain.TransactionRequest{
		Amount:      100000,
		Type:        domain.TransactionBillPayment,
		Description: "Electricity",
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	reloaded, err := service.GetUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("unexpected error reloading user: %v", err)
	}
	if got := reloaded.WalletByRole(domain.WalletRolePrimary).Balance; got != 85430 {
		t.Fatalf("expected balance unchanged at 85430, got %d", got)
	}

	transactions, err := service.ListTransactions(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("unexpected error listing transactions: %v", err)
	}
	if len(transactions) != 2 {
		t.Fatalf("expected only the 2 seeded transactions, got %d", len(transactions))
	}
	if publisher.published("transaction.recorded") != 0 {
		t.Fatal("expected no event for a rejected transaction")
	}
}

func TestRecordTransaction_SavingsDepositMovesValueAndRecomputesProgress(t *testing.T) {
	service, _ := newTestService(t)
	user := createTestAccount(t, service)

	updated, _, err := service.RecordTransaction(context.Background(), user.ID, domain.TransactionRequest{
		Amount:      10000,
		Type:        domain.TransactionSavingsDeposit,
		Description: "Monthly savings",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := updated.WalletByRole(domain.WalletRolePrimary).Balance; got != 75430 {
		t.Fatalf("expected primary balance 75430, got %d", got)
	}
	savings := updated.WalletByRole(domain.WalletRoleSavings)
	if savings.Balance != 35000 {
		t.Fatalf("expected savings balance 35000, got %d", savings.Balance)
	}
	if savings.Progress != 35 {
		t.Fatalf("expected savings progress 35, got %f", savings.Progress)
	}
}

func TestRecordTransaction_MerchantPaymentBumpsStats(t *testing.T) {
	service, _ := newTestService(t)
	user := createTestAccount(t, service)

	_, _, err := service.RecordTransaction(context.Background(), user.ID, domain.TransactionRequest{
		Amount:      5000,
		Type:        domain.TransactionMerchantPayment,
		Description: "Paid at kiosk",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, err := service.MerchantStats(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("unexpected error loading stats: %v", err)
	}
	if stats.TodaysSales != 50000 {
		t.Fatalf("expected todays sales 50000, got %d", stats.TodaysSales)
	}
	if stats.TransactionCount != 13 {
		t.Fatalf("expected transaction count 13, got %d", stats.TransactionCount)
	}
}

func TestRecordTransaction_Validation(t *testing.T) {
	service, _ := newTestService(t)
	user := createTestAccount(t, service)

	tests := []struct {
		name    string
		req     domain.TransactionRequest
		wantErr error
	}{
		{
			name:    "rejects zero amount",
			req:     domain.TransactionRequest{Amount: 0, Type: domain.TransactionSent},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "rejects negative amount",
			req:     domain.TransactionRequest{Amount: -500, Type: domain.TransactionSent},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "rejects unknown type",
			req:     domain.TransactionRequest{Amount: 100, Type: domain.TransactionType("gift")},
			wantErr: ErrInvalidTransactionType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := service.RecordTransaction(context.Background(), user.ID, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestApplyLoan_DisbursesPrincipalWithFlatInterest(t *testing.T) {
	service, publisher := newTestService(t)
	user := createTestAccount(t, service)

	updated, loan, err := service.ApplyLoan(context.Background(), user.ID, 50000, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if loan.Interest != 1500 {
		t.Fatalf("expected interest 1500, got %d", loan.Interest)
	}
	if loan.TotalRepayment != 51500 {
		t.Fatalf("expected total repayment 51500, got %d", loan.TotalRepayment)
	}
	if want := loan.StartDate.AddDate(0, 0, 30); !loan.DueDate.Equal(want) {
		t.Fatalf("expected due date %v, got %v", want, loan.DueDate)
	}
	if loan.IsRepaid {
		t.Fatal("expected new loan to be outstanding")
	}

	if got := updated.WalletByRole(domain.WalletRolePrimary).Balance; got != 135430 {
		t.Fatalf("expected primary balance 135430, got %d", got)
	}

	transactions, err := service.ListTransactions(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("unexpected error listing transactions: %v", err)
	}
	if transactions[0].Type != domain.TransactionLoanDisbursement {
		t.Fatalf("expected a loan disbursement transaction, got %q", transactions[0].Type)
	}

	loans, err := service.ListLoans(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("unexpected error listing loans: %v", err)
	}
	if len(loans) != 1 || loans[0].ID != loan.ID {
		t.Fatalf("expected the disbursed loan on record, got %+v", loans)
	}

	if publisher.published("loan.disbursed") != 1 {
		t.Fatal("expected one loan.disbursed event")
	}
}

func TestApplyLoan_Validation(t *testing.T) {
	service, _ := newTestService(t)
	user := createTestAccount(t, service)

	if _, _, err := service.ApplyLoan(context.Background(), user.ID, 0, 30); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, _, err := service.ApplyLoan(context.Background(), user.ID, 50000, 0); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
}

func TestPurchaseInsurance_DebitsPremiumAndCreatesPolicy(t *testing.T) {
	service, publisher := newTestService(t)
	user := createTestAccount(t, service)

	updated, policy, err := service.PurchaseInsurance(context.Background(), user.ID, domain.PolicyRequest{
		Type:     domain.InsuranceVehicle,
		Premium:  20000,
		Coverage: "Third party",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := updated.WalletByRole(domain.WalletRolePrimary).Balance; got != 65430 {
		t.Fatalf("expected primary balance 65430, got %d", got)
	}
	if !strings.HasPrefix(policy.PolicyNumber, "SPRP-") || len(policy.PolicyNumber) != 13 {
		t.Fatalf("expected policy number like SPRP-XXXXXXXX, got %q", policy.PolicyNumber)
	}
	if want := policy.StartDate.AddDate(1, 0, 0); !policy.EndDate.Equal(want) {
		t.Fatalf("expected one-year term ending %v, got %v", want, policy.EndDate)
	}

	transactions, err := service.ListTransactions(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("unexpected error listing transactions: %v", err)
	}
	if transactions[0].Type != domain.TransactionInsurancePremium {
		t.Fatalf("expected an insurance premium transaction, got %q", transactions[0].Type)
	}

	if publisher.published("policy.purchased") != 1 {
		t.Fatal("expected one policy.purchased event")
	}
}

func TestPurchaseInsurance_InsufficientFunds(t *testing.T) {
	service, _ := newTestService(t)
	user := createTestAccount(t, service)

	_, _, err := service.PurchaseInsurance(context.Background(), user.ID, domain.PolicyRequest{
		Type:    domain.InsuranceHealth,
		Premium: 1000000,
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	policies, err := service.ListPolicies(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("unexpected error listing policies: %v", err)
	}
	if len(policies) != 0 {
		t.Fatalf("expected no policies, got %d", len(policies))
	}
}

func TestPurchaseInsurance_RejectsUnknownType(t *testing.T) {
	service, _ := newTestService(t)
	user := createTestAccount(t, service)

	_, _, err := service.PurchaseInsurance(context.Background(), user.ID, domain.PolicyRequest{
		Type:    domain.InsuranceType("pets"),
		Premium: 5000,
	})
	if !errors.Is(err, ErrInvalidInsuranceType) {
		t.Fatalf("expected ErrInvalidInsuranceType, got %v", err)
	}
}

func TestAwardExperience_RecomputesLevel(t *testing.T) {
	service, _ := newTestService(t)
	user := createTestAccount(t, service)

	updated, err := service.AwardExperience(context.Background(), user.ID, 250)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.XP != 250 {
		t.Fatalf("expected xp 250, got %d", updated.XP)
	}
	if updated.Level != 3 {
		t.Fatalf("expected level 3, got %d", updated.Level)
	}

	if _, err := service.AwardExperience(context.Background(), user.ID, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero points, got %v", err)
	}
}

func TestConcurrentCreditsAndExperienceAwards_ConserveBalance(t *testing.T) {
	service, _ := newTestService(t)
	user := createTestAccount(t, service)

	// Credits from request handlers race against experience awards from the
	// event consumer goroutine. Neither side may ever overwrite the other's
	// committed state with a stale aggregate.
	const (
		workers   = 16
		perWorker = 25
		credit    = 100
		points    = 10
	)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, _, err := service.RecordTransaction(context.Background(), user.ID, domain.TransactionRequest{
					Amount:      credit,
					Type:        domain.TransactionReceived,
					Description: "Concurrent credit",
				})
				if err != nil {
					t.Errorf("unexpected transaction error: %v", err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := service.AwardExperience(context.Background(), user.ID, points); err != nil {
					t.Errorf("unexpected award error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	reloaded, err := service.GetUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("unexpected error reloading user: %v", err)
	}
	if want := int64(85430 + workers*perWorker*credit); reloaded.WalletByRole(domain.WalletRolePrimary).Balance != want {
		t.Fatalf("expected balance %d after %d credits, got %d", want, workers*perWorker, reloaded.WalletByRole(domain.WalletRolePrimary).Balance)
	}
	if want := int64(workers * perWorker * points); reloaded.XP != want {
		t.Fatalf("expected xp %d, got %d", want, reloaded.XP)
	}

	transactions, err := service.ListTransactions(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("unexpected error listing transactions: %v", err)
	}
	if want := 2 + workers*perWorker; len(transactions) != want {
		t.Fatalf("expected %d transactions, got %d", want, len(transactions))
	}
}

func TestUpdateSecuritySettings_PartialUpdate(t *testing.T) {
	service, _ := newTestService(t)
	user := createTestAccount(t, service)

	frozen := true
	updated, err := service.UpdateSecuritySettings(context.Background(), user.ID, domain.SecurityUpdate{
		IsCardFrozen: &frozen,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.IsCardFrozen {
		t.Fatal("expected card to be frozen")
	}
	if updated.Has2FA {
		t.Fatal("expected untouched fields to keep their value")
	}

	newPIN := "9876"
	if _, err := service.UpdateSecuritySettings(context.Background(), user.ID, domain.SecurityUpdate{PIN: &newPIN}); err != nil {
		t.Fatalf("unexpected error changing PIN: %v", err)
	}
	if _, _, err := service.Login(context.Background(), user.Phone, "9876"); err != nil {
		t.Fatalf("expected login with new PIN to succeed, got %v", err)
	}
	if _, _, err := service.Login(context.Background(), user.Phone, "1234"); !errors.Is(err, store.ErrInvalidCredentials) {
		t.Fatalf("expected old PIN to be rejected, got %v", err)
	}
}
