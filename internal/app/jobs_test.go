package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sprp/wallet-service/internal/domain"
	"github.com/sprp/wallet-service/internal/store"
)

func TestProcessLoanDueReminders(t *testing.T) {
	repo := store.NewMemoryRepository()
	publisher := &recordingPublisher{}
	service := NewService(repo, publisher, []byte("test-secret"), time.Hour)
	user := createTestAccount(t, service)

	// A loan well inside its term must not trigger a reminder.
	if _, _, err := service.ApplyLoan(context.Background(), user.ID, 10000, 365); err != nil {
		t.Fatalf("unexpected error disbursing loan: %v", err)
	}

	// An overdue loan is written through the store directly so the due date
	// can sit in the past.
	now := time.Now().UTC()
	overdue := domain.Loan{
		ID:             uuid.New(),
		Amount:         50000,
		Interest:       1500,
		DurationDays:   30,
		TotalRepayment: 51500,
		StartDate:      now.AddDate(0, 0, -32),
		DueDate:        now.AddDate(0, 0, -2),
	}
	repaid := domain.Loan{
		ID:             uuid.New(),
		Amount:         20000,
		Interest:       600,
		DurationDays:   30,
		TotalRepayment: 20600,
		StartDate:      now.AddDate(0, 0, -60),
		DueDate:        now.AddDate(0, 0, -30),
		IsRepaid:       true,
	}
	for _, loan := range []*domain.Loan{&overdue, &repaid} {
		loan := loan
		_, err := repo.ApplyLedgerMutation(context.Background(), user.ID, func(_ *domain.User, _ *domain.MerchantStats) (*store.LedgerMutation, error) {
			return &store.LedgerMutation{Loan: loan}, nil
		})
		if err != nil {
			t.Fatalf("unexpected error writing loan: %v", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jobs := NewJobs(repo, publisher, logger)
	jobs.ProcessLoanDueReminders()

	if got := publisher.published("loan.due"); got != 1 {
		t.Fatalf("expected exactly one loan.due reminder, got %d", got)
	}
}
