/**
 * @description
 * Scheduled job implementations. The only job today walks every user's loan
 * list and publishes a reminder event for loans that are due within the
 * next day (or overdue) and not yet repaid. Repayment itself is not
 * automated; the event exists for downstream notification fan-out.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/sprp/wallet-service/internal/store"
	"github.com/sprp/wallet-service/pkg/rabbitmq"
)

// loanDueLookahead is how far ahead of the due date reminders start firing.
const loanDueLookahead = 24 * time.Hour

// Jobs holds the dependencies for scheduled tasks.
type Jobs struct {
	repo   store.Repository
	events rabbitmq.Publisher
	logger *slog.Logger
}

// NewJobs creates a new jobs instance.
func NewJobs(repo store.Repository, events rabbitmq.Publisher, logger *slog.Logger) *Jobs {
	return &Jobs{repo: repo, events: events, logger: logger}
}

// ProcessLoanDueReminders publishes a loan.due event for every outstanding
// loan whose due date falls within the lookahead window.
func (j *Jobs) ProcessLoanDueReminders() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	userIDs, err := j.repo.ListUserIDs(ctx)
	if err != nil {
		j.logger.Error("failed to list users for loan reminders", "error", err)
		return
	}

	now := time.Now().UTC()
	cutoff := now.Add(loanDueLookahead)
	reminders := 0

	for _, userID := range userIDs {
		loans, err := j.repo.GetLoans(ctx, userID)
		if err != nil {
			j.logger.Warn("failed to load loans", "user_id", userID, "error", err)
			continue
		}
		for _, loan := range loans {
			if loan.IsRepaid || loan.DueDate.After(cutoff) {
				continue
			}
			if j.events != nil {
				event := rabbitmq.LoanEvent{
					UserID:    userID,
					LoanID:    loan.ID,
					Amount:    loan.TotalRepayment,
					DueDate:   loan.DueDate,
					Timestamp: now,
				}
				if err := j.events.Publish(ctx, rabbitmq.EventsExchange, rabbitmq.RoutingLoanDue, event); err != nil {
					j.logger.Warn("failed to publish loan reminder", "loan_id", loan.ID, "error", err)
					continue
				}
			}
			reminders++
		}
	}

	j.logger.Info("loan due reminder sweep complete", "users", len(userIDs), "reminders", reminders)
}
