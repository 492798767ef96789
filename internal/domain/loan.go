package domain

import (
	"time"

	"github.com/google/uuid"
)

// Loan is a disbursed micro-loan. Interest is a flat percentage of the
// principal, independent of duration. Repayment is tracked by the IsRepaid
// flag only; there is no amortization schedule.
type Loan struct {
	ID             uuid.UUID `json:"id"`
	Amount         int64     `json:"amount"` // principal, minor units
	Interest       int64     `json:"interest"`
	DurationDays   int       `json:"duration_days"`
	TotalRepayment int64     `json:"total_repayment"`
	StartDate      time.Time `json:"start_date"`
	DueDate        time.Time `json:"due_date"`
	IsRepaid       bool      `json:"is_repaid"`
}
