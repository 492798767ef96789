package domain

import (
	"time"

	"github.com/google/uuid"
)

// InsuranceType enumerates the product lines offered in-app.
type InsuranceType string

const (
	InsuranceVehicle  InsuranceType = "vehicle"
	InsuranceProperty InsuranceType = "property"
	InsuranceAccount  InsuranceType = "account"
	InsuranceHealth   InsuranceType = "health"
)

// IsValid reports whether the type is a known product line.
func (t InsuranceType) IsValid() bool {
	switch t {
	case InsuranceVehicle, InsuranceProperty, InsuranceAccount, InsuranceHealth:
		return true
	}
	return false
}

// InsurancePolicy is a purchased cover. Policies run for a fixed one-year
// term from the purchase date.
type InsurancePolicy struct {
	ID           uuid.UUID         `json:"id"`
	Type         InsuranceType     `json:"type"`
	Premium      int64             `json:"premium"` // minor units
	Coverage     string            `json:"coverage"`
	PolicyNumber string            `json:"policy_number"`
	StartDate    time.Time         `json:"start_date"`
	EndDate      time.Time         `json:"end_date"`
	Details      map[string]string `json:"details,omitempty"`
}

// PolicyRequest is the DTO for purchasing a policy. The ledger service
// assigns id, policy number and the validity window.
type PolicyRequest struct {
	Type     InsuranceType     `json:"type"`
	Premium  int64             `json:"premium"`
	Coverage string            `json:"coverage"`
	Details  map[string]string `json:"details,omitempty"`
}
