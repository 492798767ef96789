/**
 * @description
 * This file defines the user aggregate for the wallet-service. A user owns a
 * set of named wallets, security settings, spending limits, and the
 * gamification pair (xp, level). All balance mutations flow through the
 * ledger service; nothing else writes to these fields.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit to avoid
 *   floating-point inaccuracies with financial data.
 * - Exactly one wallet carries the `primary` role. A `savings` wallet may
 *   carry a goal; its progress percentage is always recomputed from
 *   balance/goal and is never ground truth on its own.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// WalletRole identifies the function of a wallet within a user's wallet set.
type WalletRole string

const (
	WalletRolePrimary    WalletRole = "primary"
	WalletRoleSavings    WalletRole = "savings"
	WalletRoleInvestment WalletRole = "investment"
	WalletRoleEmergency  WalletRole = "emergency"
)

// Wallet is a single named balance owned by a user.
type Wallet struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Role          WalletRole `json:"role"`
	Balance       int64      `json:"balance"` // in minor currency units
	AccountNumber string     `json:"account_number,omitempty"`
	Goal          int64      `json:"goal,omitempty"`     // savings target, 0 = no goal
	Progress      float64    `json:"progress,omitempty"` // cached display value, derived from balance/goal
	ReturnValue   int64      `json:"return_value,omitempty"`
}

// SpendingLimits caps a user's outgoing volume per period.
type SpendingLimits struct {
	Daily   int64 `json:"daily"`
	Monthly int64 `json:"monthly"`
}

// User is the account aggregate. It is read and overwritten as a whole by
// the persistence gateway; partial field updates do not exist at that layer.
type User struct {
	ID             uuid.UUID      `json:"id"`
	Phone          string         `json:"phone"`
	PINHash        string         `json:"-"`
	Name           string         `json:"name"`
	NationalID     string         `json:"national_id"`
	SecurityScore  int            `json:"security_score"`
	IsCardFrozen   bool           `json:"is_card_frozen"`
	Has2FA         bool           `json:"has_2fa"`
	SpendingLimits SpendingLimits `json:"spending_limits"`
	Level          int            `json:"level"`
	XP             int64          `json:"xp"`
	LoginHistory   []time.Time    `json:"login_history"`
	Wallets        []Wallet       `json:"wallets"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// WalletByRole returns the first wallet with the given role, or nil.
func (u *User) WalletByRole(role WalletRole) *Wallet {
	for i := range u.Wallets {
		if u.Wallets[i].Role == role {
			return &u.Wallets[i]
		}
	}
	return nil
}

// RecomputeSavingsProgress refreshes the cached progress percentage of a
// savings wallet from its balance and goal, capped at 100.
func (w *Wallet) RecomputeSavingsProgress() {
	if w.Goal <= 0 {
		return
	}
	progress := float64(w.Balance) / float64(w.Goal) * 100
	if progress > 100 {
		progress = 100
	}
	w.Progress = progress
}

// AccountRequest is the DTO for creating a new account.
type AccountRequest struct {
	Phone      string `json:"phone"`
	PIN        string `json:"pin"`
	Name       string `json:"name"`
	NationalID string `json:"national_id"`
}

// LoginRequest is the DTO for the login endpoint.
type LoginRequest struct {
	Phone string `json:"phone"`
	PIN   string `json:"pin"`
}

// SecurityUpdate is a partial update of a user's security settings. Nil
// fields are left untouched. PIN confirmation is the caller's concern; the
// ledger service only applies what it is given.
type SecurityUpdate struct {
	IsCardFrozen *bool   `json:"is_card_frozen,omitempty"`
	PIN          *string `json:"pin,omitempty"`
	Has2FA       *bool   `json:"has_2fa,omitempty"`
}
