/**
 * @description
 * This file defines the transaction ledger record and its closed type
 * enumeration. Whether a transaction type debits or credits the primary
 * wallet is a pure function of the type alone; the debit set below is the
 * single authority for that classification.
 *
 * @notes
 * - Transactions are created only by the ledger service as the side effect
 *   of a wallet mutation. They are immutable after creation and are never
 *   deleted in normal operation.
 * - Amounts are positive magnitudes in minor currency units; the sign is
 *   carried by the type classification, not the amount.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType is the closed enumeration of ledger record types.
type TransactionType string

const (
	TransactionSent             TransactionType = "sent"
	TransactionReceived         TransactionType = "received"
	TransactionBillPayment      TransactionType = "bill_payment"
	TransactionAirtime          TransactionType = "airtime"
	TransactionLoanDisbursement TransactionType = "loan_disbursement"
	TransactionLoanRepayment    TransactionType = "loan_repayment"
	TransactionInsurancePremium TransactionType = "insurance_premium"
	TransactionSavingsDeposit   TransactionType = "savings_deposit"
	TransactionMerchantPayment  TransactionType = "merchant_payment"
	TransactionIncome           TransactionType = "income"
	TransactionExpense          TransactionType = "expense"
)

// debitTypes is the fixed set of types that subtract from the primary
// wallet. Every type outside this set credits it.
var debitTypes = map[TransactionType]bool{
	TransactionSent:             true,
	TransactionBillPayment:      true,
	TransactionAirtime:          true,
	TransactionInsurancePremium: true,
	TransactionSavingsDeposit:   true,
	TransactionMerchantPayment:  true,
	TransactionLoanRepayment:    true,
	TransactionExpense:          true,
}

// IsDebit reports whether the given type subtracts from the primary wallet.
func (t TransactionType) IsDebit() bool {
	return debitTypes[t]
}

// IsValid reports whether the type belongs to the closed enumeration.
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionSent, TransactionReceived, TransactionBillPayment,
		TransactionAirtime, TransactionLoanDisbursement, TransactionLoanRepayment,
		TransactionInsurancePremium, TransactionSavingsDeposit,
		TransactionMerchantPayment, TransactionIncome, TransactionExpense:
		return true
	}
	return false
}

// TransactionStatus is the lifecycle state of a ledger record.
type TransactionStatus string

const (
	TransactionSuccessful TransactionStatus = "successful"
	TransactionPending    TransactionStatus = "pending"
	TransactionFailed     TransactionStatus = "failed"
)

// Transaction is the central ledger record for any money movement.
type Transaction struct {
	ID          uuid.UUID         `json:"id"`
	Date        time.Time         `json:"date"`
	Amount      int64             `json:"amount"` // positive magnitude, minor units
	Type        TransactionType   `json:"type"`
	Description string            `json:"description"`
	Status      TransactionStatus `json:"status"`
	Recipient   *string           `json:"recipient,omitempty"`
	Sender      *string           `json:"sender,omitempty"`
	Category    *string           `json:"category,omitempty"`
}

// TransactionRequest is the DTO for recording a new transaction. The ledger
// service assigns id, timestamp and status.
type TransactionRequest struct {
	Amount      int64           `json:"amount"`
	Type        TransactionType `json:"type"`
	Description string          `json:"description"`
	Recipient   *string         `json:"recipient,omitempty"`
	Category    *string         `json:"category,omitempty"`
}
