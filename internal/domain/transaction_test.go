package domain

import "testing"

func TestTransactionTypeClassification(t *testing.T) {
	tests := []struct {
		name    string
		txType  TransactionType
		isDebit bool
	}{
		{name: "sent is a debit", txType: TransactionSent, isDebit: true},
		{name: "bill payment is a debit", txType: TransactionBillPayment, isDebit: true},
		{name: "airtime is a debit", txType: TransactionAirtime, isDebit: true},
		{name: "insurance premium is a debit", txType: TransactionInsurancePremium, isDebit: true},
		{name: "savings deposit is a debit", txType: TransactionSavingsDeposit, isDebit: true},
		{name: "merchant payment is a debit", txType: TransactionMerchantPayment, isDebit: true},
		{name: "loan repayment is a debit", txType: TransactionLoanRepayment, isDebit: true},
		{name: "expense is a debit", txType: TransactionExpense, isDebit: true},
		{name: "received is a credit", txType: TransactionReceived, isDebit: false},
		{name: "income is a credit", txType: TransactionIncome, isDebit: false},
		{name: "loan disbursement is a credit", txType: TransactionLoanDisbursement, isDebit: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.txType.IsValid() {
				t.Fatalf("expected %q to be a valid type", tt.txType)
			}
			if got := tt.txType.IsDebit(); got != tt.isDebit {
				t.Fatalf("expected IsDebit=%t for %q, got %t", tt.isDebit, tt.txType, got)
			}
		})
	}
}

func TestTransactionTypeRejectsUnknown(t *testing.T) {
	if TransactionType("bribe").IsValid() {
		t.Fatal("expected unknown transaction type to be invalid")
	}
	if TransactionType("").IsValid() {
		t.Fatal("expected empty transaction type to be invalid")
	}
}
