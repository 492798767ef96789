package domain

// MerchantStats is the aggregate shown on the business screen. Sales figures
// are bumped by the ledger service whenever a merchant payment is recorded.
type MerchantStats struct {
	TodaysSales      int64 `json:"todays_sales"` // minor units
	TransactionCount int   `json:"transaction_count"`
	PendingPayout    int64 `json:"pending_payout"`
	CustomerCount    int   `json:"customer_count"`
}
