package cqrs

// GetAccountQuery fetches the caller's own wallet.
type GetAccountQuery struct {
	UserID string
}

// ListTransactionsQuery fetches the caller's ledger, newest first.
// Limit <= 0 returns every record.
type ListTransactionsQuery struct {
	UserID string
	Limit  int
}

// VerifyRecipientQuery looks up the holder of an account number.
type VerifyRecipientQuery struct {
	AccountNumber string
}
