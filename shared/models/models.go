package models

import (
	"time"

	"github.com/Murzuq/Cash-Padi/shared/money"
)

// TransactionType labels a ledger record.
type TransactionType string

const (
	TypeTransfer   TransactionType = "Transfer"
	TypeAirtime    TransactionType = "Airtime"
	TypeData       TransactionType = "Data"
	TypeBills      TransactionType = "Bills"
	TypeDeposit    TransactionType = "Deposit"
	TypeWithdrawal TransactionType = "Withdrawal"
)

// IsPurchase reports whether t is a single-account debit category.
func (t TransactionType) IsPurchase() bool {
	switch t {
	case TypeAirtime, TypeData, TypeBills:
		return true
	}
	return false
}

// TransactionStatus is a display field; money-movement paths always write Completed.
type TransactionStatus string

const (
	StatusCompleted TransactionStatus = "Completed"
	StatusPending   TransactionStatus = "Pending"
	StatusFailed    TransactionStatus = "Failed"
)

// Account is the write model of a wallet. ID is the owning user's id.
type Account struct {
	ID            string       `json:"id"`
	AccountNumber string       `json:"accountNumber"`
	Name          string       `json:"name"`
	Balance       money.Amount `json:"balance"`
	Version       int64        `json:"-"`
	CreatedAt     time.Time    `json:"createdTimestamp"`
	UpdatedAt     time.Time    `json:"updatedTimestamp"`
}

// Transaction is one immutable ledger record. Amount is negative for debits.
type Transaction struct {
	ID          string            `json:"id"`
	AccountID   string            `json:"-"`
	Title       string            `json:"title"`
	Type        TransactionType   `json:"type"`
	Amount      money.Amount      `json:"amount"`
	Status      TransactionStatus `json:"status"`
	Description string            `json:"description,omitempty"`
	CreatedAt   time.Time         `json:"createdTimestamp"`
}
