package models

import (
	"time"

	"github.com/Murzuq/Cash-Padi/shared/money"
)

// AccountView is what the API returns for the caller's own wallet.
type AccountView struct {
	ID            string       `json:"id"`
	AccountNumber string       `json:"accountNumber"`
	Name          string       `json:"name"`
	Balance       money.Amount `json:"balance"`
	Currency      string       `json:"currency"`
	CreatedAt     time.Time    `json:"createdTimestamp"`
	UpdatedAt     time.Time    `json:"updatedTimestamp"`
}

// RecipientView is the public identity of an account. It never carries a
// balance, so it is safe to cache.
type RecipientView struct {
	ID            string `json:"-"`
	AccountNumber string `json:"accountNumber"`
	Name          string `json:"name"`
}

// TransactionView is the read projection of a ledger record.
type TransactionView struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Type        TransactionType   `json:"type"`
	Amount      money.Amount      `json:"amount"`
	Status      TransactionStatus `json:"status"`
	Description string            `json:"description,omitempty"`
	CreatedAt   time.Time         `json:"createdTimestamp"`
}

// Currency is the only currency the wallet holds.
const Currency = "NGN"

func ToAccountView(a *Account) *AccountView {
	return &AccountView{
		ID:            a.ID,
		AccountNumber: a.AccountNumber,
		Name:          a.Name,
		Balance:       a.Balance,
		Currency:      Currency,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func ToTransactionView(t *Transaction) TransactionView {
	return TransactionView{
		ID:          t.ID,
		Title:       t.Title,
		Type:        t.Type,
		Amount:      t.Amount,
		Status:      t.Status,
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
	}
}
