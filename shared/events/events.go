package events

import (
	"time"

	"github.com/Murzuq/Cash-Padi/shared/money"
)

// Event types
const (
	UserCreated = "user.created"

	WalletOpened       = "wallet.opened"
	TransactionCreated = "transaction.created"
	BalanceUpdated     = "balance.updated"
)

// Stream names
const (
	UserEventsStream   = "user.events"
	WalletEventsStream = "wallet.events"
)

// Base event structure
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// UserCreatedEvent is emitted by the user service on registration.
type UserCreatedEvent struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

type WalletOpenedEvent struct {
	AccountID     string       `json:"accountId"`
	AccountNumber string       `json:"accountNumber"`
	Name          string       `json:"name"`
	Balance       money.Amount `json:"balance"`
}

type TransactionCreatedEvent struct {
	TransactionID string       `json:"transactionId"`
	AccountID     string       `json:"accountId"`
	Title         string       `json:"title"`
	Type          string       `json:"type"`
	Amount        money.Amount `json:"amount"`
	Status        string       `json:"status"`
}

type BalanceUpdatedEvent struct {
	AccountID  string       `json:"accountId"`
	NewBalance money.Amount `json:"newBalance"`
	Change     money.Amount `json:"change"`
}

func (e WalletOpenedEvent) PartitionKey() string       { return e.AccountID }
func (e TransactionCreatedEvent) PartitionKey() string { return e.AccountID }
func (e BalanceUpdatedEvent) PartitionKey() string     { return e.AccountID }
