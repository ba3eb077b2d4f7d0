package cqrs

import "github.com/Murzuq/Cash-Padi/shared/money"

type OpenAccountCommand struct {
	UserID string
	Name   string
}

type SetPinCommand struct {
	UserID string
	Pin    string
}

type TransferCommand struct {
	UserID         string
	AccountNumber  string
	Amount         money.Amount
	Narration      string
	Pin            string
	IdempotencyKey string
}

type BuyAirtimeCommand struct {
	UserID         string
	Network        string
	PhoneNumber    string
	Amount         money.Amount
	Pin            string
	IdempotencyKey string
}

type BuyDataCommand struct {
	UserID         string
	Network        string
	PhoneNumber    string
	Plan           string
	Amount         money.Amount
	Pin            string
	IdempotencyKey string
}

type PayBillCommand struct {
	UserID         string
	Biller         string
	CustomerID     string
	Amount         money.Amount
	Pin            string
	IdempotencyKey string
}

// DepositCommand is issued only from trusted system contexts.
type DepositCommand struct {
	AccountID   string
	Amount      money.Amount
	Description string
}
