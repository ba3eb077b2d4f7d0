package engine

import "errors"

// Failures returned by the engine. None of them leaves a partial mutation
// behind.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountNotFound     = errors.New("account not found")
	ErrSourceNotFound      = errors.New("source account not found")
	ErrRecipientNotFound   = errors.New("recipient account not found")
	ErrUnauthorized        = errors.New("invalid transaction pin")
	ErrPinNotSet           = errors.New("transaction pin not set")
	// ErrNegativeBalance means the store refused a write the engine had
	// already validated. It indicates a bug.
	ErrNegativeBalance = errors.New("store refused negative balance")
	ErrContention      = errors.New("accounts are busy, try again")

	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrSelfTransfer         = errors.New("cannot transfer to your own account")
	ErrInvalidCategory      = errors.New("category must be Airtime, Data or Bills")
	ErrAccountExists        = errors.New("wallet already exists")
	ErrInvalidAccount       = errors.New("account id and name are required")
	ErrIdempotencyKeyReused = errors.New("idempotency key already used for a different request")
)

var domainErrors = []error{
	ErrInsufficientBalance, ErrAccountNotFound, ErrSourceNotFound, ErrRecipientNotFound,
	ErrUnauthorized, ErrPinNotSet, ErrNegativeBalance, ErrContention, ErrInvalidAmount, ErrSelfTransfer,
	ErrInvalidCategory, ErrAccountExists, ErrInvalidAccount, ErrIdempotencyKeyReused,
}

// IsDomainError reports whether err is one of the engine's typed failures
// rather than an infrastructure fault.
func IsDomainError(err error) bool {
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return true
		}
	}
	return false
}
