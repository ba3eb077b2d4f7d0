// Package repository holds the Account Store and the Ledger. Balances and
// ledger records only change through a transaction handle obtained from
// Store.InTx, so that a balance mutation and the record that explains it are
// committed together or not at all.
package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/Murzuq/Cash-Padi/shared/models"
	"github.com/Murzuq/Cash-Padi/shared/money"
)

var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrNegativeBalance        = errors.New("balance would become negative")
	ErrContention             = errors.New("accounts are busy, try again")
	ErrDuplicateAccount       = errors.New("account already exists")
	ErrDuplicateAccountNumber = errors.New("account number already taken")
	ErrPinNotSet              = errors.New("transaction pin not set")
	ErrNotLocked              = errors.New("account not locked by this transaction")
)

// AccountReader looks accounts up by id or by external account number.
type AccountReader interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByAccountNumber(ctx context.Context, number string) (*models.Account, error)
}

// AccountStore adds the balance mutation. AdjustBalance refuses to leave a
// balance below zero and fails with ErrNegativeBalance instead.
type AccountStore interface {
	AccountReader
	AdjustBalance(ctx context.Context, id string, delta money.Amount) (*models.Account, error)
}

// Ledger appends records. The store assigns ID and CreatedAt.
type Ledger interface {
	Append(ctx context.Context, rec *models.Transaction) (*models.Transaction, error)
}

// IdempotencyRecord is the stored outcome of a keyed operation. Fingerprint
// identifies the request the key was first used with.
type IdempotencyRecord struct {
	AccountID   string
	Key         string
	Operation   string
	Fingerprint string
	Response    []byte
	CreatedAt   time.Time
}

// Tx is the handle passed to InTx callbacks.
type Tx interface {
	AccountStore
	Ledger
	CreateAccount(ctx context.Context, a *models.Account) (*models.Account, error)
	// GetIdempotent returns nil, nil when the key has not been used.
	GetIdempotent(ctx context.Context, accountID, key string) (*IdempotencyRecord, error)
	SaveIdempotent(ctx context.Context, rec *IdempotencyRecord) error
}

// Store is the persistence boundary of the wallet service.
type Store interface {
	AccountStore
	ListByAccount(ctx context.Context, accountID string, limit int) ([]models.Transaction, error)
	// InTx locks lockIDs in ascending order, runs fn and commits. Nothing fn
	// wrote survives if it returns an error. Lock waits are bounded; on
	// timeout InTx returns ErrContention.
	InTx(ctx context.Context, lockIDs []string, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// PinStore keeps bcrypt hashes of transaction PINs.
type PinStore interface {
	GetPinHash(ctx context.Context, userID string) (string, error)
	SetPinHash(ctx context.Context, userID, hash string) error
}

// lockOrder deduplicates ids and sorts them so every caller acquires locks
// in the same order.
func lockOrder(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
