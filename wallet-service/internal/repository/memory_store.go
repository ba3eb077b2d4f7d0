package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Murzuq/Cash-Padi/shared/models"
	"github.com/Murzuq/Cash-Padi/shared/money"
	"github.com/Murzuq/Cash-Padi/shared/utils"
	"golang.org/x/sync/semaphore"
)

// MemoryStore keeps accounts and the ledger in process memory. Each account
// has a weight-1 semaphore standing in for a row lock; writes made through a
// Tx are staged and applied under mu only when the callback succeeds.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]models.Account
	byNumber map[string]string
	ledger   map[string][]models.Transaction // oldest first
	idem     map[idemKey]IdempotencyRecord
	pins     map[string]string

	locksMu sync.Mutex
	locks   map[string]*semaphore.Weighted

	lockTimeout time.Duration
	now         func() time.Time
}

type idemKey struct {
	accountID string
	key       string
}

// NewMemoryStore returns an empty store. lockTimeout bounds how long InTx
// waits for account locks.
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[string]models.Account),
		byNumber:    make(map[string]string),
		ledger:      make(map[string][]models.Transaction),
		idem:        make(map[idemKey]IdempotencyRecord),
		pins:        make(map[string]string),
		locks:       make(map[string]*semaphore.Weighted),
		lockTimeout: lockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &a, nil
}

func (s *MemoryStore) GetByAccountNumber(ctx context.Context, number string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byNumber[number]
	if !ok {
		return nil, ErrAccountNotFound
	}
	a := s.accounts[id]
	return &a, nil
}

// AdjustBalance applies delta as a single-account transaction.
func (s *MemoryStore) AdjustBalance(ctx context.Context, id string, delta money.Amount) (*models.Account, error) {
	var out *models.Account
	err := s.InTx(ctx, []string{id}, func(ctx context.Context, tx Tx) error {
		a, err := tx.AdjustBalance(ctx, id, delta)
		out = a
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MemoryStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[accountID]; !ok {
		return nil, ErrAccountNotFound
	}
	recs := s.ledger[accountID]
	n := len(recs)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.Transaction, 0, n)
	for i := len(recs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, recs[i])
	}
	return out, nil
}

func (s *MemoryStore) GetPinHash(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.pins[userID]
	if !ok {
		return "", ErrPinNotSet
	}
	return h, nil
}

func (s *MemoryStore) SetPinHash(ctx context.Context, userID, hash string) error {
	s.mu.Lock()
	s.pins[userID] = hash
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) lockFor(id string) *semaphore.Weighted {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = semaphore.NewWeighted(1)
		s.locks[id] = l
	}
	return l
}

func (s *MemoryStore) InTx(ctx context.Context, lockIDs []string, fn func(ctx context.Context, tx Tx) error) error {
	ids := lockOrder(lockIDs)

	acquireCtx := ctx
	if s.lockTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}

	held := make([]*semaphore.Weighted, 0, len(ids))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Release(1)
		}
	}()
	for _, id := range ids {
		l := s.lockFor(id)
		if err := l.Acquire(acquireCtx, 1); err != nil {
			if ctx.Err() == context.Canceled {
				return ctx.Err()
			}
			return ErrContention
		}
		held = append(held, l)
	}

	tx := &memTx{
		store:   s,
		locked:  make(map[string]bool, len(ids)),
		staged:  make(map[string]models.Account),
		created: make(map[string]bool),
		idem:    make(map[idemKey]IdempotencyRecord),
	}
	for _, id := range ids {
		tx.locked[id] = true
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *MemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Account numbers are not covered by the id locks, so uniqueness is
	// rechecked before anything is applied.
	for id := range tx.created {
		a := tx.staged[id]
		if _, ok := s.accounts[id]; ok {
			return ErrDuplicateAccount
		}
		if _, ok := s.byNumber[a.AccountNumber]; ok {
			return ErrDuplicateAccountNumber
		}
	}

	for id, a := range tx.staged {
		s.accounts[id] = a
		if tx.created[id] {
			s.byNumber[a.AccountNumber] = id
		}
	}
	for _, rec := range tx.appends {
		s.ledger[rec.AccountID] = append(s.ledger[rec.AccountID], rec)
	}
	for k, rec := range tx.idem {
		s.idem[k] = rec
	}
	return nil
}

// memTx stages writes until commit. It is used by a single goroutine.
type memTx struct {
	store   *MemoryStore
	locked  map[string]bool
	staged  map[string]models.Account
	created map[string]bool
	appends []models.Transaction
	idem    map[idemKey]IdempotencyRecord
}

func (t *memTx) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if a, ok := t.staged[id]; ok {
		return &a, nil
	}
	return t.store.GetByID(ctx, id)
}

func (t *memTx) GetByAccountNumber(ctx context.Context, number string) (*models.Account, error) {
	for _, a := range t.staged {
		if a.AccountNumber == number {
			return &a, nil
		}
	}
	return t.store.GetByAccountNumber(ctx, number)
}

func (t *memTx) AdjustBalance(ctx context.Context, id string, delta money.Amount) (*models.Account, error) {
	if !t.locked[id] {
		return nil, fmt.Errorf("adjust %s: %w", id, ErrNotLocked)
	}
	a, err := t.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next := a.Balance + delta
	if next < 0 {
		return nil, ErrNegativeBalance
	}
	a.Balance = next
	a.Version++
	a.UpdatedAt = t.store.now()
	t.staged[id] = *a
	return a, nil
}

func (t *memTx) Append(ctx context.Context, rec *models.Transaction) (*models.Transaction, error) {
	if _, err := t.GetByID(ctx, rec.AccountID); err != nil {
		return nil, err
	}
	out := *rec
	out.CreatedAt = t.store.now()
	out.ID = utils.GenerateSortableID("txn", out.CreatedAt)
	if out.Status == "" {
		out.Status = models.StatusCompleted
	}
	t.appends = append(t.appends, out)
	return &out, nil
}

func (t *memTx) CreateAccount(ctx context.Context, a *models.Account) (*models.Account, error) {
	if !t.locked[a.ID] {
		return nil, fmt.Errorf("create %s: %w", a.ID, ErrNotLocked)
	}
	if _, err := t.GetByID(ctx, a.ID); err == nil {
		return nil, ErrDuplicateAccount
	} else if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}
	if _, err := t.GetByAccountNumber(ctx, a.AccountNumber); err == nil {
		return nil, ErrDuplicateAccountNumber
	}
	if a.Balance < 0 {
		return nil, ErrNegativeBalance
	}
	out := *a
	now := t.store.now()
	out.CreatedAt, out.UpdatedAt = now, now
	t.staged[out.ID] = out
	t.created[out.ID] = true
	return &out, nil
}

func (t *memTx) GetIdempotent(ctx context.Context, accountID, key string) (*IdempotencyRecord, error) {
	k := idemKey{accountID, key}
	if rec, ok := t.idem[k]; ok {
		return &rec, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if rec, ok := t.store.idem[k]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (t *memTx) SaveIdempotent(ctx context.Context, rec *IdempotencyRecord) error {
	k := idemKey{rec.AccountID, rec.Key}
	if _, ok := t.idem[k]; ok {
		return fmt.Errorf("idempotency key %q already used", rec.Key)
	}
	out := *rec
	out.CreatedAt = t.store.now()
	t.idem[k] = out
	return nil
}
