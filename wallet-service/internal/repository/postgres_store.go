package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/Murzuq/Cash-Padi/shared/models"
	"github.com/Murzuq/Cash-Padi/shared/money"
	"github.com/Murzuq/Cash-Padi/shared/utils"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// SQLSTATE codes the store reacts to.
const (
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
	codeCheckViolation       = "23514"
	codeForeignKeyViolation  = "23503"
	codeUniqueViolation      = "23505"
)

// Constraint names from schema.sql that map onto store errors.
const (
	constraintBalanceCheck  = "accounts_balance_check"
	constraintAccountNumber = "accounts_account_number_key"
)

const accountColumns = `id, account_number, name, balance, version, created_at, updated_at`

// PostgresStore is the source of truth for balances and the ledger.
type PostgresStore struct {
	db          *sql.DB
	lockTimeout time.Duration
	now         func() time.Time
}

func NewPostgresStore(db *sql.DB, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{
		db:          db,
		lockTimeout: lockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return getAccount(ctx, s.db, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (s *PostgresStore) GetByAccountNumber(ctx context.Context, number string) (*models.Account, error) {
	return getAccount(ctx, s.db, `SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, number)
}

func (s *PostgresStore) AdjustBalance(ctx context.Context, id string, delta money.Amount) (*models.Account, error) {
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

func (s *PostgresStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]models.Transaction, error) {
	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	query := `
		SELECT id, account_id, title, type, amount, status, description, created_at
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, accountID, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	out := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		var desc sql.NullString
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Title, &t.Type, &t.Amount, &t.Status, &desc, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Description = desc.String
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	if len(out) == 0 {
		if _, err := s.GetByID(ctx, accountID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PostgresStore) GetPinHash(ctx context.Context, userID string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT pin_hash FROM wallet_pins WHERE user_id = $1`, userID).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", ErrPinNotSet
	}
	if err != nil {
		return "", fmt.Errorf("failed to get pin: %w", err)
	}
	return hash, nil
}

func (s *PostgresStore) SetPinHash(ctx context.Context, userID, hash string) error {
	query := `
		INSERT INTO wallet_pins (user_id, pin_hash, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET pin_hash = EXCLUDED.pin_hash, updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, userID, hash); err != nil {
		return fmt.Errorf("failed to set pin: %w", err)
	}
	return nil
}

// InTx runs fn in a READ COMMITTED transaction after taking row locks on
// lockIDs in sorted order. Ids that have no row yet are skipped; inserts
// into them are serialized by the primary key.
func (s *PostgresStore) InTx(ctx context.Context, lockIDs []string, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError(ctx, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return mapError(ctx, fmt.Errorf("failed to set lock timeout: %w", err))
		}
	}

	for _, id := range lockOrder(lockIDs) {
		var locked string
		err := tx.QueryRowContext(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return mapError(ctx, fmt.Errorf("failed to lock account %s: %w", id, err))
		}
	}

	if err := fn(ctx, &pgTx{tx: tx, now: s.now}); err != nil {
		return mapError(ctx, err)
	}
	if err := tx.Commit(); err != nil {
		return mapError(ctx, fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// mapError turns driver-level lock and constraint failures into store
// errors. Anything else is returned unchanged.
func mapError(ctx context.Context, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
			return ErrContention
		case codeCheckViolation:
			if pqErr.Constraint == constraintBalanceCheck {
				return ErrNegativeBalance
			}
			return fmt.Errorf("check constraint %s violated: %w", pqErr.Constraint, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrContention
	}
	return err
}

type pgTx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *pgTx) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return getAccount(ctx, t.tx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (t *pgTx) GetByAccountNumber(ctx context.Context, number string) (*models.Account, error) {
	return getAccount(ctx, t.tx, `SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, number)
}

// AdjustBalance only updates when the result stays non-negative, so the
// CHECK constraint is a second line rather than the first.
func (t *pgTx) AdjustBalance(ctx context.Context, id string, delta money.Amount) (*models.Account, error) {
	query := `
		UPDATE accounts
		SET balance = balance + $2, version = version + 1, updated_at = $3
		WHERE id = $1 AND balance + $2 >= 0
		RETURNING ` + accountColumns
	a, err := getAccount(ctx, t.tx, query, id, int64(delta), t.now())
	if !errors.Is(err, ErrAccountNotFound) {
		return a, err
	}
	var exists bool
	if err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check account: %w", err)
	}
	if exists {
		return nil, ErrNegativeBalance
	}
	return nil, ErrAccountNotFound
}

func (t *pgTx) Append(ctx context.Context, rec *models.Transaction) (*models.Transaction, error) {
	out := *rec
	out.CreatedAt = t.now()
	out.ID = utils.GenerateSortableID("txn", out.CreatedAt)
	if out.Status == "" {
		out.Status = models.StatusCompleted
	}
	query := `
		INSERT INTO transactions (id, account_id, title, type, amount, status, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := t.tx.ExecContext(ctx, query,
		out.ID, out.AccountID, out.Title, string(out.Type),
		int64(out.Amount), string(out.Status), nullString(out.Description), out.CreatedAt,
	)
	if err != nil {
		if isCode(err, codeForeignKeyViolation) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to append transaction: %w", err)
	}
	return &out, nil
}

func (t *pgTx) CreateAccount(ctx context.Context, a *models.Account) (*models.Account, error) {
	out := *a
	now := t.now()
	out.CreatedAt, out.UpdatedAt = now, now
	query := `
		INSERT INTO accounts (id, account_number, name, balance, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := t.tx.ExecContext(ctx, query,
		out.ID, out.AccountNumber, out.Name, int64(out.Balance), out.Version, out.CreatedAt, out.UpdatedAt,
	)
	if err != nil {
		return nil, createError(err)
	}
	return &out, nil
}

func createError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == codeUniqueViolation {
		if pqErr.Constraint == constraintAccountNumber {
			return ErrDuplicateAccountNumber
		}
		return ErrDuplicateAccount
	}
	return fmt.Errorf("failed to create account: %w", err)
}

func (t *pgTx) GetIdempotent(ctx context.Context, accountID, key string) (*IdempotencyRecord, error) {
	rec := IdempotencyRecord{AccountID: accountID, Key: key}
	query := `SELECT operation, fingerprint, response, created_at FROM idempotency_keys WHERE account_id = $1 AND key = $2`
	err := t.tx.QueryRowContext(ctx, query, accountID, key).Scan(&rec.Operation, &rec.Fingerprint, &rec.Response, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency key: %w", err)
	}
	return &rec, nil
}

func (t *pgTx) SaveIdempotent(ctx context.Context, rec *IdempotencyRecord) error {
	query := `
		INSERT INTO idempotency_keys (account_id, key, operation, fingerprint, response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := t.tx.ExecContext(ctx, query, rec.AccountID, rec.Key, rec.Operation, rec.Fingerprint, string(rec.Response), t.now()); err != nil {
		return fmt.Errorf("failed to save idempotency key: %w", err)
	}
	return nil
}

func getAccount(ctx context.Context, q queryer, query string, args ...any) (*models.Account, error) {
	var a models.Account
	err := q.QueryRowContext(ctx, query, args...).Scan(
		&a.ID, &a.AccountNumber, &a.Name, &a.Balance, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}

func isCode(err error, code string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == code
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
