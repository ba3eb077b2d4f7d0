// Package engine moves money between wallets. Every operation validates its
// input, checks the caller's PIN and resolves the recipient first, then runs
// a short critical section through repository.Store.InTx in which balances
// are re-read under lock, mutated and explained by ledger records.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Murzuq/Cash-Padi/shared/models"
	"github.com/Murzuq/Cash-Padi/shared/money"
	"github.com/Murzuq/Cash-Padi/shared/utils"
	"github.com/Murzuq/Cash-Padi/wallet-service/internal/repository"
	"go.uber.org/zap"
)

const (
	opTransfer = "transfer"
	opPurchase = "purchase"

	// maxNumberAttempts bounds retries when a fresh account number collides.
	maxNumberAttempts = 5

	WelcomeTitle        = "Initial Deposit"
	WelcomeDescription  = "Welcome bonus deposit."
	DefaultDepositTitle = "Deposit"
)

// PinGate answers whether the user knows their transaction PIN.
type PinGate interface {
	VerifyPin(ctx context.Context, userID, pin string) (bool, error)
}

// RecipientResolver maps an account number to the public identity of its
// holder. It returns an error matching ErrRecipientNotFound or
// repository.ErrAccountNotFound when nothing matches.
type RecipientResolver interface {
	ResolveAccount(ctx context.Context, accountNumber string) (*models.RecipientView, error)
}

type Config struct {
	// LockTimeout bounds each critical section, lock waits included.
	LockTimeout  time.Duration
	WelcomeBonus money.Amount
}

type Engine struct {
	store    repository.Store
	pins     PinGate
	resolver RecipientResolver
	cfg      Config
	logger   *zap.Logger

	newAccountNumber func() string
}

func New(store repository.Store, pins PinGate, resolver RecipientResolver, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:            store,
		pins:             pins,
		resolver:         resolver,
		cfg:              cfg,
		logger:           logger,
		newAccountNumber: utils.GenerateAccountNumber,
	}
}

type TransferInput struct {
	SourceAccountID          string
	DestinationAccountNumber string
	Amount                   money.Amount
	Narration                string
	Pin                      string
	IdempotencyKey           string
}

type TransferReceipt struct {
	SenderNewBalance    money.Amount
	RecipientNewBalance money.Amount
	Debit               models.Transaction
	Credit              models.Transaction
	// Replayed is set when the receipt was served from an earlier call with
	// the same idempotency key.
	Replayed bool
}

// Purchase describes what was bought. The engine passes it through to the
// ledger record untouched.
type Purchase struct {
	Title       string
	Description string
}

type PurchaseInput struct {
	AccountID      string
	Category       models.TransactionType
	Amount         money.Amount
	Purchase       Purchase
	Pin            string
	IdempotencyKey string
}

type PurchaseReceipt struct {
	NewBalance money.Amount       `json:"newBalance"`
	Record     models.Transaction `json:"record"`
	Replayed   bool               `json:"-"`
}

type DepositInput struct {
	AccountID   string
	Amount      money.Amount
	Title       string
	Description string
}

type DepositReceipt struct {
	NewBalance money.Amount
	Record     models.Transaction
}

type AccountReceipt struct {
	Account models.Account
	// Welcome is nil when no welcome bonus is configured.
	Welcome *models.Transaction
}

// storedTransfer is the idempotency payload of a transfer. Record account
// ids are not part of their JSON form, so they are kept alongside.
type storedTransfer struct {
	SenderNewBalance    money.Amount       `json:"senderNewBalance"`
	RecipientNewBalance money.Amount       `json:"recipientNewBalance"`
	RecipientID         string             `json:"recipientId"`
	Debit               models.Transaction `json:"debit"`
	Credit              models.Transaction `json:"credit"`
}

// Transfer moves amount from the source account to the account holding the
// destination number, writing a debit and a credit record.
func (e *Engine) Transfer(ctx context.Context, in TransferInput) (*TransferReceipt, error) {
	if !in.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if err := e.checkPin(ctx, in.SourceAccountID, in.Pin); err != nil {
		return nil, err
	}

	recipient, err := e.resolver.ResolveAccount(ctx, in.DestinationAccountNumber)
	if err != nil {
		if errors.Is(err, ErrRecipientNotFound) || errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, fmt.Errorf("failed to resolve recipient: %w", err)
	}
	if recipient.ID == in.SourceAccountID {
		return nil, ErrSelfTransfer
	}

	ctx, cancel := e.bound(ctx)
	defer cancel()

	transferPrint := fingerprint(recipient.ID, in.Amount.String(), in.Narration)

	var receipt *TransferReceipt
	err = e.store.InTx(ctx, []string{in.SourceAccountID, recipient.ID}, func(ctx context.Context, tx repository.Tx) error {
		if in.IdempotencyKey != "" {
			prev, err := e.replay(ctx, tx, in.SourceAccountID, in.IdempotencyKey, opTransfer, transferPrint)
			if err != nil || prev != nil {
				if prev != nil {
					receipt, err = decodeTransfer(in.SourceAccountID, prev)
				}
				return err
			}
		}

		src, err := tx.GetByID(ctx, in.SourceAccountID)
		if err != nil {
			return notFound(err, ErrSourceNotFound)
		}
		dst, err := tx.GetByID(ctx, recipient.ID)
		if err != nil {
			return notFound(err, ErrRecipientNotFound)
		}
		if src.Balance < in.Amount {
			return ErrInsufficientBalance
		}

		src, err = tx.AdjustBalance(ctx, src.ID, in.Amount.Neg())
		if err != nil {
			return err
		}
		dst, err = tx.AdjustBalance(ctx, dst.ID, in.Amount)
		if err != nil {
			return err
		}

		debit, err := tx.Append(ctx, &models.Transaction{
			AccountID:   src.ID,
			Title:       "To " + dst.Name,
			Type:        models.TypeTransfer,
			Amount:      in.Amount.Neg(),
			Status:      models.StatusCompleted,
			Description: in.Narration,
		})
		if err != nil {
			return err
		}
		credit, err := tx.Append(ctx, &models.Transaction{
			AccountID:   dst.ID,
			Title:       "From " + src.Name,
			Type:        models.TypeTransfer,
			Amount:      in.Amount,
			Status:      models.StatusCompleted,
			Description: in.Narration,
		})
		if err != nil {
			return err
		}

		receipt = &TransferReceipt{
			SenderNewBalance:    src.Balance,
			RecipientNewBalance: dst.Balance,
			Debit:               *debit,
			Credit:              *credit,
		}
		if in.IdempotencyKey != "" {
			return e.remember(ctx, tx, in.SourceAccountID, in.IdempotencyKey, opTransfer, transferPrint, storedTransfer{
				SenderNewBalance:    receipt.SenderNewBalance,
				RecipientNewBalance: receipt.RecipientNewBalance,
				RecipientID:         dst.ID,
				Debit:               receipt.Debit,
				Credit:              receipt.Credit,
			})
		}
		return nil
	})
	if err != nil {
		return nil, e.storeError("transfer", err)
	}
	return receipt, nil
}

// DebitPurchase takes amount off one account for an airtime, data or bill
// purchase.
func (e *Engine) DebitPurchase(ctx context.Context, in PurchaseInput) (*PurchaseReceipt, error) {
	if !in.Category.IsPurchase() {
		return nil, ErrInvalidCategory
	}
	if !in.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if err := e.checkPin(ctx, in.AccountID, in.Pin); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(in.Purchase.Title)
	if title == "" {
		title = string(in.Category)
	}

	ctx, cancel := e.bound(ctx)
	defer cancel()

	purchasePrint := fingerprint(string(in.Category), in.Amount.String(), title, in.Purchase.Description)

	var receipt *PurchaseReceipt
	err := e.store.InTx(ctx, []string{in.AccountID}, func(ctx context.Context, tx repository.Tx) error {
		if in.IdempotencyKey != "" {
			prev, err := e.replay(ctx, tx, in.AccountID, in.IdempotencyKey, opPurchase, purchasePrint)
			if err != nil || prev != nil {
				if prev != nil {
					receipt, err = decodePurchase(in.AccountID, prev)
				}
				return err
			}
		}

		acc, err := tx.GetByID(ctx, in.AccountID)
		if err != nil {
			return notFound(err, ErrAccountNotFound)
		}
		if acc.Balance < in.Amount {
			return ErrInsufficientBalance
		}
		acc, err = tx.AdjustBalance(ctx, acc.ID, in.Amount.Neg())
		if err != nil {
			return err
		}
		rec, err := tx.Append(ctx, &models.Transaction{
			AccountID:   acc.ID,
			Title:       title,
			Type:        in.Category,
			Amount:      in.Amount.Neg(),
			Status:      models.StatusCompleted,
			Description: in.Purchase.Description,
		})
		if err != nil {
			return err
		}

		receipt = &PurchaseReceipt{NewBalance: acc.Balance, Record: *rec}
		if in.IdempotencyKey != "" {
			return e.remember(ctx, tx, in.AccountID, in.IdempotencyKey, opPurchase, purchasePrint, receipt)
		}
		return nil
	})
	if err != nil {
		return nil, e.storeError("purchase", err)
	}
	return receipt, nil
}

// Deposit credits an account. It is for trusted callers and takes no PIN.
func (e *Engine) Deposit(ctx context.Context, in DepositInput) (*DepositReceipt, error) {
	if !in.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	ctx, cancel := e.bound(ctx)
	defer cancel()

	var receipt *DepositReceipt
	err := e.store.InTx(ctx, []string{in.AccountID}, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.GetByID(ctx, in.AccountID); err != nil {
			return notFound(err, ErrAccountNotFound)
		}
		var err error
		receipt, err = deposit(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, e.storeError("deposit", err)
	}
	return receipt, nil
}

// OpenAccount creates the wallet of accountID with a fresh account number
// and, in the same unit, credits the welcome bonus.
func (e *Engine) OpenAccount(ctx context.Context, accountID, name string) (*AccountReceipt, error) {
	name = strings.TrimSpace(name)
	if accountID == "" || name == "" {
		return nil, ErrInvalidAccount
	}

	ctx, cancel := e.bound(ctx)
	defer cancel()

	for attempt := 1; ; attempt++ {
		var receipt *AccountReceipt
		err := e.store.InTx(ctx, []string{accountID}, func(ctx context.Context, tx repository.Tx) error {
			acc, err := tx.CreateAccount(ctx, &models.Account{
				ID:            accountID,
				AccountNumber: e.newAccountNumber(),
				Name:          name,
			})
			if err != nil {
				return err
			}
			receipt = &AccountReceipt{Account: *acc}
			if !e.cfg.WelcomeBonus.IsPositive() {
				return nil
			}
			dep, err := deposit(ctx, tx, DepositInput{
				AccountID:   accountID,
				Amount:      e.cfg.WelcomeBonus,
				Title:       WelcomeTitle,
				Description: WelcomeDescription,
			})
			if err != nil {
				return err
			}
			receipt.Account.Balance = dep.NewBalance
			receipt.Welcome = &dep.Record
			return nil
		})
		switch {
		case err == nil:
			return receipt, nil
		case errors.Is(err, repository.ErrDuplicateAccount):
			return nil, ErrAccountExists
		case errors.Is(err, repository.ErrDuplicateAccountNumber) && attempt < maxNumberAttempts:
			e.logger.Debug("account number collision, retrying", zap.String("account_id", accountID), zap.Int("attempt", attempt))
			continue
		default:
			return nil, e.storeError("open account", err)
		}
	}
}

func deposit(ctx context.Context, tx repository.Tx, in DepositInput) (*DepositReceipt, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = DefaultDepositTitle
	}
	acc, err := tx.AdjustBalance(ctx, in.AccountID, in.Amount)
	if err != nil {
		return nil, err
	}
	rec, err := tx.Append(ctx, &models.Transaction{
		AccountID:   acc.ID,
		Title:       title,
		Type:        models.TypeDeposit,
		Amount:      in.Amount,
		Status:      models.StatusCompleted,
		Description: in.Description,
	})
	if err != nil {
		return nil, err
	}
	return &DepositReceipt{NewBalance: acc.Balance, Record: *rec}, nil
}

func (e *Engine) checkPin(ctx context.Context, userID, pin string) error {
	ok, err := e.pins.VerifyPin(ctx, userID, pin)
	if errors.Is(err, repository.ErrPinNotSet) {
		return ErrPinNotSet
	}
	if err != nil {
		return fmt.Errorf("failed to verify pin: %w", err)
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.LockTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.LockTimeout)
}

// replay returns the stored payload for key, or nil when the key is new. A
// key first used for another operation or another request is rejected.
func (e *Engine) replay(ctx context.Context, tx repository.Tx, accountID, key, op, fp string) ([]byte, error) {
	prev, err := tx.GetIdempotent(ctx, accountID, key)
	if err != nil || prev == nil {
		return nil, err
	}
	if prev.Operation != op || prev.Fingerprint != fp {
		return nil, ErrIdempotencyKeyReused
	}
	return prev.Response, nil
}

func (e *Engine) remember(ctx context.Context, tx repository.Tx, accountID, key, op, fp string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode receipt: %w", err)
	}
	return tx.SaveIdempotent(ctx, &repository.IdempotencyRecord{
		AccountID:   accountID,
		Key:         key,
		Operation:   op,
		Fingerprint: fp,
		Response:    data,
	})
}

// fingerprint hashes the fields that make a keyed request what it is.
func fingerprint(fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func decodeTransfer(sourceID string, data []byte) (*TransferReceipt, error) {
	var st storedTransfer
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode stored receipt: %w", err)
	}
	st.Debit.AccountID = sourceID
	st.Credit.AccountID = st.RecipientID
	return &TransferReceipt{
		SenderNewBalance:    st.SenderNewBalance,
		RecipientNewBalance: st.RecipientNewBalance,
		Debit:               st.Debit,
		Credit:              st.Credit,
		Replayed:            true,
	}, nil
}

func decodePurchase(accountID string, data []byte) (*PurchaseReceipt, error) {
	var r PurchaseReceipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode stored receipt: %w", err)
	}
	r.Record.AccountID = accountID
	r.Replayed = true
	return &r, nil
}

func notFound(err, as error) error {
	if errors.Is(err, repository.ErrAccountNotFound) {
		return as
	}
	return err
}

// storeError maps store failures onto the engine taxonomy. Engine failures
// returned from inside a callback pass through unchanged.
func (e *Engine) storeError(op string, err error) error {
	switch {
	case IsDomainError(err):
		return err
	case errors.Is(err, repository.ErrContention):
		return ErrContention
	case errors.Is(err, repository.ErrNegativeBalance):
		e.logger.Error("store rejected a validated debit", zap.String("op", op), zap.Error(err))
		return ErrNegativeBalance
	case errors.Is(err, repository.ErrAccountNotFound):
		return ErrAccountNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return ErrContention
	}
	return fmt.Errorf("%s: %w", op, err)
}
