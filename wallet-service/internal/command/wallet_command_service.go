package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Murzuq/Cash-Padi/shared/cqrs"
	"github.com/Murzuq/Cash-Padi/shared/events"
	"github.com/Murzuq/Cash-Padi/shared/models"
	"github.com/Murzuq/Cash-Padi/shared/money"
	"github.com/Murzuq/Cash-Padi/shared/utils"
	"github.com/Murzuq/Cash-Padi/wallet-service/internal/engine"
	"github.com/Murzuq/Cash-Padi/wallet-service/internal/metrics"
	"github.com/Murzuq/Cash-Padi/wallet-service/internal/service"
	"go.uber.org/zap"
)

// MinimumPurchase is the smallest airtime, data or bill payment accepted.
var MinimumPurchase = money.Naira(50)

const PhoneNumberLength = 11

var (
	ErrBelowMinimum = fmt.Errorf("amount must be at least %s", MinimumPurchase)
	ErrInvalidPhone = errors.New("phone number must be 11 digits")
)

const publishTimeout = 5 * time.Second

// PinSetter stores transaction PINs.
type PinSetter interface {
	SetPin(ctx context.Context, userID, pin string) error
}

// WalletCommandService runs money movements through the engine and, once
// they are committed, announces them on the wallet event stream.
type WalletCommandService struct {
	engine    *engine.Engine
	pins      PinSetter
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewWalletCommandService(
	eng *engine.Engine,
	pins PinSetter,
	publisher events.Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *WalletCommandService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WalletCommandService{
		engine:    eng,
		pins:      pins,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

func (s *WalletCommandService) OpenAccount(ctx context.Context, cmd cqrs.OpenAccountCommand) (*models.AccountView, error) {
	start := time.Now()
	receipt, err := s.engine.OpenAccount(ctx, cmd.UserID, cmd.Name)
	s.observe("open_account", start, err, zap.String("user_id", cmd.UserID))
	if err != nil {
		return nil, err
	}

	acc := receipt.Account
	s.publish(ctx, events.WalletOpened, events.WalletOpenedEvent{
		AccountID:     acc.ID,
		AccountNumber: acc.AccountNumber,
		Name:          acc.Name,
		Balance:       acc.Balance,
	})
	if receipt.Welcome != nil {
		s.metrics.AddMoved("deposit", int64(receipt.Welcome.Amount))
		s.publishRecord(ctx, receipt.Welcome)
		s.publishBalance(ctx, acc.ID, acc.Balance, receipt.Welcome.Amount)
	}
	return models.ToAccountView(&acc), nil
}

func (s *WalletCommandService) SetPin(ctx context.Context, cmd cqrs.SetPinCommand) error {
	if err := s.pins.SetPin(ctx, cmd.UserID, cmd.Pin); err != nil {
		return err
	}
	s.logger.Info("transaction pin set", zap.String("user_id", cmd.UserID))
	return nil
}

func (s *WalletCommandService) Transfer(ctx context.Context, cmd cqrs.TransferCommand) (*engine.TransferReceipt, error) {
	start := time.Now()
	receipt, err := s.engine.Transfer(ctx, engine.TransferInput{
		SourceAccountID:          cmd.UserID,
		DestinationAccountNumber: cmd.AccountNumber,
		Amount:                   cmd.Amount,
		Narration:                strings.TrimSpace(cmd.Narration),
		Pin:                      cmd.Pin,
		IdempotencyKey:           cmd.IdempotencyKey,
	})
	s.observe("transfer", start, err, zap.String("user_id", cmd.UserID), zap.String("to", cmd.AccountNumber))
	if err != nil {
		return nil, err
	}
	if receipt.Replayed {
		return receipt, nil
	}

	s.metrics.AddMoved("transfer", int64(cmd.Amount))
	s.publishRecord(ctx, &receipt.Debit)
	s.publishRecord(ctx, &receipt.Credit)
	s.publishBalance(ctx, receipt.Debit.AccountID, receipt.SenderNewBalance, receipt.Debit.Amount)
	s.publishBalance(ctx, receipt.Credit.AccountID, receipt.RecipientNewBalance, receipt.Credit.Amount)
	return receipt, nil
}

func (s *WalletCommandService) BuyAirtime(ctx context.Context, cmd cqrs.BuyAirtimeCommand) (*engine.PurchaseReceipt, error) {
	if err := checkPhone(cmd.PhoneNumber); err != nil {
		return nil, err
	}
	network := strings.TrimSpace(cmd.Network)
	return s.purchase(ctx, engine.PurchaseInput{
		AccountID: cmd.UserID,
		Category:  models.TypeAirtime,
		Amount:    cmd.Amount,
		Purchase: engine.Purchase{
			Title:       network + " Airtime",
			Description: "Airtime for " + cmd.PhoneNumber,
		},
		Pin:            cmd.Pin,
		IdempotencyKey: cmd.IdempotencyKey,
	})
}

func (s *WalletCommandService) BuyData(ctx context.Context, cmd cqrs.BuyDataCommand) (*engine.PurchaseReceipt, error) {
	if err := checkPhone(cmd.PhoneNumber); err != nil {
		return nil, err
	}
	network := strings.TrimSpace(cmd.Network)
	return s.purchase(ctx, engine.PurchaseInput{
		AccountID: cmd.UserID,
		Category:  models.TypeData,
		Amount:    cmd.Amount,
		Purchase: engine.Purchase{
			Title:       network + " Data",
			Description: strings.TrimSpace(cmd.Plan) + " for " + cmd.PhoneNumber,
		},
		Pin:            cmd.Pin,
		IdempotencyKey: cmd.IdempotencyKey,
	})
}

func (s *WalletCommandService) PayBill(ctx context.Context, cmd cqrs.PayBillCommand) (*engine.PurchaseReceipt, error) {
	return s.purchase(ctx, engine.PurchaseInput{
		AccountID: cmd.UserID,
		Category:  models.TypeBills,
		Amount:    cmd.Amount,
		Purchase: engine.Purchase{
			Title:       strings.TrimSpace(cmd.Biller),
			Description: "Customer ID: " + strings.TrimSpace(cmd.CustomerID),
		},
		Pin:            cmd.Pin,
		IdempotencyKey: cmd.IdempotencyKey,
	})
}

func (s *WalletCommandService) purchase(ctx context.Context, in engine.PurchaseInput) (*engine.PurchaseReceipt, error) {
	op := strings.ToLower(string(in.Category))
	if in.Amount < MinimumPurchase {
		s.observe(op, time.Now(), ErrBelowMinimum, zap.String("user_id", in.AccountID))
		return nil, ErrBelowMinimum
	}

	start := time.Now()
	receipt, err := s.engine.DebitPurchase(ctx, in)
	s.observe(op, start, err, zap.String("user_id", in.AccountID))
	if err != nil {
		return nil, err
	}
	if receipt.Replayed {
		return receipt, nil
	}

	s.metrics.AddMoved(op, int64(in.Amount))
	s.publishRecord(ctx, &receipt.Record)
	s.publishBalance(ctx, in.AccountID, receipt.NewBalance, receipt.Record.Amount)
	return receipt, nil
}

// Deposit credits an account on behalf of a trusted system caller.
func (s *WalletCommandService) Deposit(ctx context.Context, cmd cqrs.DepositCommand) (*engine.DepositReceipt, error) {
	start := time.Now()
	receipt, err := s.engine.Deposit(ctx, engine.DepositInput{
		AccountID:   cmd.AccountID,
		Amount:      cmd.Amount,
		Description: strings.TrimSpace(cmd.Description),
	})
	s.observe("deposit", start, err, zap.String("account_id", cmd.AccountID))
	if err != nil {
		return nil, err
	}

	s.metrics.AddMoved("deposit", int64(cmd.Amount))
	s.publishRecord(ctx, &receipt.Record)
	s.publishBalance(ctx, cmd.AccountID, receipt.NewBalance, receipt.Record.Amount)
	return receipt, nil
}

// HandleUserEvent opens a wallet for every newly registered user. Redelivery
// is harmless: an existing wallet is left alone.
func (s *WalletCommandService) HandleUserEvent(ctx context.Context, event events.Event) error {
	if event.Type != events.UserCreated {
		return nil
	}
	var data events.UserCreatedEvent
	if err := events.DecodeData(event, &data); err != nil {
		s.metrics.EventConsumed(event.Type, "invalid")
		return err
	}

	name := strings.TrimSpace(data.Name)
	if name == "" {
		name = data.Email
	}
	_, err := s.OpenAccount(ctx, cqrs.OpenAccountCommand{UserID: data.UserID, Name: name})
	switch {
	case err == nil:
		s.metrics.EventConsumed(event.Type, "success")
		return nil
	case errors.Is(err, engine.ErrAccountExists):
		s.logger.Info("wallet already open, skipping duplicate event", zap.String("user_id", data.UserID))
		s.metrics.EventConsumed(event.Type, "duplicate")
		return nil
	default:
		s.metrics.EventConsumed(event.Type, "error")
		return fmt.Errorf("failed to open wallet for %s: %w", data.UserID, err)
	}
}

func (s *WalletCommandService) publishRecord(ctx context.Context, rec *models.Transaction) {
	s.publish(ctx, events.TransactionCreated, events.TransactionCreatedEvent{
		TransactionID: rec.ID,
		AccountID:     rec.AccountID,
		Title:         rec.Title,
		Type:          string(rec.Type),
		Amount:        rec.Amount,
		Status:        string(rec.Status),
	})
}

func (s *WalletCommandService) publishBalance(ctx context.Context, accountID string, balance, change money.Amount) {
	s.publish(ctx, events.BalanceUpdated, events.BalanceUpdatedEvent{
		AccountID:  accountID,
		NewBalance: balance,
		Change:     change,
	})
}

// publish runs after commit, so a failure here is logged and dropped. The
// request context may already be cancelled by then.
func (s *WalletCommandService) publish(ctx context.Context, eventType string, data any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, events.WalletEventsStream, eventType, data); err != nil {
		s.metrics.PublishFailed()
		s.logger.Warn("failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}

func (s *WalletCommandService) observe(op string, start time.Time, err error, fields ...zap.Field) {
	outcome := Outcome(err)
	s.metrics.Observe(op, outcome, time.Since(start))

	fields = append(fields, zap.String("op", op), zap.String("outcome", outcome))
	switch {
	case err == nil:
		s.logger.Debug("wallet operation completed", fields...)
	case errors.Is(err, engine.ErrNegativeBalance):
		s.logger.Error("wallet operation hit store invariant", append(fields, zap.Error(err))...)
	case engine.IsDomainError(err), isInputError(err):
		s.logger.Info("wallet operation rejected", append(fields, zap.Error(err))...)
	default:
		s.logger.Error("wallet operation failed", append(fields, zap.Error(err))...)
	}
}

func isInputError(err error) bool {
	return errors.Is(err, ErrBelowMinimum) || errors.Is(err, ErrInvalidPhone) ||
		errors.Is(err, service.ErrInvalidPin)
}

// Outcome is the metrics label for err.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, engine.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, engine.ErrUnauthorized), errors.Is(err, engine.ErrPinNotSet):
		return "unauthorized"
	case errors.Is(err, engine.ErrRecipientNotFound), errors.Is(err, engine.ErrSourceNotFound), errors.Is(err, engine.ErrAccountNotFound):
		return "not_found"
	case errors.Is(err, engine.ErrContention):
		return "contention"
	case errors.Is(err, engine.ErrNegativeBalance):
		return "invariant_violation"
	case errors.Is(err, engine.ErrAccountExists):
		return "exists"
	case engine.IsDomainError(err), isInputError(err):
		return "invalid"
	}
	return "error"
}

func checkPhone(phone string) error {
	if len(phone) != PhoneNumberLength || !utils.IsDigits(phone) {
		return ErrInvalidPhone
	}
	return nil
}
