package command

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Murzuq/Cash-Padi/shared/cqrs"
	"github.com/Murzuq/Cash-Padi/shared/events"
	"github.com/Murzuq/Cash-Padi/shared/models"
	"github.com/Murzuq/Cash-Padi/shared/money"
	"github.com/Murzuq/Cash-Padi/wallet-service/internal/engine"
	"github.com/Murzuq/Cash-Padi/wallet-service/internal/metrics"
	"github.com/Murzuq/Cash-Padi/wallet-service/internal/repository"
	"github.com/Murzuq/Cash-Padi/wallet-service/internal/service"
	"github.com/prometheus/client_golang/prometheus"
)

type published struct {
	stream    string
	eventType string
	data      any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, stream, eventType string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{stream, eventType, data})
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.eventType
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	p.events = nil
	p.mu.Unlock()
}

type fixture struct {
	svc   *WalletCommandService
	store *repository.MemoryStore
	pub   *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore(time.Second)
	gate := service.NewPinGate(store, service.NewMemoryAttemptLimiter(5, time.Minute), nil)
	resolver := service.NewRecipientResolver(store, nil, nil)
	eng := engine.New(store, gate, resolver, engine.Config{LockTimeout: time.Second, WelcomeBonus: money.Naira(50000)}, nil)
	pub := &recordingPublisher{}
	svc := NewWalletCommandService(eng, gate, pub, metrics.New(prometheus.NewRegistry()), nil)
	return &fixture{svc: svc, store: store, pub: pub}
}

func (f *fixture) open(t *testing.T, userID, name string) *models.AccountView {
	t.Helper()
	view, err := f.svc.OpenAccount(context.Background(), cqrs.OpenAccountCommand{UserID: userID, Name: name})
	if err != nil {
		t.Fatalf("open %s: %v", userID, err)
	}
	if err := f.svc.SetPin(context.Background(), cqrs.SetPinCommand{UserID: userID, Pin: "1234"}); err != nil {
		t.Fatalf("set pin %s: %v", userID, err)
	}
	return view
}

func equalTypes(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestOpenAccount_PublishesWelcome(t *testing.T) {
	f := newFixture(t)
	view := f.open(t, "user-1", "Ada")

	if view.Balance != money.Naira(50000) || view.Currency != models.Currency {
		t.Errorf("unexpected view %+v", view)
	}
	want := []string{events.WalletOpened, events.TransactionCreated, events.BalanceUpdated}
	if got := f.pub.types(); !equalTypes(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	for _, e := range f.pub.events {
		if e.stream != events.WalletEventsStream {
			t.Errorf("published on %q", e.stream)
		}
	}
}

func TestTransfer_PublishesBothSides(t *testing.T) {
	f := newFixture(t)
	f.open(t, "alice", "Alice")
	bola := f.open(t, "bola", "Bola")
	f.pub.reset()

	receipt, err := f.svc.Transfer(context.Background(), cqrs.TransferCommand{
		UserID: "alice", AccountNumber: bola.AccountNumber, Amount: money.Naira(1000), Narration: " lunch ", Pin: "1234",
	})
	if err != nil {
		t.Fatal(err)
	}
	if receipt.SenderNewBalance != money.Naira(49000) || receipt.Debit.Description != "lunch" {
		t.Errorf("unexpected receipt %+v", receipt)
	}

	want := []string{events.TransactionCreated, events.TransactionCreated, events.BalanceUpdated, events.BalanceUpdated}
	if got := f.pub.types(); !equalTypes(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	credit := f.pub.events[3].data.(events.BalanceUpdatedEvent)
	if credit.AccountID != "bola" || credit.NewBalance != money.Naira(51000) || credit.Change != money.Naira(1000) {
		t.Errorf("recipient balance event = %+v", credit)
	}
}

func TestTransfer_ReplayPublishesNothing(t *testing.T) {
	f := newFixture(t)
	f.open(t, "alice", "Alice")
	bola := f.open(t, "bola", "Bola")

	cmd := cqrs.TransferCommand{
		UserID: "alice", AccountNumber: bola.AccountNumber, Amount: money.Naira(10), Pin: "1234", IdempotencyKey: "abc",
	}
	if _, err := f.svc.Transfer(context.Background(), cmd); err != nil {
		t.Fatal(err)
	}
	f.pub.reset()
	receipt, err := f.svc.Transfer(context.Background(), cmd)
	if err != nil {
		t.Fatal(err)
	}
	if !receipt.Replayed {
		t.Error("expected replay")
	}
	if n := len(f.pub.types()); n != 0 {
		t.Errorf("replay published %d events", n)
	}
}

func TestTransfer_FailureIsNotPublished(t *testing.T) {
	f := newFixture(t)
	f.open(t, "alice", "Alice")
	bola := f.open(t, "bola", "Bola")
	f.pub.reset()

	_, err := f.svc.Transfer(context.Background(), cqrs.TransferCommand{
		UserID: "alice", AccountNumber: bola.AccountNumber, Amount: money.Naira(60000), Pin: "1234",
	})
	if !errors.Is(err, engine.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if n := len(f.pub.types()); n != 0 {
		t.Errorf("failure published %d events", n)
	}
}

func TestPurchases(t *testing.T) {
	f := newFixture(t)
	f.open(t, "alice", "Alice")
	ctx := context.Background()

	airtime, err := f.svc.BuyAirtime(ctx, cqrs.BuyAirtimeCommand{
		UserID: "alice", Network: "MTN", PhoneNumber: "08012345678", Amount: money.Naira(100), Pin: "1234",
	})
	if err != nil {
		t.Fatal(err)
	}
	if airtime.Record.Title != "MTN Airtime" || airtime.Record.Description != "Airtime for 08012345678" {
		t.Errorf("airtime record %+v", airtime.Record)
	}

	data, err := f.svc.BuyData(ctx, cqrs.BuyDataCommand{
		UserID: "alice", Network: "Glo", PhoneNumber: "08012345678", Plan: "1.5GB", Amount: money.Naira(500), Pin: "1234",
	})
	if err != nil {
		t.Fatal(err)
	}
	if data.Record.Title != "Glo Data" || data.Record.Description != "1.5GB for 08012345678" || data.Record.Type != models.TypeData {
		t.Errorf("data record %+v", data.Record)
	}

	bill, err := f.svc.PayBill(ctx, cqrs.PayBillCommand{
		UserID: "alice", Biller: "IKEDC", CustomerID: "45-1234", Amount: money.Naira(2000), Pin: "1234",
	})
	if err != nil {
		t.Fatal(err)
	}
	if bill.Record.Title != "IKEDC" || bill.Record.Description != "Customer ID: 45-1234" || bill.Record.Type != models.TypeBills {
		t.Errorf("bill record %+v", bill.Record)
	}
	if bill.NewBalance != money.Naira(50000-100-500-2000) {
		t.Errorf("balance = %s", bill.NewBalance)
	}
}

func TestPurchaseGuards(t *testing.T) {
	f := newFixture(t)
	f.open(t, "alice", "Alice")
	ctx := context.Background()

	if _, err := f.svc.BuyAirtime(ctx, cqrs.BuyAirtimeCommand{
		UserID: "alice", Network: "MTN", PhoneNumber: "08012345678", Amount: money.Naira(49), Pin: "1234",
	}); !errors.Is(err, ErrBelowMinimum) {
		t.Errorf("expected ErrBelowMinimum, got %v", err)
	}
	if _, err := f.svc.BuyData(ctx, cqrs.BuyDataCommand{
		UserID: "alice", Network: "MTN", PhoneNumber: "0801234567", Plan: "1GB", Amount: money.Naira(100), Pin: "1234",
	}); !errors.Is(err, ErrInvalidPhone) {
		t.Errorf("expected ErrInvalidPhone, got %v", err)
	}
	if _, err := f.svc.PayBill(ctx, cqrs.PayBillCommand{
		UserID: "alice", Biller: "DSTV", CustomerID: "1", Amount: money.Naira(100), Pin: "0000",
	}); !errors.Is(err, engine.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	acc, _ := f.store.GetByID(ctx, "alice")
	if acc.Balance != money.Naira(50000) {
		t.Errorf("guards let a debit through: %s", acc.Balance)
	}
}

func TestDeposit(t *testing.T) {
	f := newFixture(t)
	f.open(t, "alice", "Alice")
	f.pub.reset()

	receipt, err := f.svc.Deposit(context.Background(), cqrs.DepositCommand{AccountID: "alice", Amount: money.Naira(5), Description: "refund"})
	if err != nil {
		t.Fatal(err)
	}
	if receipt.NewBalance != money.Naira(50005) || receipt.Record.Description != "refund" {
		t.Errorf("unexpected receipt %+v", receipt)
	}
	if got := f.pub.types(); !equalTypes(got, []string{events.TransactionCreated, events.BalanceUpdated}) {
		t.Errorf("events = %v", got)
	}
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")

	if _, err := f.svc.OpenAccount(context.Background(), cqrs.OpenAccountCommand{UserID: "u", Name: "U"}); err != nil {
		t.Fatalf("publish failure leaked: %v", err)
	}
}

func TestHandleUserEvent(t *testing.T) {
	f := newFixture(t)
	event := events.Event{
		Type: events.UserCreated,
		Data: map[string]any{"userId": "user-9", "email": "ada@example.com", "name": "Ada Obi"},
	}

	if err := f.svc.HandleUserEvent(context.Background(), event); err != nil {
		t.Fatal(err)
	}
	acc, err := f.store.GetByID(context.Background(), "user-9")
	if err != nil {
		t.Fatal(err)
	}
	if acc.Name != "Ada Obi" || acc.Balance != money.Naira(50000) {
		t.Errorf("unexpected account %+v", acc)
	}

	// Redelivery is swallowed.
	if err := f.svc.HandleUserEvent(context.Background(), event); err != nil {
		t.Errorf("duplicate delivery returned %v", err)
	}
	acc, _ = f.store.GetByID(context.Background(), "user-9")
	if acc.Balance != money.Naira(50000) {
		t.Errorf("welcome bonus paid twice: %s", acc.Balance)
	}

	if err := f.svc.HandleUserEvent(context.Background(), events.Event{Type: "user.deleted"}); err != nil {
		t.Errorf("unrelated event returned %v", err)
	}
}

func TestOutcome(t *testing.T) {
	tests := map[string]error{
		"success":              nil,
		"insufficient_balance": engine.ErrInsufficientBalance,
		"unauthorized":         engine.ErrUnauthorized,
		"unauthorized_no_pin":  engine.ErrPinNotSet,
		"not_found":            engine.ErrRecipientNotFound,
		"contention":           engine.ErrContention,
		"invariant_violation":  engine.ErrNegativeBalance,
		"exists":               engine.ErrAccountExists,
		"invalid":              ErrBelowMinimum,
		"error":                errors.New("db down"),
	}
	for name, err := range tests {
		want := strings.TrimSuffix(name, "_no_pin")
		if got := Outcome(err); got != want {
			t.Errorf("Outcome(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestNilMetrics(t *testing.T) {
	store := repository.NewMemoryStore(time.Second)
	gate := service.NewPinGate(store, service.NewMemoryAttemptLimiter(5, time.Minute), nil)
	eng := engine.New(store, gate, service.NewRecipientResolver(store, nil, nil), engine.Config{LockTimeout: time.Second, WelcomeBonus: money.Naira(100)}, nil)
	svc := NewWalletCommandService(eng, gate, nil, nil, nil)

	if _, err := svc.OpenAccount(context.Background(), cqrs.OpenAccountCommand{UserID: "u1", Name: "Ada"}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := svc.HandleUserEvent(context.Background(), events.Event{Type: events.UserCreated, Data: map[string]any{"userId": "u1", "name": "Ada"}}); err != nil {
		t.Fatalf("duplicate user event: %v", err)
	}
	if _, err := svc.BuyAirtime(context.Background(), cqrs.BuyAirtimeCommand{
		UserID: "u1", Network: "MTN", PhoneNumber: "08012345678", Amount: money.Naira(60), Pin: "0000",
	}); !errors.Is(err, engine.ErrPinNotSet) {
		t.Fatalf("expected ErrPinNotSet, got %v", err)
	}
}
