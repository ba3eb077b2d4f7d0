package query

import (
	"context"
	"errors"

	"github.com/Murzuq/Cash-Padi/shared/cqrs"
	"github.com/Murzuq/Cash-Padi/shared/models"
	"github.com/Murzuq/Cash-Padi/wallet-service/internal/engine"
	"github.com/Murzuq/Cash-Padi/wallet-service/internal/repository"
)

// WalletQueryService serves reads. Balances come straight from the store;
// only recipient identity goes through the resolver's cache.
type WalletQueryService struct {
	store    repository.Store
	resolver engine.RecipientResolver
}

func NewWalletQueryService(store repository.Store, resolver engine.RecipientResolver) *WalletQueryService {
	return &WalletQueryService{store: store, resolver: resolver}
}

func (s *WalletQueryService) GetAccount(ctx context.Context, q cqrs.GetAccountQuery) (*models.AccountView, error) {
	acc, err := s.store.GetByID(ctx, q.UserID)
	if err != nil {
		return nil, notFound(err)
	}
	return models.ToAccountView(acc), nil
}

func (s *WalletQueryService) ListTransactions(ctx context.Context, q cqrs.ListTransactionsQuery) ([]models.TransactionView, error) {
	recs, err := s.store.ListByAccount(ctx, q.UserID, q.Limit)
	if err != nil {
		return nil, notFound(err)
	}
	views := make([]models.TransactionView, len(recs))
	for i := range recs {
		views[i] = models.ToTransactionView(&recs[i])
	}
	return views, nil
}

// VerifyRecipient returns the public identity behind an account number so
// the sender can confirm the name before transferring.
func (s *WalletQueryService) VerifyRecipient(ctx context.Context, q cqrs.VerifyRecipientQuery) (*models.RecipientView, error) {
	return s.resolver.ResolveAccount(ctx, q.AccountNumber)
}

func notFound(err error) error {
	if errors.Is(err, repository.ErrAccountNotFound) {
		return engine.ErrAccountNotFound
	}
	return err
}
