package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Murzuq/Cash-Padi/shared/models"
	"github.com/Murzuq/Cash-Padi/shared/utils"
	"github.com/Murzuq/Cash-Padi/wallet-service/internal/engine"
	"github.com/Murzuq/Cash-Padi/wallet-service/internal/repository"
	"go.uber.org/zap"
)

// CachedRecipient is the cache form of models.RecipientView. Unlike the API
// view it keeps the account id.
type CachedRecipient struct {
	ID            string `json:"id"`
	AccountNumber string `json:"accountNumber"`
	Name          string `json:"name"`
}

// RecipientCache is satisfied by *redis.ViewCache[CachedRecipient].
type RecipientCache interface {
	Get(ctx context.Context, key string) (*CachedRecipient, bool)
	Set(ctx context.Context, key string, value *CachedRecipient)
}

// RecipientResolver looks up who holds an account number. Only identity is
// cached; balances are always read through the store.
type RecipientResolver struct {
	accounts repository.AccountReader
	cache    RecipientCache
	logger   *zap.Logger
}

// NewRecipientResolver accepts a nil cache.
func NewRecipientResolver(accounts repository.AccountReader, cache RecipientCache, logger *zap.Logger) *RecipientResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecipientResolver{accounts: accounts, cache: cache, logger: logger}
}

func (r *RecipientResolver) ResolveAccount(ctx context.Context, accountNumber string) (*models.RecipientView, error) {
	if !utils.ValidateAccountNumber(accountNumber) {
		return nil, engine.ErrRecipientNotFound
	}

	if r.cache != nil {
		if c, ok := r.cache.Get(ctx, accountNumber); ok {
			return &models.RecipientView{ID: c.ID, AccountNumber: c.AccountNumber, Name: c.Name}, nil
		}
	}

	acc, err := r.accounts.GetByAccountNumber(ctx, accountNumber)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, engine.ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up account number: %w", err)
	}

	if r.cache != nil {
		r.cache.Set(ctx, accountNumber, &CachedRecipient{ID: acc.ID, AccountNumber: acc.AccountNumber, Name: acc.Name})
	}
	return &models.RecipientView{ID: acc.ID, AccountNumber: acc.AccountNumber, Name: acc.Name}, nil
}
