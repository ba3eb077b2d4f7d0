package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/Murzuq/Cash-Padi/shared/cqrs"
	"github.com/Murzuq/Cash-Padi/shared/middleware"
	"github.com/Murzuq/Cash-Padi/shared/models"
	"github.com/Murzuq/Cash-Padi/shared/money"
	"github.com/Murzuq/Cash-Padi/wallet-service/internal/command"
	"github.com/Murzuq/Cash-Padi/wallet-service/internal/engine"
	"github.com/Murzuq/Cash-Padi/wallet-service/internal/service"
	"github.com/gin-gonic/gin"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	maxIdempotencyKeyLen = 128
	maxListLimit         = 500
	contentionRetryAfter = "1"
)

// WalletCommander defines the write-side operations used by WalletHandler.
type WalletCommander interface {
	OpenAccount(context.Context, cqrs.OpenAccountCommand) (*models.AccountView, error)
	SetPin(context.Context, cqrs.SetPinCommand) error
	Transfer(context.Context, cqrs.TransferCommand) (*engine.TransferReceipt, error)
	BuyAirtime(context.Context, cqrs.BuyAirtimeCommand) (*engine.PurchaseReceipt, error)
	BuyData(context.Context, cqrs.BuyDataCommand) (*engine.PurchaseReceipt, error)
	PayBill(context.Context, cqrs.PayBillCommand) (*engine.PurchaseReceipt, error)
	Deposit(context.Context, cqrs.DepositCommand) (*engine.DepositReceipt, error)
}

// WalletQuerier defines the read-side operations used by WalletHandler.
type WalletQuerier interface {
	GetAccount(context.Context, cqrs.GetAccountQuery) (*models.AccountView, error)
	ListTransactions(context.Context, cqrs.ListTransactionsQuery) ([]models.TransactionView, error)
	VerifyRecipient(context.Context, cqrs.VerifyRecipientQuery) (*models.RecipientView, error)
}

// WalletHandler handles wallet-related HTTP requests.
type WalletHandler struct {
	commands WalletCommander
	queries  WalletQuerier
}

type OpenAccountRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type SetPinRequest struct {
	Pin string `json:"pin" validate:"required,min=4,max=6,digits"`
}

type VerifyRecipientRequest struct {
	AccountNumber string `json:"accountNumber" validate:"required,accountnumber"`
}

type TransferRequest struct {
	AccountNumber string       `json:"accountNumber" validate:"required,accountnumber"`
	Amount        money.Amount `json:"amount" validate:"positiveamount"`
	Narration     string       `json:"narration" validate:"max=140"`
	Pin           string       `json:"pin" validate:"required,min=4,max=6,digits"`
}

type AirtimeRequest struct {
	Network     string       `json:"network" validate:"required,oneof=MTN Airtel Glo 9mobile"`
	PhoneNumber string       `json:"phoneNumber" validate:"required,len=11,digits"`
	Amount      money.Amount `json:"amount" validate:"positiveamount"`
	Pin         string       `json:"pin" validate:"required,min=4,max=6,digits"`
}

type DataRequest struct {
	Network     string       `json:"network" validate:"required,oneof=MTN Airtel Glo 9mobile"`
	PhoneNumber string       `json:"phoneNumber" validate:"required,len=11,digits"`
	Plan        string       `json:"plan" validate:"required,max=60"`
	Amount      money.Amount `json:"amount" validate:"positiveamount"`
	Pin         string       `json:"pin" validate:"required,min=4,max=6,digits"`
}

type BillRequest struct {
	Biller     string       `json:"biller" validate:"required,max=60"`
	CustomerID string       `json:"customerId" validate:"required,max=40"`
	Amount     money.Amount `json:"amount" validate:"positiveamount"`
	Pin        string       `json:"pin" validate:"required,min=4,max=6,digits"`
}

type DepositRequest struct {
	AccountID   string       `json:"accountId" validate:"required"`
	Amount      money.Amount `json:"amount" validate:"positiveamount"`
	Description string       `json:"description" validate:"max=140"`
}

type MovementResponse struct {
	Message     string                 `json:"message"`
	NewBalance  money.Amount           `json:"newBalance"`
	Transaction models.TransactionView `json:"transaction"`
	Replayed    bool                   `json:"replayed,omitempty"`
}

type ListTransactionsResponse struct {
	Transactions []models.TransactionView `json:"transactions"`
}

func NewWalletHandler(commands WalletCommander, queries WalletQuerier) *WalletHandler {
	return &WalletHandler{commands: commands, queries: queries}
}

func (h *WalletHandler) OpenAccount(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req OpenAccountRequest
	if !bind(c, &req) {
		return
	}

	view, err := h.commands.OpenAccount(c.Request.Context(), cqrs.OpenAccountCommand{UserID: userID, Name: req.Name})
	if err != nil {
		respondWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *WalletHandler) GetMyAccount(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	view, err := h.queries.GetAccount(c.Request.Context(), cqrs.GetAccountQuery{UserID: userID})
	if err != nil {
		respondWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *WalletHandler) SetPin(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req SetPinRequest
	if !bind(c, &req) {
		return
	}

	if err := h.commands.SetPin(c.Request.Context(), cqrs.SetPinCommand{UserID: userID, Pin: req.Pin}); err != nil {
		respondWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Transaction PIN set"})
}

func (h *WalletHandler) VerifyRecipient(c *gin.Context) {
	var req VerifyRecipientRequest
	if !bind(c, &req) {
		return
	}

	view, err := h.queries.VerifyRecipient(c.Request.Context(), cqrs.VerifyRecipientQuery{AccountNumber: req.AccountNumber})
	if err != nil {
		respondWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *WalletHandler) Transfer(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	key, ok := idempotencyKey(c)
	if !ok {
		return
	}

	var req TransferRequest
	if !bind(c, &req) {
		return
	}

	receipt, err := h.commands.Transfer(c.Request.Context(), cqrs.TransferCommand{
		UserID:         userID,
		AccountNumber:  req.AccountNumber,
		Amount:         req.Amount,
		Narration:      req.Narration,
		Pin:            req.Pin,
		IdempotencyKey: key,
	})
	if err != nil {
		respondWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, MovementResponse{
		Message:     "Transfer successful",
		NewBalance:  receipt.SenderNewBalance,
		Transaction: models.ToTransactionView(&receipt.Debit),
		Replayed:    receipt.Replayed,
	})
}

func (h *WalletHandler) BuyAirtime(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	key, ok := idempotencyKey(c)
	if !ok {
		return
	}

	var req AirtimeRequest
	if !bind(c, &req) {
		return
	}

	receipt, err := h.commands.BuyAirtime(c.Request.Context(), cqrs.BuyAirtimeCommand{
		UserID:         userID,
		Network:        req.Network,
		PhoneNumber:    req.PhoneNumber,
		Amount:         req.Amount,
		Pin:            req.Pin,
		IdempotencyKey: key,
	})
	respondWithPurchase(c, "Airtime purchase successful", receipt, err)
}

func (h *WalletHandler) BuyData(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	key, ok := idempotencyKey(c)
	if !ok {
		return
	}

	var req DataRequest
	if !bind(c, &req) {
		return
	}

	receipt, err := h.commands.BuyData(c.Request.Context(), cqrs.BuyDataCommand{
		UserID:         userID,
		Network:        req.Network,
		PhoneNumber:    req.PhoneNumber,
		Plan:           req.Plan,
		Amount:         req.Amount,
		Pin:            req.Pin,
		IdempotencyKey: key,
	})
	respondWithPurchase(c, "Data purchase successful", receipt, err)
}

func (h *WalletHandler) PayBill(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	key, ok := idempotencyKey(c)
	if !ok {
		return
	}

	var req BillRequest
	if !bind(c, &req) {
		return
	}

	receipt, err := h.commands.PayBill(c.Request.Context(), cqrs.PayBillCommand{
		UserID:         userID,
		Biller:         req.Biller,
		CustomerID:     req.CustomerID,
		Amount:         req.Amount,
		Pin:            req.Pin,
		IdempotencyKey: key,
	})
	respondWithPurchase(c, "Bill payment successful", receipt, err)
}

func (h *WalletHandler) ListTransactions(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			middleware.RespondWithError(c, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxListLimit))
			return
		}
		limit = n
	}

	views, err := h.queries.ListTransactions(c.Request.Context(), cqrs.ListTransactionsQuery{UserID: userID, Limit: limit})
	if err != nil {
		respondWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListTransactionsResponse{Transactions: views})
}

// Deposit is mounted on the internal route group only.
func (h *WalletHandler) Deposit(c *gin.Context) {
	var req DepositRequest
	if !bind(c, &req) {
		return
	}

	receipt, err := h.commands.Deposit(c.Request.Context(), cqrs.DepositCommand{
		AccountID:   req.AccountID,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		respondWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, MovementResponse{
		Message:     "Deposit successful",
		NewBalance:  receipt.NewBalance,
		Transaction: models.ToTransactionView(&receipt.Record),
	})
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return false
	}
	return true
}

func idempotencyKey(c *gin.Context) (string, bool) {
	key := c.GetHeader(IdempotencyKeyHeader)
	if len(key) > maxIdempotencyKeyLen {
		middleware.RespondWithError(c, http.StatusBadRequest, "Idempotency-Key is too long")
		return "", false
	}
	return key, true
}

func respondWithPurchase(c *gin.Context, message string, receipt *engine.PurchaseReceipt, err error) {
	if err != nil {
		respondWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, MovementResponse{
		Message:     message,
		NewBalance:  receipt.NewBalance,
		Transaction: models.ToTransactionView(&receipt.Record),
		Replayed:    receipt.Replayed,
	})
}

// respondWithDomainError maps engine and service failures to HTTP statuses.
func respondWithDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrInsufficientBalance):
		middleware.RespondWithError(c, http.StatusUnprocessableEntity, "Insufficient balance")
	case errors.Is(err, engine.ErrUnauthorized):
		middleware.RespondWithError(c, http.StatusForbidden, "Invalid transaction PIN")
	case errors.Is(err, engine.ErrPinNotSet):
		middleware.RespondWithError(c, http.StatusForbidden, "Set a transaction PIN first")
	case errors.Is(err, engine.ErrRecipientNotFound):
		middleware.RespondWithError(c, http.StatusNotFound, "Recipient account not found")
	case errors.Is(err, engine.ErrSourceNotFound), errors.Is(err, engine.ErrAccountNotFound):
		middleware.RespondWithError(c, http.StatusNotFound, "Wallet not found")
	case errors.Is(err, engine.ErrAccountExists):
		middleware.RespondWithError(c, http.StatusConflict, "Wallet already exists")
	case errors.Is(err, engine.ErrIdempotencyKeyReused):
		middleware.RespondWithError(c, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrContention):
		c.Header("Retry-After", contentionRetryAfter)
		middleware.RespondWithError(c, http.StatusServiceUnavailable, "Wallet is busy, please retry")
	case errors.Is(err, engine.ErrInvalidAmount), errors.Is(err, engine.ErrSelfTransfer),
		errors.Is(err, engine.ErrInvalidCategory), errors.Is(err, engine.ErrInvalidAccount),
		errors.Is(err, command.ErrBelowMinimum), errors.Is(err, command.ErrInvalidPhone),
		errors.Is(err, service.ErrInvalidPin):
		middleware.RespondWithError(c, http.StatusBadRequest, err.Error())
	default:
		middleware.RespondWithError(c, http.StatusInternalServerError, "Internal server error")
	}
}
