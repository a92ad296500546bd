package repository

import (
	"context"
	"time"

	"github.com/nkiryanov/gozon/internal/models"
)

// Order repository interface
type OrderRepo interface {
	// Create order as is. Caller is responsible for id and timestamps
	CreateOrder(ctx context.Context, order models.Order) (models.Order, error)

	// Get order by id
	// If order not found must return apperrors.ErrOrderNotFound
	GetOrder(ctx context.Context, orderID string) (models.Order, error)

	// List user orders, newest first
	ListOrders(ctx context.Context, userID string) ([]models.Order, error)

	// Move order from one status to another
	// The update is conditional: if order is not in 'from' status nothing changes and applied is false
	UpdateStatus(ctx context.Context, orderID string, from string, to string, at time.Time) (order models.Order, applied bool, err error)
}

// Outbox repository interface
// Both services have their own outbox table with the same shape
type OutboxRepo interface {
	// Add message to outbox. Has to be called in the same tx as the state change it announces
	Add(ctx context.Context, msg models.OutboxMessage) error

	// Pending messages (not processed yet) ordered by occurred_at
	GetPending(ctx context.Context, limit int) ([]models.OutboxMessage, error)

	// Set processed_at if not set yet. Idempotent
	MarkProcessed(ctx context.Context, messageID string, at time.Time) error

	// If message not found must return apperrors.ErrOutboxMessageNotFound
	GetMessage(ctx context.Context, messageID string) (models.OutboxMessage, error)
}

// Inbox repository interface
type InboxRepo interface {
	// Insert message if it was not received before
	// Returns false when the message id is already in the inbox
	TryAdd(ctx context.Context, msg models.InboxMessage) (bool, error)
}

// Account repository interface
type AccountRepo interface {
	// Create account with zero balance
	// Returns false if account already exists
	CreateAccount(ctx context.Context, userID string, at time.Time) (bool, error)

	// Get user account
	// If lock is true the row is locked until the end of the tx (SELECT ... FOR UPDATE)
	// If account not found must return apperrors.ErrAccountNotFound
	GetAccount(ctx context.Context, userID string, lock bool) (models.Account, error)

	// Increase balance
	// If account not found must return apperrors.ErrAccountNotFound
	Credit(ctx context.Context, userID string, amount int64) (models.Account, error)

	// Decrease balance if it is enough
	// Must return apperrors.ErrBalanceInsufficient if balance less than amount (or account is absent)
	Debit(ctx context.Context, userID string, amount int64) (models.Account, error)

	// Append ledger entry
	CreateTransaction(ctx context.Context, t models.AccountTransaction) (models.AccountTransaction, error)

	// Ledger entries of the user, newest first
	ListTransactions(ctx context.Context, userID string) ([]models.AccountTransaction, error)
}

// Payment operations repository interface
type PaymentRepo interface {
	// Save payment decision
	// If operation for the order exists must return apperrors.ErrOrderAlreadyExists
	CreateOperation(ctx context.Context, op models.PaymentOperation) error

	// Get decision for the order
	// If not found must return apperrors.ErrPaymentNotFound
	GetOperation(ctx context.Context, orderID string) (models.PaymentOperation, error)
}

type Storage interface {
	Order() OrderRepo
	Outbox() OutboxRepo
	Inbox() InboxRepo
	Account() AccountRepo
	Payment() PaymentRepo

	// Run fn in transaction. Storage passed to fn is bound to the tx
	InTx(ctx context.Context, fn func(Storage) error, opts ...TxOption) error
}
