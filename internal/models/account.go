package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	PaymentStatusPaid                    = "Paid"
	PaymentStatusFailedInsufficientFunds = "FailedInsufficientFunds"
	PaymentStatusFailedNoAccount         = "FailedNoAccount"
)

// Reference written to the ledger for account top ups.
// Debits use the order id as a reference.
const TransactionReferenceTopUp = "TopUp"

type Account struct {
	UserID    string
	Balance   int64
	CreatedAt time.Time
}

// Ledger entry. Amount is signed: credits are positive, debits negative
type AccountTransaction struct {
	ID        uuid.UUID
	UserID    string
	Amount    int64
	Reference string
	CreatedAt time.Time
}

// Payment decision for an order. At most one exists per order
type PaymentOperation struct {
	OrderID   string
	MessageID string
	UserID    string
	Amount    int64
	Status    string
	CreatedAt time.Time
}
