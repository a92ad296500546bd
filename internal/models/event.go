package models

import (
	"time"
)

// Message types, used as AMQP 'type' property and outbox/inbox type column
const (
	TypePaymentRequested   = "PaymentRequested"
	TypePaymentResult      = "PaymentResult"
	TypeOrderStatusChanged = "OrderStatusChanged"
)

// Sent by orders to payments. MessageID equals OrderID
type PaymentRequested struct {
	MessageID string `json:"messageId" validate:"required"`
	OrderID   string `json:"orderId" validate:"required"`
	UserID    string `json:"userId" validate:"required"`
	Amount    int64  `json:"amount" validate:"gt=0"`
}

// Sent by payments to orders. MessageID equals the request message id
type PaymentResult struct {
	MessageID string `json:"messageId" validate:"required"`
	OrderID   string `json:"orderId" validate:"required"`
	UserID    string `json:"userId" validate:"required"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status" validate:"required"`
}

func (r PaymentResult) Paid() bool {
	return r.Status == PaymentStatusPaid
}

// Pushed to realtime subscribers after an order leaves NEW
type OrderStatusChanged struct {
	Type        string    `json:"type"`
	OrderID     string    `json:"orderId" validate:"required"`
	UserID      string    `json:"userId" validate:"required"`
	Status      string    `json:"status"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func NewOrderStatusChanged(o Order) OrderStatusChanged {
	return OrderStatusChanged{
		Type:        TypeOrderStatusChanged,
		OrderID:     o.ID,
		UserID:      o.UserID,
		Status:      o.Status,
		Amount:      o.Amount,
		Description: o.Description,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}
