package apperrors

import (
	"errors"
)

var (
	ErrUserIDRequired = errors.New("user id is required")
	ErrAmountInvalid  = errors.New("amount must be positive")

	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderAlreadyExists = errors.New("order already exists")

	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountAlreadyExists = errors.New("account already exists")
	ErrBalanceInsufficient  = errors.New("insufficient balance")

	ErrPaymentNotFound = errors.New("payment operation not found")

	ErrOutboxMessageNotFound = errors.New("outbox message not found")

	// Message can never be handled. Consumers drop it instead of redelivering
	ErrMessageInvalid = errors.New("invalid message")

	// No route is configured for the message type
	ErrMessageTypeUnknown = errors.New("unknown message type")
)
