package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/gozon/internal/apperrors"
	"github.com/nkiryanov/gozon/internal/models"
)

type PaymentRepo struct {
	DB DBTX
}

func (r *PaymentRepo) CreateOperation(ctx context.Context, op models.PaymentOperation) error {
	const createOperation = `-- name: CreatePaymentOperation
	INSERT INTO payment_operations (order_id, message_id, user_id, amount, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.DB.Exec(ctx, createOperation, op.OrderID, op.MessageID, op.UserID, op.Amount, op.Status, op.CreatedAt)

	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return fmt.Errorf("payment operation for order %s: %w", op.OrderID, apperrors.ErrOrderAlreadyExists)
	default:
		return fmt.Errorf("db error: %w", err)
	}
}

func (r *PaymentRepo) GetOperation(ctx context.Context, orderID string) (models.PaymentOperation, error) {
	const getOperation = `-- name: GetPaymentOperation
	SELECT order_id, message_id, user_id, amount, status, created_at FROM payment_operations
	WHERE order_id = $1
	`

	rows, _ := r.DB.Query(ctx, getOperation, orderID)
	op, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (models.PaymentOperation, error) {
		var op models.PaymentOperation
		err := row.Scan(&op.OrderID, &op.MessageID, &op.UserID, &op.Amount, &op.Status, &op.CreatedAt)
		return op, err
	})

	switch {
	case err == nil:
		return op, nil
	case errors.Is(err, pgx.ErrNoRows):
		return op, apperrors.ErrPaymentNotFound
	default:
		return op, fmt.Errorf("db error: %w", err)
	}
}
