package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/gozon/internal/apperrors"
	"github.com/nkiryanov/gozon/internal/models"
)

type OrderRepo struct {
	DB DBTX
}

const orderColumns = `id, user_id, amount, description, status, created_at, updated_at`

func (r *OrderRepo) CreateOrder(ctx context.Context, o models.Order) (models.Order, error) {
	const createOrder = `-- name: CreateOrder
	INSERT INTO orders (` + orderColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING ` + orderColumns

	rows, _ := r.DB.Query(ctx, createOrder, o.ID, o.UserID, o.Amount, o.Description, o.Status, o.CreatedAt, o.UpdatedAt)
	order, err := pgx.CollectOneRow(rows, rowToOrder)

	switch {
	case err == nil:
		return order, nil
	case isUniqueViolation(err):
		return order, apperrors.ErrOrderAlreadyExists
	default:
		return order, fmt.Errorf("db error: %w", err)
	}
}

func (r *OrderRepo) GetOrder(ctx context.Context, orderID string) (models.Order, error) {
	const getOrder = `-- name: GetOrder
	SELECT ` + orderColumns + ` FROM orders
	WHERE id = $1
	`

	rows, _ := r.DB.Query(ctx, getOrder, orderID)
	order, err := pgx.CollectOneRow(rows, rowToOrder)

	switch {
	case err == nil:
		return order, nil
	case errors.Is(err, pgx.ErrNoRows):
		return order, apperrors.ErrOrderNotFound
	default:
		return order, fmt.Errorf("db error: %w", err)
	}
}

func (r *OrderRepo) ListOrders(ctx context.Context, userID string) ([]models.Order, error) {
	const listOrders = `-- name: ListOrders
	SELECT ` + orderColumns + ` FROM orders
	WHERE user_id = $1
	ORDER BY created_at DESC, id
	`

	rows, _ := r.DB.Query(ctx, listOrders, userID)
	orders, err := pgx.CollectRows(rows, rowToOrder)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return orders, nil
}

// Conditional update guards terminal states: the row changes only if it is still in 'from' status
func (r *OrderRepo) UpdateStatus(ctx context.Context, orderID string, from string, to string, at time.Time) (models.Order, bool, error) {
	const updateStatus = `-- name: UpdateStatus
	UPDATE orders SET status = $3, updated_at = $4
	WHERE id = $1 AND status = $2
	RETURNING ` + orderColumns

	rows, _ := r.DB.Query(ctx, updateStatus, orderID, from, to, at)
	order, err := pgx.CollectOneRow(rows, rowToOrder)

	switch {
	case err == nil:
		return order, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return order, false, nil
	default:
		return order, false, fmt.Errorf("db error: %w", err)
	}
}

func rowToOrder(row pgx.CollectableRow) (models.Order, error) {
	var o models.Order
	err := row.Scan(&o.ID, &o.UserID, &o.Amount, &o.Description, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}
