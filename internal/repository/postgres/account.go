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

type AccountRepo struct {
	DB DBTX
}

func (r *AccountRepo) CreateAccount(ctx context.Context, userID string, at time.Time) (bool, error) {
	const createAccount = `-- name: CreateAccount
	INSERT INTO accounts (user_id, balance, created_at)
	VALUES ($1, 0, $2)
	ON CONFLICT (user_id) DO NOTHING
	`

	tag, err := r.DB.Exec(ctx, createAccount, userID, at)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *AccountRepo) GetAccount(ctx context.Context, userID string, lock bool) (models.Account, error) {
	const getAccount = `-- name: GetAccount
	SELECT user_id, balance, created_at FROM accounts
	WHERE user_id = $1
	`

	query := getAccount
	if lock {
		query += " FOR UPDATE"
	}

	rows, _ := r.DB.Query(ctx, query, userID)
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, pgx.ErrNoRows):
		return account, apperrors.ErrAccountNotFound
	default:
		return account, fmt.Errorf("db error: %w", err)
	}
}

func (r *AccountRepo) Credit(ctx context.Context, userID string, amount int64) (models.Account, error) {
	const credit = `-- name: CreditAccount
	UPDATE accounts SET balance = balance + $2
	WHERE user_id = $1
	RETURNING user_id, balance, created_at
	`

	rows, _ := r.DB.Query(ctx, credit, userID, amount)
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, pgx.ErrNoRows):
		return account, apperrors.ErrAccountNotFound
	default:
		return account, fmt.Errorf("db error: %w", err)
	}
}

// Debit is conditional: balance never goes below zero even if caller checked it with a stale read
func (r *AccountRepo) Debit(ctx context.Context, userID string, amount int64) (models.Account, error) {
	const debit = `-- name: DebitAccount
	UPDATE accounts SET balance = balance - $2
	WHERE user_id = $1 AND balance >= $2
	RETURNING user_id, balance, created_at
	`

	rows, _ := r.DB.Query(ctx, debit, userID, amount)
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, pgx.ErrNoRows):
		return account, apperrors.ErrBalanceInsufficient
	default:
		return account, fmt.Errorf("db error: %w", err)
	}
}

func (r *AccountRepo) CreateTransaction(ctx context.Context, t models.AccountTransaction) (models.AccountTransaction, error) {
	const createTransaction = `-- name: CreateAccountTransaction
	INSERT INTO account_transactions (id, user_id, amount, reference, created_at)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id, user_id, amount, reference, created_at
	`

	rows, _ := r.DB.Query(ctx, createTransaction, t.ID, t.UserID, t.Amount, t.Reference, t.CreatedAt)
	t, err := pgx.CollectOneRow(rows, rowToAccountTransaction)
	if err != nil {
		return t, fmt.Errorf("db error: %w", err)
	}

	return t, nil
}

func (r *AccountRepo) ListTransactions(ctx context.Context, userID string) ([]models.AccountTransaction, error) {
	const listTransactions = `-- name: ListAccountTransactions
	SELECT id, user_id, amount, reference, created_at FROM account_transactions
	WHERE user_id = $1
	ORDER BY created_at DESC, id
	`

	rows, _ := r.DB.Query(ctx, listTransactions, userID)
	transactions, err := pgx.CollectRows(rows, rowToAccountTransaction)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return transactions, nil
}

func rowToAccount(row pgx.CollectableRow) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.UserID, &a.Balance, &a.CreatedAt)
	return a, err
}

func rowToAccountTransaction(row pgx.CollectableRow) (models.AccountTransaction, error) {
	var t models.AccountTransaction
	err := row.Scan(&t.ID, &t.UserID, &t.Amount, &t.Reference, &t.CreatedAt)
	return t, err
}
