package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/gozon/internal/repository"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Pool and connection may start tx with options, pgx.Tx can not (it starts savepoints)
type txBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type Storage struct {
	db DBTX
}

func NewStorage(db DBTX) repository.Storage {
	return &Storage{db: db}
}

func (s *Storage) Order() repository.OrderRepo {
	return &OrderRepo{DB: s.db}
}

func (s *Storage) Outbox() repository.OutboxRepo {
	return &OutboxRepo{DB: s.db}
}

func (s *Storage) Inbox() repository.InboxRepo {
	return &InboxRepo{DB: s.db}
}

func (s *Storage) Account() repository.AccountRepo {
	return &AccountRepo{DB: s.db}
}

func (s *Storage) Payment() repository.PaymentRepo {
	return &PaymentRepo{DB: s.db}
}

// InTx runs fn in a transaction and commits if fn returns nil.
//
// When storage is already bound to a tx the nested call becomes a savepoint: isolation
// level is inherited from the outer tx and conflicts are not retried (the outer tx is
// aborted anyway and has to be restarted by its owner).
func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error, opts ...repository.TxOption) error {
	o := repository.NewTxOptions(opts...)

	beginner, canRetry := s.db.(txBeginner)
	if !canRetry {
		return s.runTx(ctx, s.db.Begin, fn)
	}

	begin := func(ctx context.Context) (pgx.Tx, error) {
		txOpts := pgx.TxOptions{}
		if o.Serializable {
			txOpts.IsoLevel = pgx.Serializable
		}
		return beginner.BeginTx(ctx, txOpts)
	}

	for attempt := 1; ; attempt++ {
		err := s.runTx(ctx, begin, fn)
		if err == nil || attempt >= o.MaxAttempts || !IsRetryable(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(o.RetryDelay * time.Duration(attempt)):
		}
	}
}

func (s *Storage) runTx(ctx context.Context, begin func(context.Context) (pgx.Tx, error), fn func(repository.Storage) error) (err error) {
	tx, err := begin(ctx)
	if err != nil {
		return fmt.Errorf("db tx error: %w", err)
	}

	defer func() {
		switch err {
		case nil:
			err = tx.Commit(ctx)
			if err != nil {
				err = fmt.Errorf("db tx commit error: %w", err)
			}
		default:
			_ = tx.Rollback(ctx)
		}
	}()

	err = fn(NewStorage(tx))

	return err
}

// IsRetryable reports whether tx failed because of concurrent tx and may succeed if started again
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}

	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
