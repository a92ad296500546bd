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

type OutboxRepo struct {
	DB DBTX
}

const outboxColumns = `message_id, type, payload, occurred_at, processed_at`

func (r *OutboxRepo) Add(ctx context.Context, msg models.OutboxMessage) error {
	const addMessage = `-- name: AddOutboxMessage
	INSERT INTO outbox_messages (message_id, type, payload, occurred_at)
	VALUES ($1, $2, $3, $4)
	`

	_, err := r.DB.Exec(ctx, addMessage, msg.MessageID, msg.Type, msg.Payload, msg.OccurredAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *OutboxRepo) GetPending(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	const getPending = `-- name: GetPendingOutboxMessages
	SELECT ` + outboxColumns + ` FROM outbox_messages
	WHERE processed_at IS NULL
	ORDER BY occurred_at, message_id
	LIMIT $1
	`

	rows, _ := r.DB.Query(ctx, getPending, limit)
	messages, err := pgx.CollectRows(rows, rowToOutboxMessage)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return messages, nil
}

func (r *OutboxRepo) MarkProcessed(ctx context.Context, messageID string, at time.Time) error {
	const markProcessed = `-- name: MarkOutboxMessageProcessed
	UPDATE outbox_messages SET processed_at = COALESCE(processed_at, $2)
	WHERE message_id = $1
	`

	tag, err := r.DB.Exec(ctx, markProcessed, messageID, at)
	switch {
	case err != nil:
		return fmt.Errorf("db error: %w", err)
	case tag.RowsAffected() == 0:
		return apperrors.ErrOutboxMessageNotFound
	default:
		return nil
	}
}

func (r *OutboxRepo) GetMessage(ctx context.Context, messageID string) (models.OutboxMessage, error) {
	const getMessage = `-- name: GetOutboxMessage
	SELECT ` + outboxColumns + ` FROM outbox_messages
	WHERE message_id = $1
	`

	rows, _ := r.DB.Query(ctx, getMessage, messageID)
	msg, err := pgx.CollectOneRow(rows, rowToOutboxMessage)

	switch {
	case err == nil:
		return msg, nil
	case errors.Is(err, pgx.ErrNoRows):
		return msg, apperrors.ErrOutboxMessageNotFound
	default:
		return msg, fmt.Errorf("db error: %w", err)
	}
}

func rowToOutboxMessage(row pgx.CollectableRow) (models.OutboxMessage, error) {
	var m models.OutboxMessage
	err := row.Scan(&m.MessageID, &m.Type, &m.Payload, &m.OccurredAt, &m.ProcessedAt)
	return m, err
}
