package postgres

import (
	"context"
	"fmt"

	"github.com/nkiryanov/gozon/internal/models"
)

type InboxRepo struct {
	DB DBTX
}

func (r *InboxRepo) TryAdd(ctx context.Context, msg models.InboxMessage) (bool, error) {
	const tryAdd = `-- name: TryAddInboxMessage
	INSERT INTO inbox_messages (message_id, type, payload, received_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (message_id) DO NOTHING
	`

	tag, err := r.DB.Exec(ctx, tryAdd, msg.MessageID, msg.Type, msg.Payload, msg.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}
