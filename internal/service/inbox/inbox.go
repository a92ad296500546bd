// Package inbox deduplicates incoming messages inside the transaction that handles them.
package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nkiryanov/gozon/internal/models"
	"github.com/nkiryanov/gozon/internal/repository"
)

// Handler is called inside the inbox tx
// fresh is false if the message was received before; the handler must not mutate state then
type Handler func(s repository.Storage, fresh bool) error

// NewMessage builds inbox record for the received payload
func NewMessage(messageID string, messageType string, payload any, receivedAt time.Time) (models.InboxMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return models.InboxMessage{}, fmt.Errorf("inbox payload error: %w", err)
	}

	return models.InboxMessage{
		MessageID:  messageID,
		Type:       messageType,
		Payload:    data,
		ReceivedAt: receivedAt,
	}, nil
}

// Guard records the message in the inbox and runs fn in the same serializable tx.
// If fn fails the inbox record is rolled back too, so redelivered message is handled again.
func Guard(ctx context.Context, storage repository.Storage, msg models.InboxMessage, fn Handler) error {
	return storage.InTx(ctx, func(s repository.Storage) error {
		fresh, err := s.Inbox().TryAdd(ctx, msg)
		if err != nil {
			return fmt.Errorf("inbox error: %w", err)
		}

		return fn(s, fresh)
	}, repository.Serializable())
}
