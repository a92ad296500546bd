package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gozon/internal/apperrors"
	"github.com/nkiryanov/gozon/internal/logger"
	"github.com/nkiryanov/gozon/internal/models"
)

// In memory outbox
type memStore struct {
	mu       sync.Mutex
	messages []models.OutboxMessage
	fetchErr error
}

func (s *memStore) GetPending(_ context.Context, limit int) ([]models.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fetchErr != nil {
		return nil, s.fetchErr
	}

	var pending []models.OutboxMessage
	for _, m := range s.messages {
		if m.ProcessedAt == nil && len(pending) < limit {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

func (s *memStore) MarkProcessed(_ context.Context, messageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].MessageID == messageID && s.messages[i].ProcessedAt == nil {
			s.messages[i].ProcessedAt = &at
		}
	}
	return nil
}

func (s *memStore) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.messages {
		if m.ProcessedAt == nil {
			n++
		}
	}
	return n
}

// Allow to use a function as sender
type senderFunc func(ctx context.Context, msg models.OutboxMessage) error

func (f senderFunc) Send(ctx context.Context, msg models.OutboxMessage) error {
	return f(ctx, msg)
}

func newStore(types ...string) *memStore {
	s := &memStore{}
	for i, typ := range types {
		s.messages = append(s.messages, models.OutboxMessage{
			MessageID:  string(rune('a' + i)),
			Type:       typ,
			Payload:    []byte(`{}`),
			OccurredAt: time.Now(),
		})
	}
	return s
}

func TestPublisher_PublishPending(t *testing.T) {
	t.Run("all published and marked", func(t *testing.T) {
		store := newStore(models.TypePaymentRequested, models.TypePaymentRequested, models.TypePaymentRequested)
		var sent []string
		p := NewPublisher(store, senderFunc(func(_ context.Context, msg models.OutboxMessage) error {
			sent = append(sent, msg.MessageID)
			return nil
		}), logger.NewNoOpLogger())

		published, err := p.PublishPending(t.Context())

		require.NoError(t, err)
		require.Equal(t, 3, published)
		require.Equal(t, []string{"a", "b", "c"}, sent, "messages sent in outbox order")
		require.Zero(t, store.pending())
	})

	t.Run("batch size respected", func(t *testing.T) {
		store := newStore(models.TypePaymentResult, models.TypePaymentResult, models.TypePaymentResult)
		p := NewPublisher(store, senderFunc(func(context.Context, models.OutboxMessage) error { return nil }), logger.NewNoOpLogger(), WithBatchSize(2))

		published, err := p.PublishPending(t.Context())

		require.NoError(t, err)
		require.Equal(t, 2, published)
		require.Equal(t, 1, store.pending())
	})

	t.Run("send failure stops batch", func(t *testing.T) {
		store := newStore(models.TypePaymentResult, models.TypePaymentResult, models.TypePaymentResult)
		calls := 0
		p := NewPublisher(store, senderFunc(func(_ context.Context, msg models.OutboxMessage) error {
			calls++
			if msg.MessageID == "b" {
				return errors.New("broker unreachable")
			}
			return nil
		}), logger.NewNoOpLogger())

		published, err := p.PublishPending(t.Context())

		require.Error(t, err)
		require.Equal(t, 1, published)
		require.Equal(t, 2, calls, "nothing sent after failure")
		require.Equal(t, 2, store.pending(), "failed and the rest left pending")
	})

	t.Run("unknown type left pending", func(t *testing.T) {
		store := newStore("Unknown", models.TypePaymentResult)
		p := NewPublisher(store, senderFunc(func(_ context.Context, msg models.OutboxMessage) error {
			if msg.Type == "Unknown" {
				return apperrors.ErrMessageTypeUnknown
			}
			return nil
		}), logger.NewNoOpLogger())

		published, err := p.PublishPending(t.Context())

		require.ErrorIs(t, err, apperrors.ErrMessageTypeUnknown)
		require.Equal(t, 1, published, "known message still published")
		require.Equal(t, 1, store.pending())
	})

	t.Run("fetch failure", func(t *testing.T) {
		store := &memStore{fetchErr: errors.New("db is down")}
		p := NewPublisher(store, senderFunc(func(context.Context, models.OutboxMessage) error { return nil }), logger.NewNoOpLogger())

		_, err := p.PublishPending(t.Context())

		require.Error(t, err)
	})
}

func TestPublisher_Run(t *testing.T) {
	t.Run("publishes until stopped", func(t *testing.T) {
		store := newStore(models.TypePaymentRequested, models.TypePaymentRequested, models.TypePaymentRequested)
		p := NewPublisher(store, senderFunc(func(context.Context, models.OutboxMessage) error { return nil }), logger.NewNoOpLogger(),
			WithPollInterval(time.Hour), // only immediate re-polls may drain the outbox
			WithBatchSize(1),
		)

		ctx, cancel := context.WithCancel(t.Context())
		stopped := p.Run(ctx)

		require.Eventually(t, func() bool { return store.pending() == 0 }, time.Second, 10*time.Millisecond)

		cancel()
		select {
		case <-stopped:
		case <-time.After(time.Second):
			t.Fatal("publisher has to stop on context cancel")
		}
	})

	t.Run("failed message retried on next poll", func(t *testing.T) {
		store := newStore(models.TypePaymentRequested)
		var mu sync.Mutex
		attempts := 0
		p := NewPublisher(store, senderFunc(func(context.Context, models.OutboxMessage) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts == 1 {
				return errors.New("broker unreachable")
			}
			return nil
		}), logger.NewNoOpLogger(), WithPollInterval(10*time.Millisecond))

		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()
		stopped := p.Run(ctx)

		require.Eventually(t, func() bool { return store.pending() == 0 }, time.Second, 10*time.Millisecond)
		cancel()
		<-stopped

		mu.Lock()
		defer mu.Unlock()
		require.Equal(t, 2, attempts)
	})
}
