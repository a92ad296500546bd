package order

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gozon/internal/apperrors"
	"github.com/nkiryanov/gozon/internal/logger"
	"github.com/nkiryanov/gozon/internal/models"
	"github.com/nkiryanov/gozon/internal/repository"
	"github.com/nkiryanov/gozon/internal/service/inbox"
)

// Announces orders that left NEW status
type notifier interface {
	Publish(ctx context.Context, event models.OrderStatusChanged) error
}

type OrderService struct {
	// Repository to access long term data
	storage repository.Storage

	// Optional. Status changes are not announced if nil
	notifier notifier

	logger logger.Logger
	now    func() time.Time
}

func NewService(storage repository.Storage, notifier notifier, l logger.Logger) *OrderService {
	return &OrderService{
		storage:  storage,
		notifier: notifier,
		logger:   l.With("component", "order-service"),
		now:      time.Now,
	}
}

// CreateOrder saves NEW order and PaymentRequested outbox message in one tx
func (s *OrderService) CreateOrder(ctx context.Context, userID string, amount int64, description string) (models.Order, error) {
	switch {
	case strings.TrimSpace(userID) == "":
		return models.Order{}, apperrors.ErrUserIDRequired
	case amount <= 0:
		return models.Order{}, apperrors.ErrAmountInvalid
	}

	now := s.now().UTC()
	order := models.Order{
		ID:          uuid.NewString(),
		UserID:      userID,
		Amount:      amount,
		Description: strings.TrimSpace(description),
		Status:      models.OrderStatusNew,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Order id is the message id: the request is naturally deduplicated on payments side
	payload, err := json.Marshal(models.PaymentRequested{
		MessageID: order.ID,
		OrderID:   order.ID,
		UserID:    order.UserID,
		Amount:    order.Amount,
	})
	if err != nil {
		return models.Order{}, fmt.Errorf("payment request encoding error: %w", err)
	}

	err = s.storage.InTx(ctx, func(tx repository.Storage) error {
		created, err := tx.Order().CreateOrder(ctx, order)
		if err != nil {
			return err
		}
		order = created

		return tx.Outbox().Add(ctx, models.OutboxMessage{
			MessageID:  order.ID,
			Type:       models.TypePaymentRequested,
			Payload:    payload,
			OccurredAt: now,
		})
	})
	if err != nil {
		return models.Order{}, err
	}

	s.logger.Info("Order created", "order_id", order.ID, "user_id", order.UserID, "amount", order.Amount)
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (models.Order, error) {
	return s.storage.Order().GetOrder(ctx, orderID)
}

// GetUserOrder returns order only if it belongs to the user
// Foreign order is reported as not found
func (s *OrderService) GetUserOrder(ctx context.Context, userID string, orderID string) (models.Order, error) {
	order, err := s.storage.Order().GetOrder(ctx, orderID)
	if err != nil {
		return order, err
	}
	if order.UserID != userID {
		return models.Order{}, apperrors.ErrOrderNotFound
	}

	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, userID string) ([]models.Order, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.ErrUserIDRequired
	}
	return s.storage.Order().ListOrders(ctx, userID)
}

// ApplyPaymentResult moves order out of NEW according to the payment decision.
// Duplicate result message and result for already terminal order do nothing and return applied=false.
func (s *OrderService) ApplyPaymentResult(ctx context.Context, result models.PaymentResult) (models.Order, bool, error) {
	msg, err := inbox.NewMessage(result.MessageID, models.TypePaymentResult, result, s.now().UTC())
	if err != nil {
		return models.Order{}, false, err
	}

	var (
		order   models.Order
		applied bool
	)

	err = inbox.Guard(ctx, s.storage, msg, func(tx repository.Storage, fresh bool) error {
		// closure may run several times on tx restart
		order, applied = models.Order{}, false
		if !fresh {
			return nil
		}

		status := models.OrderStatusCancelled
		if result.Paid() {
			status = models.OrderStatusFinished
		}

		var err error
		order, applied, err = tx.Order().UpdateStatus(ctx, result.OrderID, models.OrderStatusNew, status, s.now().UTC())
		return err
	})
	if err != nil {
		return models.Order{}, false, err
	}

	return order, applied, nil
}

// HandlePaymentResult applies the result and announces the change if it happened.
// Announcement failure does not fail already committed transition.
func (s *OrderService) HandlePaymentResult(ctx context.Context, result models.PaymentResult) error {
	order, applied, err := s.ApplyPaymentResult(ctx, result)
	if err != nil {
		return fmt.Errorf("apply payment result error: %w", err)
	}

	if !applied {
		s.logger.Info("Payment result skipped", "message_id", result.MessageID, "order_id", result.OrderID)
		return nil
	}

	s.logger.Info("Order status changed", "order_id", order.ID, "status", order.Status)

	if s.notifier == nil {
		return nil
	}
	if err := s.notifier.Publish(ctx, models.NewOrderStatusChanged(order)); err != nil {
		s.logger.Warn("Failed to publish order status", "order_id", order.ID, "error", err)
	}

	return nil
}
