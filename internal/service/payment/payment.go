package payment

import (
	"context"
	"encoding/json"
	"errors"
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

type PaymentService struct {
	storage repository.Storage
	logger  logger.Logger
	now     func() time.Time
}

func NewService(storage repository.Storage, l logger.Logger) *PaymentService {
	return &PaymentService{
		storage: storage,
		logger:  l.With("component", "payment-service"),
		now:     time.Now,
	}
}

// CreateAccount creates account with zero balance
// Returns apperrors.ErrAccountAlreadyExists if user has account already
func (s *PaymentService) CreateAccount(ctx context.Context, userID string) (models.Account, error) {
	if strings.TrimSpace(userID) == "" {
		return models.Account{}, apperrors.ErrUserIDRequired
	}

	created, err := s.storage.Account().CreateAccount(ctx, userID, s.now().UTC())
	if err != nil {
		return models.Account{}, err
	}

	account, err := s.storage.Account().GetAccount(ctx, userID, false)
	if err != nil {
		return account, err
	}
	if !created {
		return account, apperrors.ErrAccountAlreadyExists
	}

	s.logger.Info("Account created", "user_id", userID)
	return account, nil
}

func (s *PaymentService) GetBalance(ctx context.Context, userID string) (models.Account, error) {
	if strings.TrimSpace(userID) == "" {
		return models.Account{}, apperrors.ErrUserIDRequired
	}
	return s.storage.Account().GetAccount(ctx, userID, false)
}

// TopUp increases balance and appends ledger entry in one tx
func (s *PaymentService) TopUp(ctx context.Context, userID string, amount int64) (models.Account, error) {
	switch {
	case strings.TrimSpace(userID) == "":
		return models.Account{}, apperrors.ErrUserIDRequired
	case amount <= 0:
		return models.Account{}, apperrors.ErrAmountInvalid
	}

	var account models.Account
	err := s.storage.InTx(ctx, func(tx repository.Storage) error {
		var err error
		account, err = tx.Account().Credit(ctx, userID, amount)
		if err != nil {
			return err
		}

		_, err = tx.Account().CreateTransaction(ctx, models.AccountTransaction{
			ID:        uuid.New(),
			UserID:    userID,
			Amount:    amount,
			Reference: models.TransactionReferenceTopUp,
			CreatedAt: s.now().UTC(),
		})
		return err
	}, repository.Serializable())
	if err != nil {
		return models.Account{}, err
	}

	s.logger.Info("Account topped up", "user_id", userID, "amount", amount, "balance", account.Balance)
	return account, nil
}

func (s *PaymentService) ListTransactions(ctx context.Context, userID string) ([]models.AccountTransaction, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.ErrUserIDRequired
	}
	return s.storage.Account().ListTransactions(ctx, userID)
}

// ProcessPayment decides on the payment request and debits the account if possible.
//
// Everything happens in one serializable tx: inbox record, payment operation, debit, ledger entry
// and PaymentResult outbox message. The request is deduplicated twice: by message id (inbox) and
// by order id (payment operation). For already decided order the first decision is returned as is.
//
// Business rejections are reported with the result status. Error means the request has to be retried.
func (s *PaymentService) ProcessPayment(ctx context.Context, req models.PaymentRequested) (models.PaymentResult, error) {
	if err := validateRequest(req); err != nil {
		return models.PaymentResult{}, err
	}

	msg, err := inbox.NewMessage(req.MessageID, models.TypePaymentRequested, req, s.now().UTC())
	if err != nil {
		return models.PaymentResult{}, err
	}

	var result models.PaymentResult
	err = inbox.Guard(ctx, s.storage, msg, func(tx repository.Storage, fresh bool) error {
		// Decision already made: duplicate message or new message for the same order
		op, err := tx.Payment().GetOperation(ctx, req.OrderID)
		switch {
		case err == nil:
			s.logger.Info("Payment already decided", "order_id", req.OrderID, "message_id", req.MessageID, "fresh", fresh, "status", op.Status)
			result = resultFromOperation(op)
			return nil
		case !errors.Is(err, apperrors.ErrPaymentNotFound):
			return err
		}

		result, err = s.decide(ctx, tx, req)
		return err
	})
	if err != nil {
		return models.PaymentResult{}, err
	}

	return result, nil
}

func (s *PaymentService) decide(ctx context.Context, tx repository.Storage, req models.PaymentRequested) (models.PaymentResult, error) {
	now := s.now().UTC()

	status, err := s.debit(ctx, tx, req)
	if err != nil {
		return models.PaymentResult{}, err
	}

	err = tx.Payment().CreateOperation(ctx, models.PaymentOperation{
		OrderID:   req.OrderID,
		MessageID: req.MessageID,
		UserID:    req.UserID,
		Amount:    req.Amount,
		Status:    status,
		CreatedAt: now,
	})
	if err != nil {
		return models.PaymentResult{}, err
	}

	if status == models.PaymentStatusPaid {
		_, err = tx.Account().CreateTransaction(ctx, models.AccountTransaction{
			ID:        uuid.New(),
			UserID:    req.UserID,
			Amount:    -req.Amount,
			Reference: req.OrderID,
			CreatedAt: now,
		})
		if err != nil {
			return models.PaymentResult{}, err
		}
	}

	result := models.PaymentResult{
		MessageID: req.MessageID,
		OrderID:   req.OrderID,
		UserID:    req.UserID,
		Amount:    req.Amount,
		Status:    status,
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return models.PaymentResult{}, fmt.Errorf("payment result encoding error: %w", err)
	}

	err = tx.Outbox().Add(ctx, models.OutboxMessage{
		MessageID:  req.MessageID,
		Type:       models.TypePaymentResult,
		Payload:    payload,
		OccurredAt: now,
	})
	if err != nil {
		return models.PaymentResult{}, err
	}

	s.logger.Info("Payment decided", "order_id", req.OrderID, "user_id", req.UserID, "amount", req.Amount, "status", status)
	return result, nil
}

// Lock account row, check balance and debit it
func (s *PaymentService) debit(ctx context.Context, tx repository.Storage, req models.PaymentRequested) (string, error) {
	account, err := tx.Account().GetAccount(ctx, req.UserID, true)
	switch {
	case errors.Is(err, apperrors.ErrAccountNotFound):
		return models.PaymentStatusFailedNoAccount, nil
	case err != nil:
		return "", err
	case account.Balance < req.Amount:
		return models.PaymentStatusFailedInsufficientFunds, nil
	}

	_, err = tx.Account().Debit(ctx, req.UserID, req.Amount)
	switch {
	case err == nil:
		return models.PaymentStatusPaid, nil
	case errors.Is(err, apperrors.ErrBalanceInsufficient):
		return models.PaymentStatusFailedInsufficientFunds, nil
	default:
		return "", err
	}
}

// HandlePaymentRequest is the consumer entry point
func (s *PaymentService) HandlePaymentRequest(ctx context.Context, req models.PaymentRequested) error {
	_, err := s.ProcessPayment(ctx, req)
	if err != nil {
		return fmt.Errorf("process payment error: %w", err)
	}
	return nil
}

func validateRequest(req models.PaymentRequested) error {
	switch {
	case req.MessageID == "" || req.OrderID == "":
		return fmt.Errorf("%w: message and order ids are required", apperrors.ErrMessageInvalid)
	case req.UserID == "":
		return fmt.Errorf("%w: %w", apperrors.ErrMessageInvalid, apperrors.ErrUserIDRequired)
	case req.Amount <= 0:
		return fmt.Errorf("%w: %w", apperrors.ErrMessageInvalid, apperrors.ErrAmountInvalid)
	}
	return nil
}

func resultFromOperation(op models.PaymentOperation) models.PaymentResult {
	return models.PaymentResult{
		MessageID: op.MessageID,
		OrderID:   op.OrderID,
		UserID:    op.UserID,
		Amount:    op.Amount,
		Status:    op.Status,
	}
}
