package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/nkiryanov/gozon/internal/apperrors"
	"github.com/nkiryanov/gozon/internal/handlers/render"
	"github.com/nkiryanov/gozon/internal/handlers/userctx"
	"github.com/nkiryanov/gozon/internal/logger"
	"github.com/nkiryanov/gozon/internal/models"
)

type balanceResponse struct {
	UserID  string `json:"userId"`
	Balance int64  `json:"balance"`
}

func newBalanceResponse(a models.Account) balanceResponse {
	return balanceResponse{UserID: a.UserID, Balance: a.Balance}
}

func handleCreateAccount(accountService accountService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		account, err := accountService.CreateAccount(r.Context(), userID)

		switch {
		case err == nil:
			render.JSONWithStatus(w, newBalanceResponse(account), http.StatusCreated)
		case errors.Is(err, apperrors.ErrAccountAlreadyExists):
			render.ServiceError(w, "Account already exists", http.StatusConflict)
		default:
			l.Error("Failed to create account", "user_id", userID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleTopUp(accountService accountService, l logger.Logger) http.Handler {
	type request struct {
		Amount int64 `json:"amount" validate:"gt=0"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		account, err := accountService.TopUp(r.Context(), userID, req.Amount)

		switch {
		case err == nil:
			render.JSON(w, newBalanceResponse(account))
		case errors.Is(err, apperrors.ErrAccountNotFound):
			render.ServiceError(w, "Account not found", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrAmountInvalid):
			render.ServiceError(w, "Amount must be positive", http.StatusBadRequest)
		default:
			l.Error("Failed to top up account", "user_id", userID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleBalance(accountService accountService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		account, err := accountService.GetBalance(r.Context(), userID)

		switch {
		case err == nil:
			render.JSON(w, newBalanceResponse(account))
		case errors.Is(err, apperrors.ErrAccountNotFound):
			render.ServiceError(w, "Account not found", http.StatusNotFound)
		default:
			l.Error("Failed to get balance", "user_id", userID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleListTransactions(accountService accountService, l logger.Logger) http.Handler {
	type transaction struct {
		ID        string    `json:"id"`
		Amount    int64     `json:"amount"`
		Reference string    `json:"reference"`
		CreatedAt time.Time `json:"createdAt"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		trs, err := accountService.ListTransactions(r.Context(), userID)
		if err != nil {
			l.Error("Failed to list transactions", "user_id", userID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		res := make([]transaction, 0, len(trs))
		for _, t := range trs {
			res = append(res, transaction{
				ID:        t.ID.String(),
				Amount:    t.Amount,
				Reference: t.Reference,
				CreatedAt: t.CreatedAt,
			})
		}
		render.JSON(w, res)
	})
}
