package middleware

import (
	"net/http"
	"strings"

	"github.com/nkiryanov/gozon/internal/handlers/render"
	"github.com/nkiryanov/gozon/internal/handlers/userctx"
)

const (
	UserIDHeader = "X-User-Id"
	UserIDParam  = "user_id"
)

// UserIDMiddleware identifies the caller by header or query parameter.
// The gateway in front of services authenticates users, here the id is trusted as is.
func UserIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
			if userID == "" {
				userID = strings.TrimSpace(r.URL.Query().Get(UserIDParam))
			}

			if userID == "" {
				render.ServiceError(w, "User id is required", http.StatusBadRequest)
				return
			}

			ctx := userctx.New(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
