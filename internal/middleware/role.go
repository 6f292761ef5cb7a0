package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/trackpay/trackpay-api/internal/model"
)

// UserFinder はユーザーの検索に必要なインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// NewRoleMiddleware は認証済みユーザーが指定の役割であることを要求するミドルウェアを返す。
// SessionMiddlewareの後に配置する。役割が異なる場合は403 FORBIDDEN_ROLEを返す。
func NewRoleMiddleware(users UserFinder, role model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			user, err := users.FindByID(r.Context(), userID)
			if err != nil {
				slog.Error("failed to find user for role check",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w, r)
				return
			}
			if user == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if user.Role != role {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenRoleError(user.Role))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
