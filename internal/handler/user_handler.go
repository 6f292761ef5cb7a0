package handler

import (
	"context"
	"net/http"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Withdraw はユーザーの退会処理を実行する。
	// セッションとユーザーを削除し、関係・作業記録・支払い・招待はCASCADEで消える。
	Withdraw(ctx context.Context, userID string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	config  AuthHandlerConfig
}

// NewUserHandler はUserHandlerを生成する。
// configは退会時にセッションCookieを削除するために使用する。
func NewUserHandler(service UserServiceInterface, config AuthHandlerConfig) *UserHandler {
	return &UserHandler{
		service: service,
		config:  config,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSessionCookie(w, h.config, "", -1)
	w.WriteHeader(http.StatusNoContent)
}
