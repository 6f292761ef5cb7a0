package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/trackpay/trackpay-api/internal/middleware"
	"github.com/trackpay/trackpay-api/internal/model"
)

type mockUserService struct {
	withdrawFn func(ctx context.Context, userID string) error
}

func (m *mockUserService) Withdraw(ctx context.Context, userID string) error {
	return m.withdrawFn(ctx, userID)
}

// TestUserHandler_Withdraw_Success は退会成功時に204とCookie削除を返すことを検証する。
func TestUserHandler_Withdraw_Success(t *testing.T) {
	var gotUserID string
	svc := &mockUserService{
		withdrawFn: func(ctx context.Context, userID string) error {
			gotUserID = userID
			return nil
		},
	}
	h := NewUserHandler(svc, AuthHandlerConfig{CookieSecure: true})

	req := withUserID(httptest.NewRequest(http.MethodDelete, "/api/users/me", nil), "user-1")
	w := httptest.NewRecorder()
	h.Withdraw(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if gotUserID != "user-1" {
		t.Errorf("userID = %q, want %q", gotUserID, "user-1")
	}

	var cleared bool
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookieName && c.MaxAge < 0 && c.Secure {
			cleared = true
		}
	}
	if !cleared {
		t.Error("session cookie should be cleared")
	}
}

// TestUserHandler_Withdraw_Unauthenticated は未認証時に401を返すことを検証する。
func TestUserHandler_Withdraw_Unauthenticated(t *testing.T) {
	svc := &mockUserService{
		withdrawFn: func(ctx context.Context, userID string) error {
			t.Fatal("Withdraw should not be called")
			return nil
		},
	}
	h := NewUserHandler(svc, AuthHandlerConfig{})

	w := httptest.NewRecorder()
	h.Withdraw(w, httptest.NewRequest(http.MethodDelete, "/api/users/me", nil))

	assertAPIError(t, w, http.StatusUnauthorized, model.ErrCodeUnauthorized)
}

// TestUserHandler_Withdraw_UserNotFound はユーザーが存在しない場合に404を返しCookieを残すことを検証する。
func TestUserHandler_Withdraw_UserNotFound(t *testing.T) {
	svc := &mockUserService{
		withdrawFn: func(ctx context.Context, userID string) error {
			return model.NewUserNotFoundError()
		},
	}
	h := NewUserHandler(svc, AuthHandlerConfig{})

	req := withUserID(httptest.NewRequest(http.MethodDelete, "/api/users/me", nil), "ghost")
	w := httptest.NewRecorder()
	h.Withdraw(w, req)

	assertAPIError(t, w, http.StatusNotFound, model.ErrCodeUserNotFound)
	if len(w.Result().Cookies()) != 0 {
		t.Error("cookie should not be touched on failure")
	}
}

// TestUserHandler_Withdraw_InternalError は内部エラー時に500を返すことを検証する。
func TestUserHandler_Withdraw_InternalError(t *testing.T) {
	svc := &mockUserService{
		withdrawFn: func(ctx context.Context, userID string) error {
			return errors.New("db down")
		},
	}
	h := NewUserHandler(svc, AuthHandlerConfig{})

	req := withUserID(httptest.NewRequest(http.MethodDelete, "/api/users/me", nil), "user-1")
	w := httptest.NewRecorder()
	h.Withdraw(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
