// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/trackpay/trackpay-api/internal/auth"
	"github.com/trackpay/trackpay-api/internal/middleware"
	"github.com/trackpay/trackpay-api/internal/model"
)

// AuthResult はサインアップ・ログインの結果。
// Tokenはモバイルアプリ向けのBearerトークン。
type AuthResult struct {
	User    *model.User
	Session *model.AuthSession
	Token   string
}

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Signup(ctx context.Context, in auth.SignupInput) (*AuthResult, error)
	Login(ctx context.Context, email, password string) (*AuthResult, error)
	Logout(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, userID string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はメールアドレスとパスワードによる認証のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// signupRequest はサインアップリクエストのボディ。
type signupRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Language   string `json:"language"`
	InviteCode string `json:"invite_code"`
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// authResponse はサインアップ・ログインのAPIレスポンス。
type authResponse struct {
	User      userResponse `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Signup はアカウントを作成しログイン状態にする。
// POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Signup(r.Context(), auth.SignupInput{
		Name:       req.Name,
		Email:      req.Email,
		Password:   req.Password,
		Language:   req.Language,
		InviteCode: req.InviteCode,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.writeAuthResult(w, http.StatusCreated, result)
}

// Login はメールアドレスとパスワードでログインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.writeAuthResult(w, http.StatusOK, result)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID, err := middleware.SessionIDFromContext(r.Context()); err == nil {
		if logoutErr := h.service.Logout(r.Context(), sessionID); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	h.setSessionCookie(w, "", -1)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *AuthHandler) writeAuthResult(w http.ResponseWriter, status int, result *AuthResult) {
	h.setSessionCookie(w, result.Session.ID, h.config.SessionMaxAge)
	writeJSON(w, status, authResponse{
		User:      toUserResponse(result.User),
		Token:     result.Token,
		ExpiresAt: result.Session.ExpiresAt,
	})
}

// setSessionCookie はセッションCookieを設定する。maxAgeが負の場合は削除する。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, value string, maxAge int) {
	writeSessionCookie(w, h.config, value, maxAge)
}

func writeSessionCookie(w http.ResponseWriter, config AuthHandlerConfig, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
