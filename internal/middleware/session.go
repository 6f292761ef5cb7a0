// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/trackpay/trackpay-api/internal/model"
)

// SessionCookieName はログインセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// sessionIDContextKey はリクエストコンテキストにログインセッションIDを格納するためのキー。
	sessionIDContextKey = contextKey("session_id")
)

// SessionFinder はログインセッションの検索に必要なインターフェース。
// repository.AuthSessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.AuthSession, error)
}

// TokenParser はBearerトークンを検証し、セッションIDとユーザーIDを取り出す。
type TokenParser interface {
	ParseToken(token string) (sessionID, userID string, err error)
}

// credentials はリクエストからセッションIDを取り出す。
// Authorizationヘッダーを優先し、なければCookieを使用する。
// Bearerトークンの場合はトークンのsubも返す。
func credentials(r *http.Request, tokens TokenParser) (sessionID, tokenUserID string, ok bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		raw, found := strings.CutPrefix(h, "Bearer ")
		if !found || tokens == nil {
			return "", "", false
		}
		sid, uid, err := tokens.ParseToken(strings.TrimSpace(raw))
		if err != nil {
			slog.Debug("bearer token rejected", slog.String("error", err.Error()))
			return "", "", false
		}
		return sid, uid, true
	}

	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", "", false
	}
	return cookie.Value, "", true
}

// NewSessionMiddleware はCookieまたはBearerトークンからセッションを読み取り、
// 有効性を検証するミドルウェアを返す。
// 認証済みユーザーIDとセッションIDをリクエストコンテキストに注入する。
// 未認証リクエストには401を返す。
func NewSessionMiddleware(sessionFinder SessionFinder, tokens TokenParser) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, tokenUserID, ok := credentials(r, tokens)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			session, err := sessionFinder.FindByID(r.Context(), sessionID)
			if err != nil {
				slog.Error("failed to find session",
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if session == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			// トークンのsubとセッションの所有者が一致しない場合は拒否
			if tokenUserID != "" && tokenUserID != session.UserID {
				slog.Warn("token subject does not match session",
					slog.String("session_id", session.ID),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if info := requestInfoFrom(r.Context()); info != nil {
				info.userID = session.UserID
			}
			ctx := context.WithValue(r.Context(), userIDContextKey, session.UserID)
			ctx = context.WithValue(ctx, sessionIDContextKey, session.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// SessionIDFromContext はリクエストコンテキストからログインセッションIDを取得する。
func SessionIDFromContext(ctx context.Context) (string, error) {
	sessionID, ok := ctx.Value(sessionIDContextKey).(string)
	if !ok || sessionID == "" {
		return "", fmt.Errorf("session ID not found in context")
	}
	return sessionID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// ContextWithSession はコンテキストにユーザーIDとセッションIDを注入する。
func ContextWithSession(ctx context.Context, userID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDContextKey, userID)
	return context.WithValue(ctx, sessionIDContextKey, sessionID)
}
