package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// newTestRouter はアプリケーションと同じ順序でミドルウェアを組んだルーターを返す。
func newTestRouter(t *testing.T, buf *bytes.Buffer) *chi.Mux {
	t.Helper()
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    2,
		InviteRate:      1,
		InviteBurst:     1,
		WaitlistRate:    1,
		WaitlistBurst:   1,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(rl.Stop)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(NewRecoveryMiddleware())
	r.Use(NewLoggingMiddleware(newBufferLogger(buf)))
	r.Use(NewSecurityHeadersMiddleware(true))

	r.Get("/auth/csrf-token", NewCSRFTokenHandler(CSRFConfig{}).ServeHTTP)
	r.Get("/panic", func(http.ResponseWriter, *http.Request) { panic("boom") })

	r.Group(func(r chi.Router) {
		r.Use(NewSessionMiddleware(sessionsByID(validSession("sess-1", "user-1")), nil))
		r.Use(NewCSRFMiddleware(CSRFConfig{}))
		r.Use(rl.GeneralMiddleware())

		r.Get("/api/me", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		r.Post("/api/action", func(w http.ResponseWriter, r *http.Request) {
			userID, _ := UserIDFromContext(r.Context())
			json.NewEncoder(w).Encode(map[string]string{"user_id": userID})
		})
	})
	return r
}

// セッション、CSRF、レート制限を通過したリクエストが処理されること。
func TestChain_AuthenticatedPostWithCSRF(t *testing.T) {
	var buf bytes.Buffer
	r := newTestRouter(t, &buf)

	tokenRec := httptest.NewRecorder()
	r.ServeHTTP(tokenRec, httptest.NewRequest(http.MethodGet, "/auth/csrf-token", nil))
	var tokenBody map[string]string
	if err := json.NewDecoder(tokenRec.Body).Decode(&tokenBody); err != nil {
		t.Fatalf("decode token: %v", err)
	}

	buf.Reset()
	req := httptest.NewRequest(http.MethodPost, "/api/action", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sess-1"})
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tokenBody["token"]})
	req.Header.Set(csrfHeaderName, tokenBody["token"])
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Strict-Transport-Security") == "" || w.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("security headers missing: %v", w.Header())
	}
	entry := decodeLogLine(t, &buf)
	if entry["user_id"] != "user-1" {
		t.Errorf("log user_id = %v", entry["user_id"])
	}
	if id, _ := entry["request_id"].(string); id == "" {
		t.Error("log should carry request_id")
	}
}

// レート制限はセッションのユーザーIDをキーに適用されること。
func TestChain_RateLimitAfterSession(t *testing.T) {
	var buf bytes.Buffer
	r := newTestRouter(t, &buf)

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sess-1"})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes[i] = w.Code
	}
	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d: status = %d, want %d", i, codes[i], want[i])
		}
	}
}

// 未認証リクエストはレート制限に到達する前に401になること。
func TestChain_UnauthenticatedRejectedBeforeRateLimit(t *testing.T) {
	var buf bytes.Buffer
	r := newTestRouter(t, &buf)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/me", nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("request %d: status = %d, want 401", i, w.Code)
		}
	}
}

// panicは統一フォーマットの500になり、ログに記録されること。
func TestChain_RecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	r := newTestRouter(t, &buf)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body.Code != "INTERNAL_ERROR" {
		t.Errorf("body = %+v, err = %v", body, err)
	}
}
