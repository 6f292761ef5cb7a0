package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/trackpay/trackpay-api/internal/middleware"
)

// パスやクエリで受け取るIDはUUIDとして検証されるため、テストでもUUIDを使う。
const (
	testProviderID = "9b2f6c1e-4d3a-4e8b-8f10-2a6d5c7e1b01"
	testClientID   = "3c8e1f5a-7b2d-4c6e-9a41-6f0b2d8c3e02"
	testSessionID  = "7e4a2c9b-1f6d-4b3a-8c57-0d9e3f1a6b03"
	testInviteID   = "5d1b7e3c-9a4f-4e2d-b6c8-1f7a0e2d9c04"
)

// withUserID はテスト用に認証済みユーザーIDをコンテキストに注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(r.Context(), userID)
	return r.WithContext(ctx)
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// jsonRequest はJSONボディ付きのリクエストを生成するヘルパー。
func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// decodeBody はレスポンスボディをvにデコードするヘルパー。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

// assertAPIError はステータスコードとエラーコードを検証するヘルパー。
func assertAPIError(t *testing.T, w *httptest.ResponseRecorder, wantStatus int, wantCode string) {
	t.Helper()
	if w.Code != wantStatus {
		t.Fatalf("status = %d, want %d: %s", w.Code, wantStatus, w.Body.String())
	}
	if got := parseAPIErrorResponse(t, w)["code"]; got != wantCode {
		t.Errorf("code = %q, want %q", got, wantCode)
	}
}
