package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/trackpay/trackpay-api/internal/model"
	"github.com/trackpay/trackpay-api/internal/tracking"
)

// TrackingServiceInterface は作業セッションハンドラーが必要とするサービスインターフェース。
// counterpartIDを取る操作はプロバイダー・クライアントのどちらからも呼び出せる。
type TrackingServiceInterface interface {
	StartSession(ctx context.Context, providerID, clientID string) (*model.Session, error)
	StopSession(ctx context.Context, providerID, sessionID string) (*model.Session, error)
	ListSessions(ctx context.Context, userID, counterpartID, status string) ([]*model.Session, error)
	GetActiveSession(ctx context.Context, userID, counterpartID string) (*model.Session, error)
	DeleteSession(ctx context.Context, providerID, sessionID string) error
	RequestPayment(ctx context.Context, providerID, clientID string) (*tracking.PaymentRequestResult, error)
	Summary(ctx context.Context, userID, counterpartID string) (*model.SessionTotals, error)
}

// SessionHandler は作業セッションのHTTPハンドラー。
type SessionHandler struct {
	service TrackingServiceInterface
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(service TrackingServiceInterface) *SessionHandler {
	return &SessionHandler{service: service}
}

// activeSessionResponse は計測中セッションの照会結果。計測中でなければsessionはnull。
type activeSessionResponse struct {
	Session *sessionResponse `json:"session"`
}

// paymentRequestResponse は支払い請求の結果。
type paymentRequestResponse struct {
	SessionCount int   `json:"session_count"`
	AmountCents  int64 `json:"amount_cents"`
}

// StartSession は作業時間の計測を開始する。
// POST /api/clients/{id}/sessions
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	providerID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	sess, err := h.service.StartSession(r.Context(), providerID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

// StopSession は計測中のセッションを終了する。
// POST /api/sessions/{id}/stop
func (h *SessionHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	providerID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	sess, err := h.service.StopSession(r.Context(), providerID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// DeleteSession はセッションを削除する。
// DELETE /api/sessions/{id}
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	providerID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteSession(r.Context(), providerID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListSessions は組のセッション一覧を返す。
// GET /api/clients/{id}/sessions?status=
// GET /api/providers/{id}/sessions?status=
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	status := r.URL.Query().Get("status")
	sessions, err := h.service.ListSessions(r.Context(), userID, chi.URLParam(r, "id"), status)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponses(sessions))
}

// GetActiveSession は組の計測中セッションを返す。
// GET /api/clients/{id}/sessions/active
// GET /api/providers/{id}/sessions/active
func (h *SessionHandler) GetActiveSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	sess, err := h.service.GetActiveSession(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	var resp activeSessionResponse
	if sess != nil {
		s := toSessionResponse(sess)
		resp.Session = &s
	}
	writeJSON(w, http.StatusOK, resp)
}

// Summary は組の金額集計を返す。
// GET /api/clients/{id}/summary
// GET /api/providers/{id}/summary
func (h *SessionHandler) Summary(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	totals, err := h.service.Summary(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSummaryResponse(totals))
}

// RequestPayment はクライアントに未請求セッションの支払いを請求する。
// POST /api/clients/{id}/payment-requests
func (h *SessionHandler) RequestPayment(w http.ResponseWriter, r *http.Request) {
	providerID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	result, err := h.service.RequestPayment(r.Context(), providerID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, paymentRequestResponse{
		SessionCount: result.SessionCount,
		AmountCents:  result.AmountCents,
	})
}
