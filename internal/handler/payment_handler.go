package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/trackpay/trackpay-api/internal/model"
	"github.com/trackpay/trackpay-api/internal/payment"
)

// PaymentServiceInterface は支払いハンドラーが必要とするサービスインターフェース。
type PaymentServiceInterface interface {
	RecordPayment(ctx context.Context, userID string, in payment.RecordPaymentInput) (*model.Payment, error)
	ListPayments(ctx context.Context, userID, providerID, clientID string) ([]*model.Payment, error)
}

// PaymentHandler は支払いのHTTPハンドラー。
type PaymentHandler struct {
	service PaymentServiceInterface
}

// NewPaymentHandler はPaymentHandlerを生成する。
func NewPaymentHandler(service PaymentServiceInterface) *PaymentHandler {
	return &PaymentHandler{service: service}
}

// recordPaymentRequest は支払い記録リクエストのボディ。
type recordPaymentRequest struct {
	ProviderID string     `json:"provider_id"`
	ClientID   string     `json:"client_id"`
	SessionIDs []string   `json:"session_ids"`
	Method     string     `json:"method"`
	Note       string     `json:"note"`
	PaidAt     *time.Time `json:"paid_at"`
}

// RecordPayment は支払いを記録する。プロバイダー・クライアントのどちらからも記録できる。
// POST /api/payments
func (h *PaymentHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req recordPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ProviderID == "" || req.ClientID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("provider_id and client_id are required"))
		return
	}
	if !isUUID(req.ProviderID) || !isUUID(req.ClientID) {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewClientNotFoundError(req.ClientID))
		return
	}

	p, err := h.service.RecordPayment(r.Context(), userID, payment.RecordPaymentInput{
		ProviderID: req.ProviderID,
		ClientID:   req.ClientID,
		SessionIDs: req.SessionIDs,
		Method:     model.PaymentMethod(req.Method),
		Note:       req.Note,
		PaidAt:     req.PaidAt,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPaymentResponse(p))
}

// ListPayments は組の支払い一覧を返す。
// GET /api/payments?provider_id=&client_id=
func (h *PaymentHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	providerID, clientID := q.Get("provider_id"), q.Get("client_id")
	if providerID == "" || clientID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("provider_id and client_id are required"))
		return
	}
	if !isUUID(providerID) || !isUUID(clientID) {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewClientNotFoundError(clientID))
		return
	}

	payments, err := h.service.ListPayments(r.Context(), userID, providerID, clientID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	results := make([]paymentResponse, len(payments))
	for i, p := range payments {
		results[i] = toPaymentResponse(p)
	}
	writeJSON(w, http.StatusOK, results)
}
