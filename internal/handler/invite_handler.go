package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/trackpay/trackpay-api/internal/model"
)

// InviteServiceInterface は招待ハンドラーが必要とするサービスインターフェース。
type InviteServiceInterface interface {
	Generate(ctx context.Context, providerID, clientID string) (*model.Invite, error)
	Lookup(ctx context.Context, code string) (*model.InviteDetails, error)
	Claim(ctx context.Context, userID, code string) (*model.Relationship, error)
	SendEmail(ctx context.Context, providerID, inviteID, email string) error
}

// InviteHandler は招待コードのHTTPハンドラー。
type InviteHandler struct {
	service InviteServiceInterface
}

// NewInviteHandler はInviteHandlerを生成する。
func NewInviteHandler(service InviteServiceInterface) *InviteHandler {
	return &InviteHandler{service: service}
}

// claimInviteRequest は招待クレームリクエストのボディ。
type claimInviteRequest struct {
	Code string `json:"code"`
}

// sendInviteEmailRequest は招待メール送信リクエストのボディ。
type sendInviteEmailRequest struct {
	Email string `json:"email"`
}

// Generate はクライアントの招待コードを再発行する。既存のpending招待は無効になる。
// POST /api/clients/{id}/invites
func (h *InviteHandler) Generate(w http.ResponseWriter, r *http.Request) {
	providerID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	inv, err := h.service.Generate(r.Context(), providerID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toInviteResponse(inv))
}

// Lookup は招待コードの公開情報を返す。認証不要。
// GET /api/invites/{code}
func (h *InviteHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	details, err := h.service.Lookup(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toInviteLookupResponse(details))
}

// Claim はログイン中のクライアントアカウントで招待コードをクレームする。
// POST /api/invites/claim
func (h *InviteHandler) Claim(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req claimInviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("code is required"))
		return
	}

	rel, err := h.service.Claim(r.Context(), userID, req.Code)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toRelationshipResponse(rel))
}

// SendEmail は招待コードをメールで送信する。
// POST /api/invites/{id}/email
func (h *InviteHandler) SendEmail(w http.ResponseWriter, r *http.Request) {
	providerID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req sendInviteEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.SendEmail(r.Context(), providerID, chi.URLParam(r, "id"), req.Email); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
