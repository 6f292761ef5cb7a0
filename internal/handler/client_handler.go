package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/trackpay/trackpay-api/internal/client"
	"github.com/trackpay/trackpay-api/internal/model"
	"github.com/trackpay/trackpay-api/internal/repository"
)

// ClientServiceInterface はクライアント名簿ハンドラーが必要とするサービスインターフェース。
type ClientServiceInterface interface {
	AddClient(ctx context.Context, providerID string, in client.AddClientInput) (*repository.ClientRow, error)
	ListClients(ctx context.Context, providerID string) ([]repository.ClientRow, error)
	ListProviders(ctx context.Context, clientID string) ([]repository.ProviderRow, error)
	UpdateClient(ctx context.Context, providerID, clientID string, in client.UpdateClientInput) (*model.Relationship, error)
	RemoveClient(ctx context.Context, providerID, clientID string) error
}

// ClientHandler はクライアント名簿のHTTPハンドラー。
type ClientHandler struct {
	service ClientServiceInterface
}

// NewClientHandler はClientHandlerを生成する。
func NewClientHandler(service ClientServiceInterface) *ClientHandler {
	return &ClientHandler{service: service}
}

// addClientRequest はクライアント追加リクエストのボディ。
type addClientRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	HourlyRateCents int64  `json:"hourly_rate_cents"`
	Language        string `json:"language"`
}

// updateClientRequest はクライアント更新リクエストのボディ。省略したフィールドは変更しない。
type updateClientRequest struct {
	Name            *string `json:"name"`
	HourlyRateCents *int64  `json:"hourly_rate_cents"`
}

// ListClients はプロバイダーのクライアント一覧を返す。
// GET /api/clients
func (h *ClientHandler) ListClients(w http.ResponseWriter, r *http.Request) {
	providerID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	rows, err := h.service.ListClients(r.Context(), providerID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	results := make([]clientResponse, len(rows))
	for i, row := range rows {
		results[i] = toClientResponse(row)
	}
	writeJSON(w, http.StatusOK, results)
}

// AddClient はクライアントを追加し、招待コードを発行する。
// POST /api/clients
func (h *ClientHandler) AddClient(w http.ResponseWriter, r *http.Request) {
	providerID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req addClientRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	row, err := h.service.AddClient(r.Context(), providerID, client.AddClientInput{
		Name:            req.Name,
		Email:           req.Email,
		HourlyRateCents: req.HourlyRateCents,
		Language:        model.ParseLanguage(req.Language),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toClientResponse(*row))
}

// UpdateClient はクライアントの名前・時給を更新する。
// PATCH /api/clients/{id}
func (h *ClientHandler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	providerID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateClientRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == nil && req.HourlyRateCents == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("name or hourly_rate_cents is required"))
		return
	}

	rel, err := h.service.UpdateClient(r.Context(), providerID, chi.URLParam(r, "id"), client.UpdateClientInput{
		Name:            req.Name,
		HourlyRateCents: req.HourlyRateCents,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toRelationshipResponse(rel))
}

// RemoveClient はクライアントを名簿から削除する。
// DELETE /api/clients/{id}
func (h *ClientHandler) RemoveClient(w http.ResponseWriter, r *http.Request) {
	providerID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.RemoveClient(r.Context(), providerID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListProviders はクライアントのプロバイダー一覧を返す。
// GET /api/providers
func (h *ClientHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	clientID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	rows, err := h.service.ListProviders(r.Context(), clientID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	results := make([]providerResponse, len(rows))
	for i, row := range rows {
		results[i] = toProviderResponse(row)
	}
	writeJSON(w, http.StatusOK, results)
}
