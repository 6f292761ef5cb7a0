package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/trackpay/trackpay-api/internal/middleware"
	"github.com/trackpay/trackpay-api/internal/model"
	"github.com/trackpay/trackpay-api/internal/repository"
)

// maxRequestBodyBytes はJSONリクエストボディの上限。
const maxRequestBodyBytes = 64 << 10

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSON(w, statusCode, apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをdstにデコードする。
// 失敗した場合は400 INVALID_REQUESTを書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return false
	}
	return true
}

// requireUserID はコンテキストから認証済みユーザーIDを取り出す。
// 取得できない場合は401を書き込みfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// isUUID はsがUUIDとして解釈できるかを返す。
func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// requireUUIDParam はパスパラメーターがUUIDでない場合にnotFoundのエラーで応答するミドルウェアを返す。
// UUID列への問い合わせはDBで型エラーになるため、存在しないIDと同じ扱いで手前で止める。
func requireUUIDParam(name string, notFound func(id string) *model.APIError) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, name)
			if !isUUID(id) {
				writeAPIErrorResponse(w, http.StatusNotFound, notFound(id))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error",
		slog.String("error", err.Error()),
		slog.String("request_id", chimw.GetReqID(r.Context())),
	)
	middleware.WriteInternalServerError(w, r)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation, model.ErrCodeInvalidPaymentMethod,
		model.ErrCodeInvalidCursor, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized, model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeForbiddenRole:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound, model.ErrCodeClientNotFound,
		model.ErrCodeSessionNotFound, model.ErrCodeInviteNotFound:
		return http.StatusNotFound
	case model.ErrCodeEmailTaken, model.ErrCodeActiveSessionExists,
		model.ErrCodeInvalidSessionTransition, model.ErrCodeNoUnpaidSessions,
		model.ErrCodeInviteAlreadyClaimed, model.ErrCodeAlreadyLinked,
		model.ErrCodeClientAlreadyClaimed:
		return http.StatusConflict
	case model.ErrCodeInviteExpired:
		return http.StatusGone
	case model.ErrCodeEmailDisabled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// --- レスポンス型 ---

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID       string  `json:"id"`
	Role     string  `json:"role"`
	Name     string  `json:"name"`
	Email    *string `json:"email"`
	Language string  `json:"language"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:       u.ID,
		Role:     string(u.Role),
		Name:     u.Name,
		Email:    u.Email,
		Language: string(u.Language),
	}
}

// clientResponse はプロバイダーのクライアント一覧の1件。
type clientResponse struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Email           *string    `json:"email"`
	Claimed         bool       `json:"claimed"`
	HourlyRateCents int64      `json:"hourly_rate_cents"`
	UnpaidCents     int64      `json:"unpaid_cents"`
	HasActive       bool       `json:"has_active_session"`
	InviteCode      *string    `json:"invite_code"`
	InviteExpiresAt *time.Time `json:"invite_expires_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toClientResponse(row repository.ClientRow) clientResponse {
	return clientResponse{
		ID:              row.Relationship.ClientID,
		Name:            row.ClientName,
		Email:           row.ClientEmail,
		Claimed:         row.Claimed,
		HourlyRateCents: row.Relationship.HourlyRateCents,
		UnpaidCents:     row.UnpaidCents,
		HasActive:       row.HasActive,
		InviteCode:      row.PendingInvite,
		InviteExpiresAt: row.InviteExpiresAt,
		CreatedAt:       row.Relationship.CreatedAt,
	}
}

// providerResponse はクライアントのプロバイダー一覧の1件。
type providerResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	HourlyRateCents int64  `json:"hourly_rate_cents"`
	UnpaidCents     int64  `json:"unpaid_cents"`
}

func toProviderResponse(row repository.ProviderRow) providerResponse {
	return providerResponse{
		ID:              row.Relationship.ProviderID,
		Name:            row.ProviderName,
		HourlyRateCents: row.Relationship.HourlyRateCents,
		UnpaidCents:     row.UnpaidCents,
	}
}

// relationshipResponse は組の情報のAPIレスポンス。
type relationshipResponse struct {
	ProviderID      string `json:"provider_id"`
	ClientID        string `json:"client_id"`
	HourlyRateCents int64  `json:"hourly_rate_cents"`
}

func toRelationshipResponse(rel *model.Relationship) relationshipResponse {
	return relationshipResponse{
		ProviderID:      rel.ProviderID,
		ClientID:        rel.ClientID,
		HourlyRateCents: rel.HourlyRateCents,
	}
}

// sessionResponse は作業セッションのAPIレスポンス。
type sessionResponse struct {
	ID              string     `json:"id"`
	ProviderID      string     `json:"provider_id"`
	ClientID        string     `json:"client_id"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	DurationMinutes *int       `json:"duration_minutes"`
	HourlyRateCents int64      `json:"hourly_rate_cents"`
	AmountCents     *int64     `json:"amount_cents"`
	Status          string     `json:"status"`
	PaymentID       *string    `json:"payment_id"`
}

func toSessionResponse(s *model.Session) sessionResponse {
	return sessionResponse{
		ID:              s.ID,
		ProviderID:      s.ProviderID,
		ClientID:        s.ClientID,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		DurationMinutes: s.DurationMinutes,
		HourlyRateCents: s.HourlyRateCents,
		AmountCents:     s.AmountCents,
		Status:          string(s.Status),
		PaymentID:       s.PaymentID,
	}
}

func toSessionResponses(sessions []*model.Session) []sessionResponse {
	results := make([]sessionResponse, len(sessions))
	for i, s := range sessions {
		results[i] = toSessionResponse(s)
	}
	return results
}

// summaryResponse は組の集計値のAPIレスポンス。
type summaryResponse struct {
	UnpaidCents    int64 `json:"unpaid_cents"`
	RequestedCents int64 `json:"requested_cents"`
	PaidCents      int64 `json:"paid_cents"`
	TotalMinutes   int   `json:"total_minutes"`
}

func toSummaryResponse(t *model.SessionTotals) summaryResponse {
	return summaryResponse{
		UnpaidCents:    t.UnpaidCents,
		RequestedCents: t.RequestedCents,
		PaidCents:      t.PaidCents,
		TotalMinutes:   t.TotalMinutes,
	}
}

// paymentResponse は支払いのAPIレスポンス。
type paymentResponse struct {
	ID          string    `json:"id"`
	ProviderID  string    `json:"provider_id"`
	ClientID    string    `json:"client_id"`
	AmountCents int64     `json:"amount_cents"`
	Method      string    `json:"method"`
	Note        string    `json:"note"`
	PaidAt      time.Time `json:"paid_at"`
	SessionIDs  []string  `json:"session_ids"`
}

func toPaymentResponse(p *model.Payment) paymentResponse {
	sessionIDs := p.SessionIDs
	if sessionIDs == nil {
		sessionIDs = []string{}
	}
	return paymentResponse{
		ID:          p.ID,
		ProviderID:  p.ProviderID,
		ClientID:    p.ClientID,
		AmountCents: p.AmountCents,
		Method:      string(p.Method),
		Note:        p.Note,
		PaidAt:      p.PaidAt,
		SessionIDs:  sessionIDs,
	}
}

// inviteResponse は招待のAPIレスポンス。
type inviteResponse struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	Code      string    `json:"code"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

func toInviteResponse(inv *model.Invite) inviteResponse {
	return inviteResponse{
		ID:        inv.ID,
		ClientID:  inv.ClientID,
		Code:      inv.Code,
		Status:    string(inv.Status),
		ExpiresAt: inv.ExpiresAt,
	}
}

// inviteLookupResponse は公開の招待コード照会のAPIレスポンス。
// 招待IDなど内部の識別子は含めない。
type inviteLookupResponse struct {
	Code         string    `json:"code"`
	Status       string    `json:"status"`
	ProviderName string    `json:"provider_name"`
	ClientName   string    `json:"client_name"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func toInviteLookupResponse(d *model.InviteDetails) inviteLookupResponse {
	return inviteLookupResponse{
		Code:         d.Code,
		Status:       string(d.Status),
		ProviderName: d.ProviderName,
		ClientName:   d.ClientName,
		ExpiresAt:    d.ExpiresAt,
	}
}

// activityResponse はアクティビティフィードの1件。
type activityResponse struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	ProviderID string          `json:"provider_id"`
	ClientID   string          `json:"client_id"`
	SessionID  *string         `json:"session_id"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"created_at"`
}

func toActivityResponse(a *model.Activity) activityResponse {
	data := a.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return activityResponse{
		ID:         a.ID,
		Type:       string(a.Type),
		ProviderID: a.ProviderID,
		ClientID:   a.ClientID,
		SessionID:  a.SessionID,
		Data:       data,
		CreatedAt:  a.CreatedAt,
	}
}
