package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/trackpay/trackpay-api/internal/activity"
	"github.com/trackpay/trackpay-api/internal/model"
)

// ActivityServiceInterface はアクティビティフィードハンドラーが必要とするサービスインターフェース。
type ActivityServiceInterface interface {
	List(ctx context.Context, userID, cursor string, limit int) (*activity.ListResult, error)
}

// ActivityHandler はアクティビティフィードのHTTPハンドラー。
type ActivityHandler struct {
	service ActivityServiceInterface
}

// NewActivityHandler はActivityHandlerを生成する。
func NewActivityHandler(service ActivityServiceInterface) *ActivityHandler {
	return &ActivityHandler{service: service}
}

// activityListResponse はアクティビティ一覧のAPIレスポンス。
type activityListResponse struct {
	Activities []activityResponse `json:"activities"`
	NextCursor string             `json:"next_cursor,omitempty"`
	HasMore    bool               `json:"has_more"`
}

// ListActivities はユーザーに関係するアクティビティを新しい順に返す。
// GET /api/activities?cursor=&limit=
func (h *ActivityHandler) ListActivities(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("limit must be an integer"))
			return
		}
		limit = n
	}

	result, err := h.service.List(r.Context(), userID, q.Get("cursor"), limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	activities := make([]activityResponse, len(result.Activities))
	for i, a := range result.Activities {
		activities[i] = toActivityResponse(a)
	}
	writeJSON(w, http.StatusOK, activityListResponse{
		Activities: activities,
		NextCursor: result.NextCursor,
		HasMore:    result.HasMore,
	})
}
