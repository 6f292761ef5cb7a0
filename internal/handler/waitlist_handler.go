package handler

import (
	"context"
	"net/http"

	"github.com/trackpay/trackpay-api/internal/model"
)

// WaitlistServiceInterface はウェイトリストハンドラーが必要とするサービスインターフェース。
type WaitlistServiceInterface interface {
	Join(ctx context.Context, email string, lang model.Language, source string) (bool, error)
}

// WaitlistHandler はマーケティングサイトのウェイトリスト登録のHTTPハンドラー。
type WaitlistHandler struct {
	service WaitlistServiceInterface
}

// NewWaitlistHandler はWaitlistHandlerを生成する。
func NewWaitlistHandler(service WaitlistServiceInterface) *WaitlistHandler {
	return &WaitlistHandler{service: service}
}

// joinWaitlistRequest はウェイトリスト登録リクエストのボディ。
type joinWaitlistRequest struct {
	Email    string `json:"email"`
	Language string `json:"language"`
	Source   string `json:"source"`
}

// Join はメールアドレスをウェイトリストに登録する。
// 登録済みのアドレスは200、新規登録は201を返し、どちらも同じボディとする。
// POST /api/waitlist
func (h *WaitlistHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinWaitlistRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	added, err := h.service.Join(r.Context(), req.Email, model.ParseLanguage(req.Language), req.Source)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]bool{"ok": true})
}
