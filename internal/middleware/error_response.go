package middleware

import (
	"encoding/json"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/trackpay/trackpay-api/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// RequestIDは500系のみ付与し、問い合わせ時にログと突き合わせるために使う。
type ErrorResponseBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Category  string `json:"category"`
	Action    string `json:"action"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeErrorBody(w, statusCode, ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーのレスポンスを書き込む。
// 原因はレスポンスに含めない。
func WriteInternalServerError(w http.ResponseWriter, r *http.Request) {
	writeErrorBody(w, http.StatusInternalServerError, ErrorResponseBody{
		Code:      "INTERNAL_ERROR",
		Message:   "Something went wrong on our side.",
		Category:  "system",
		Action:    "Please try again. If it keeps failing, contact support with the request ID.",
		RequestID: chimw.GetReqID(r.Context()),
	})
}

func writeErrorBody(w http.ResponseWriter, statusCode int, body ErrorResponseBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
