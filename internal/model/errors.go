// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, client, session, payment, invite, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized             = "UNAUTHORIZED"
	ErrCodeInvalidCredentials       = "INVALID_CREDENTIALS"
	ErrCodeEmailTaken               = "EMAIL_TAKEN"
	ErrCodeValidation               = "VALIDATION_ERROR"
	ErrCodeForbiddenRole            = "FORBIDDEN_ROLE"
	ErrCodeUserNotFound             = "USER_NOT_FOUND"
	ErrCodeClientNotFound           = "CLIENT_NOT_FOUND"
	ErrCodeSessionNotFound          = "SESSION_NOT_FOUND"
	ErrCodeActiveSessionExists      = "ACTIVE_SESSION_EXISTS"
	ErrCodeInvalidSessionTransition = "INVALID_SESSION_TRANSITION"
	ErrCodeNoUnpaidSessions         = "NO_UNPAID_SESSIONS"
	ErrCodeInvalidPaymentMethod     = "INVALID_PAYMENT_METHOD"
	ErrCodeInviteNotFound           = "INVITE_NOT_FOUND"
	ErrCodeInviteExpired            = "INVITE_EXPIRED"
	ErrCodeInviteAlreadyClaimed     = "INVITE_ALREADY_CLAIMED"
	ErrCodeAlreadyLinked            = "ALREADY_LINKED"
	ErrCodeClientAlreadyClaimed     = "CLIENT_ALREADY_CLAIMED"
	ErrCodeEmailDisabled            = "EMAIL_DISABLED"
	ErrCodeInvalidCursor            = "INVALID_CURSOR"
	ErrCodeInvalidRequest           = "INVALID_REQUEST"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Authentication is required.",
		Category: "auth",
		Action:   "Please sign in.",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// メールアドレスの存在有無を漏らさないよう、原因は区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Email or password is incorrect.",
		Category: "auth",
		Action:   "Check your email and password and try again.",
	}
}

// NewEmailTakenError はメールアドレス重複エラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "An account with this email already exists.",
		Category: "auth",
		Action:   "Sign in instead, or use a different email address.",
	}
}

// NewValidationError は入力値エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("Invalid input: %s", reason),
		Category: "validation",
		Action:   "Correct the highlighted field and try again.",
	}
}

// NewForbiddenRoleError は役割に許可されていない操作のエラーを生成する。
func NewForbiddenRoleError(role Role) *APIError {
	return &APIError{
		Code:     ErrCodeForbiddenRole,
		Message:  fmt.Sprintf("This action is not available to %s accounts.", role),
		Category: "auth",
		Action:   "Sign in with the appropriate account.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: "auth",
		Action:   "Please sign in again.",
	}
}

// NewClientNotFoundError はクライアントが見つからない（または関係がない）場合のエラーを生成する。
func NewClientNotFoundError(clientID string) *APIError {
	return &APIError{
		Code:     ErrCodeClientNotFound,
		Message:  fmt.Sprintf("Client not found: %s", clientID),
		Category: "client",
		Action:   "Refresh your client list.",
	}
}

// NewSessionNotFoundError は作業セッションが見つからない場合のエラーを生成する。
func NewSessionNotFoundError(sessionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  fmt.Sprintf("Session not found: %s", sessionID),
		Category: "session",
		Action:   "Refresh the session list.",
	}
}

// NewActiveSessionExistsError は計測中セッションが既に存在する場合のエラーを生成する。
func NewActiveSessionExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeActiveSessionExists,
		Message:  "A session is already running for this client.",
		Category: "session",
		Action:   "Stop the running session first.",
	}
}

// NewInvalidSessionTransitionError は許可されない状態遷移のエラーを生成する。
func NewInvalidSessionTransitionError(action string, from SessionStatus) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSessionTransition,
		Message:  fmt.Sprintf("Cannot %s a session that is %s.", action, from),
		Category: "session",
		Action:   "Refresh the session list.",
	}
}

// NewNoUnpaidSessionsError は請求対象がない場合のエラーを生成する。
func NewNoUnpaidSessionsError() *APIError {
	return &APIError{
		Code:     ErrCodeNoUnpaidSessions,
		Message:  "There are no unpaid sessions to request payment for.",
		Category: "payment",
		Action:   "Track a session before requesting payment.",
	}
}

// NewInvalidPaymentMethodError は未知の支払い手段のエラーを生成する。
func NewInvalidPaymentMethodError(method string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPaymentMethod,
		Message:  fmt.Sprintf("Unknown payment method: %s", method),
		Category: "validation",
		Action:   "Use one of cash, venmo, zelle, paypal, bank_transfer, other.",
	}
}

// NewInviteNotFoundError は招待コードが見つからない場合のエラーを生成する。
func NewInviteNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeInviteNotFound,
		Message:  "Invite code not found.",
		Category: "invite",
		Action:   "Check the 8-character code and try again.",
	}
}

// NewInviteExpiredError は招待コードの期限切れエラーを生成する。
func NewInviteExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeInviteExpired,
		Message:  "This invite code has expired.",
		Category: "invite",
		Action:   "Ask your provider for a new invite code.",
	}
}

// NewInviteAlreadyClaimedError は招待コードが使用済みの場合のエラーを生成する。
func NewInviteAlreadyClaimedError() *APIError {
	return &APIError{
		Code:     ErrCodeInviteAlreadyClaimed,
		Message:  "This invite code has already been used.",
		Category: "invite",
		Action:   "Sign in with the account that used this code.",
	}
}

// NewAlreadyLinkedError はクライアントが既に同じプロバイダーと紐付いている場合のエラーを生成する。
func NewAlreadyLinkedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyLinked,
		Message:  "Your account is already linked to this provider.",
		Category: "invite",
		Action:   "No action is needed.",
	}
}

// NewClientAlreadyClaimedError はクレーム済みクライアントに招待を発行しようとした場合のエラーを生成する。
func NewClientAlreadyClaimedError() *APIError {
	return &APIError{
		Code:     ErrCodeClientAlreadyClaimed,
		Message:  "This client already has an account.",
		Category: "invite",
		Action:   "No invite is needed for this client.",
	}
}

// NewEmailDisabledError はメール送信が設定されていない場合のエラーを生成する。
func NewEmailDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailDisabled,
		Message:  "Email delivery is not configured.",
		Category: "system",
		Action:   "Share the invite code manually.",
	}
}

// NewInvalidCursorError は無効なページングカーソルのエラーを生成する。
func NewInvalidCursorError(cursor string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCursor,
		Message:  fmt.Sprintf("Invalid cursor: %s", cursor),
		Category: "validation",
		Action:   "Use the next_cursor value from the previous response.",
	}
}

// NewInvalidRequestError はリクエストボディを解析できない場合のエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "The request body could not be parsed.",
		Category: "validation",
		Action:   "Send a valid JSON body.",
	}
}
