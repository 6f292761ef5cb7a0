package model

import "time"

// Session は1回分の作業時間を表す。
type Session struct {
	ID              string
	ProviderID      string
	ClientID        string
	StartTime       time.Time
	EndTime         *time.Time
	DurationMinutes *int
	HourlyRateCents int64
	AmountCents     *int64
	Status          SessionStatus
	PaymentID       *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SessionStatus は作業セッションの状態を表す。
type SessionStatus string

const (
	// SessionStatusActive は計測中。
	SessionStatusActive SessionStatus = "active"
	// SessionStatusUnpaid は終了済みで未請求。
	SessionStatusUnpaid SessionStatus = "unpaid"
	// SessionStatusRequested は支払い請求済み。
	SessionStatusRequested SessionStatus = "requested"
	// SessionStatusPaid は支払い済み。
	SessionStatusPaid SessionStatus = "paid"
)

// ParseSessionStatus は文字列を SessionStatus に変換する。
// 空文字列は「フィルタなし」として ok=true, 空ステータスを返す。
func ParseSessionStatus(s string) (SessionStatus, bool) {
	switch SessionStatus(s) {
	case "":
		return "", true
	case SessionStatusActive, SessionStatusUnpaid, SessionStatusRequested, SessionStatusPaid:
		return SessionStatus(s), true
	default:
		return "", false
	}
}

// SessionTotals はプロバイダーとクライアントの組の集計値。
type SessionTotals struct {
	UnpaidCents    int64
	RequestedCents int64
	PaidCents      int64
	TotalMinutes   int
}

// Payment は記録された支払いを表す。
type Payment struct {
	ID          string
	ProviderID  string
	ClientID    string
	AmountCents int64
	Method      PaymentMethod
	Note        string
	PaidAt      time.Time
	CreatedAt   time.Time
	SessionIDs  []string
}

// PaymentMethod は支払い手段。
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodVenmo        PaymentMethod = "venmo"
	PaymentMethodZelle        PaymentMethod = "zelle"
	PaymentMethodPayPal       PaymentMethod = "paypal"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodOther        PaymentMethod = "other"
)

// ValidPaymentMethod は既知の支払い手段かを判定する。
func ValidPaymentMethod(m PaymentMethod) bool {
	switch m {
	case PaymentMethodCash, PaymentMethodVenmo, PaymentMethodZelle,
		PaymentMethodPayPal, PaymentMethodBankTransfer, PaymentMethodOther:
		return true
	}
	return false
}
