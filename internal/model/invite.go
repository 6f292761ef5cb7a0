package model

import (
	"encoding/json"
	"time"
)

// Invite はクライアントをアカウントに紐付けるための招待コード。
type Invite struct {
	ID         string
	ProviderID string
	ClientID   string
	Code       string
	Status     InviteStatus
	ClaimedBy  *string
	ClaimedAt  *time.Time
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// InviteStatus は招待の状態を表す。
type InviteStatus string

const (
	InviteStatusPending InviteStatus = "pending"
	InviteStatusClaimed InviteStatus = "claimed"
	InviteStatusExpired InviteStatus = "expired"
)

// IsExpiredAt は now 時点で pending のまま期限を過ぎているかを返す。
func (i *Invite) IsExpiredAt(now time.Time) bool {
	return i.Status == InviteStatusPending && !now.Before(i.ExpiresAt)
}

// InviteDetails は公開の招待コード照会で返す情報。
type InviteDetails struct {
	Invite
	ProviderName string
	ClientName   string
}

// Activity はアクティビティフィードおよびWebhook配信のアウトボックス行を表す。
type Activity struct {
	ID               string
	Type             ActivityType
	ProviderID       string
	ClientID         string
	SessionID        *string
	Data             json.RawMessage
	CreatedAt        time.Time
	DeliveredAt      *time.Time
	DeliveryAttempts int
	NextAttemptAt    *time.Time
	LastError        string
}

// ActivityType はアクティビティの種別。
type ActivityType string

const (
	ActivityClientAdded      ActivityType = "client_added"
	ActivitySessionStart     ActivityType = "session_start"
	ActivitySessionEnd       ActivityType = "session_end"
	ActivityPaymentRequest   ActivityType = "payment_request"
	ActivityPaymentCompleted ActivityType = "payment_completed"
	ActivityInviteClaimed    ActivityType = "invite_claimed"
)

// WaitlistEntry はマーケティングサイトのウェイトリスト登録。
type WaitlistEntry struct {
	ID        string
	Email     string
	Language  Language
	Source    string
	CreatedAt time.Time
}
