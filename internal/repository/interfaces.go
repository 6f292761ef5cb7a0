// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/trackpay/trackpay-api/internal/model"
)

// トランザクション内の検証で使用するセンチネルエラー。
// サービス層でmodel.APIErrorに変換する。
var (
	ErrInviteNotFound       = errors.New("invite not found")
	ErrInviteExpired        = errors.New("invite expired")
	ErrInviteClaimed        = errors.New("invite already claimed")
	ErrAlreadyLinked        = errors.New("account already linked to provider")
	ErrClientAlreadyClaimed = errors.New("client already claimed")
	ErrSessionsNotPayable   = errors.New("sessions are not payable")
	ErrSessionNotActive     = errors.New("session is not active")
	ErrSessionNotDeletable  = errors.New("session is not deletable")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でクレーム済みユーザーを取得する。
	// プレースホルダーに登録された連絡先メールは一致させない。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はクレーム済みユーザー（プロバイダーまたはクライアント）を作成する。
	Create(ctx context.Context, user *model.User) error

	// UpdateName はユーザーの表示名を更新する。
	UpdateName(ctx context.Context, id, name string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するrelationships、sessions、payments、activities、invitesはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// AuthSessionRepository はログインセッションの永続化インターフェース。
type AuthSessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.AuthSession) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.AuthSession, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// ClientRow はプロバイダーのクライアント一覧の1行。
type ClientRow struct {
	Relationship    model.Relationship
	ClientName      string
	ClientEmail     *string
	Claimed         bool
	UnpaidCents     int64
	HasActive       bool
	PendingInvite   *string
	InviteExpiresAt *time.Time
}

// ProviderRow はクライアントから見たプロバイダー一覧の1行。
type ProviderRow struct {
	Relationship model.Relationship
	ProviderName string
	UnpaidCents  int64
}

// RelationshipRepository はプロバイダーとクライアントの関係の永続化インターフェース。
type RelationshipRepository interface {
	// Find はプロバイダーとクライアントの関係を取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, providerID, clientID string) (*model.Relationship, error)

	// CreateClient はプレースホルダーのクライアント、関係、招待、アクティビティを
	// 同一トランザクションで作成する。
	CreateClient(ctx context.Context, client *model.User, rel *model.Relationship, invite *model.Invite, activity *model.Activity) error

	// ListClients はプロバイダーのクライアント一覧を未払い残高付きで返す。
	ListClients(ctx context.Context, providerID string) ([]ClientRow, error)

	// ListProviders はクライアントのプロバイダー一覧を返す。
	ListProviders(ctx context.Context, clientID string) ([]ProviderRow, error)

	// UpdateRate は時給を更新する。
	UpdateRate(ctx context.Context, providerID, clientID string, hourlyRateCents int64) error

	// Delete は関係を削除する。
	Delete(ctx context.Context, providerID, clientID string) error
}

// SessionRepository は作業セッションの永続化インターフェース。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// FindActive は組の計測中セッションを取得する。見つからない場合はnilを返す。
	FindActive(ctx context.Context, providerID, clientID string) (*model.Session, error)

	// Start は計測中セッションとsession_startアクティビティを作成する。
	// 既に計測中のセッションがある場合は一意制約違反のエラーを返す。
	Start(ctx context.Context, session *model.Session, activity *model.Activity) error

	// Stop は計測中セッションを終了状態で保存し、session_endアクティビティを作成する。
	// セッションが計測中でない場合はErrSessionNotActiveを返す。
	Stop(ctx context.Context, session *model.Session, activity *model.Activity) error

	// List は組のセッション一覧を開始日時の降順で返す。statusが空の場合は全件。
	List(ctx context.Context, providerID, clientID string, status model.SessionStatus) ([]*model.Session, error)

	// Delete は計測中または未請求のセッションを削除する。
	// 該当しない場合（請求済み、支払い済み、削除済み）はErrSessionNotDeletableを返す。
	Delete(ctx context.Context, id string) error

	// RequestPayment は組の未請求セッションを全て請求済みにし、
	// payment_requestアクティビティを作成する。更新件数と合計金額を返す。
	// activity.Dataは件数と金額から設定される。
	RequestPayment(ctx context.Context, providerID, clientID string, activity *model.Activity) (int, int64, error)

	// Totals は組の状態別合計を返す。
	Totals(ctx context.Context, providerID, clientID string) (*model.SessionTotals, error)
}

// PaymentRepository は支払いの永続化インターフェース。
type PaymentRepository interface {
	// CreateWithSessions は支払いを作成し、指定セッションを支払い済みにし、
	// payment_completedアクティビティを作成する。
	// payment.AmountCentsはセッション金額の合計で設定される。
	// いずれかのセッションが組に属さない、または支払い可能でない場合はErrSessionsNotPayableを返す。
	CreateWithSessions(ctx context.Context, payment *model.Payment, activity *model.Activity) error

	// ListByPair は組の支払い一覧を支払日時の降順で返す。
	ListByPair(ctx context.Context, providerID, clientID string) ([]*model.Payment, error)
}

// InviteRepository は招待コードの永続化インターフェース。
type InviteRepository interface {
	// CreateReplacingPending は組の既存pending招待をexpiredにした上で招待を作成する。
	CreateReplacingPending(ctx context.Context, invite *model.Invite) error

	// FindByID は指定IDの招待を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Invite, error)

	// FindByCode は招待コードで招待をプロバイダー名・クライアント名付きで取得する。
	// 見つからない場合はnilを返す。
	FindByCode(ctx context.Context, code string) (*model.InviteDetails, error)

	// MarkExpired はpendingの招待をexpiredにする。
	MarkExpired(ctx context.Context, id string) error

	// ExpireOverdue は期限を過ぎたpending招待を全てexpiredにし、件数を返す。
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)

	// ClaimWithSignup は招待コードのプレースホルダークライアントを認証情報付きアカウントに変換し、
	// 招待をclaimedにし、invite_claimedアクティビティを作成する。
	// 変換後のユーザーを返す。
	ClaimWithSignup(ctx context.Context, code string, creds SignupCredentials, now time.Time, activity *model.Activity) (*model.User, error)

	// ClaimForAccount は既存クライアントアカウントに招待コードのプレースホルダーを統合する。
	// 関係・セッション・支払い・アクティビティをアカウントに付け替え、プレースホルダーを削除する。
	// 統合後の関係を返す。
	ClaimForAccount(ctx context.Context, code, accountID string, now time.Time, activity *model.Activity) (*model.Relationship, error)
}

// SignupCredentials は招待コード経由の新規登録で設定する認証情報。
type SignupCredentials struct {
	Name         string
	Email        string
	PasswordHash string
	Language     model.Language
}

// ActivityCursor はアクティビティ一覧のキーセットカーソル。
// 同じcreated_atの行はidの降順で並べ、ページ境界で取りこぼさない。
// IDが空の場合はCreatedAtより前の行だけを返す。
type ActivityCursor struct {
	CreatedAt time.Time
	ID        string
}

// IsZero はカーソルが未指定かを返す。
func (c ActivityCursor) IsZero() bool {
	return c.CreatedAt.IsZero()
}

// ActivityRepository はアクティビティの永続化インターフェース。
type ActivityRepository interface {
	// ListForUser はユーザーがプロバイダーまたはクライアントであるアクティビティを
	// (created_at, id)の降順でカーソルベースページネーションで返す。
	// cursorがゼロ値の場合は先頭から取得する。
	ListForUser(ctx context.Context, userID string, cursor ActivityCursor, limit int) ([]*model.Activity, error)

	// LeaseDueForDelivery は配信期限を迎えた未配信アクティビティをFOR UPDATE SKIP LOCKEDで取得し、
	// leaseの間は他のワーカーから見えないようnext_attempt_atを延長する。
	LeaseDueForDelivery(ctx context.Context, limit int, lease time.Duration) ([]*model.Activity, error)

	// MarkDelivered は配信完了を記録する。
	MarkDelivered(ctx context.Context, id string, deliveredAt time.Time) error

	// MarkFailed は配信失敗を記録する。nextAttemptAtがnilの場合は以降の配信を行わない。
	MarkFailed(ctx context.Context, id string, attempts int, nextAttemptAt *time.Time, lastError string) error
}

// WaitlistRepository はウェイトリストの永続化インターフェース。
type WaitlistRepository interface {
	// Add はエントリを追加する。既に同じメールアドレスが存在する場合はfalseを返す。
	Add(ctx context.Context, entry *model.WaitlistEntry) (bool, error)
}

// execer はExecContextを持つ*sql.DBと*sql.Txの共通インターフェース。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
