// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの役割を表す。
type Role string

const (
	// RoleProvider は作業時間を記録し支払いを請求するサービス提供者。
	RoleProvider Role = "provider"
	// RoleClient はプロバイダーから招待される支払者。
	RoleClient Role = "client"
)

// Language はユーザーの表示言語。
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageSpanish Language = "es"
)

// ParseLanguage は文字列を Language に変換する。未知の値は英語にフォールバックする。
func ParseLanguage(s string) Language {
	if Language(s) == LanguageSpanish {
		return LanguageSpanish
	}
	return LanguageEnglish
}

// User はプロバイダーまたはクライアントを表す。
// クライアントはプロバイダーが追加した時点では未クレームのプレースホルダーであり、
// PasswordHash と ClaimedAt はどちらも nil となる。
type User struct {
	ID           string
	Role         Role
	Name         string
	Email        *string
	PasswordHash *string
	Language     Language
	ClaimedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsClaimed は認証済みアカウントに紐付いているかを返す。
func (u *User) IsClaimed() bool {
	return u.ClaimedAt != nil
}

// AuthSession はユーザーのログインセッションを表す。
type AuthSession struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Relationship はプロバイダーとクライアントの組を表す。
// 時給はクライアントごとではなく組ごとに保持する。
type Relationship struct {
	ID              string
	ProviderID      string
	ClientID        string
	HourlyRateCents int64
	CreatedAt       time.Time
}
