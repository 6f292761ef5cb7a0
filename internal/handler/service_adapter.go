package handler

import (
	"context"
	"fmt"

	"github.com/trackpay/trackpay-api/internal/activity"
	"github.com/trackpay/trackpay-api/internal/auth"
	"github.com/trackpay/trackpay-api/internal/client"
	"github.com/trackpay/trackpay-api/internal/invite"
	"github.com/trackpay/trackpay-api/internal/model"
	"github.com/trackpay/trackpay-api/internal/payment"
	"github.com/trackpay/trackpay-api/internal/tracking"
	"github.com/trackpay/trackpay-api/internal/user"
	"github.com/trackpay/trackpay-api/internal/waitlist"
)

// ドメインサービスがハンドラーのインターフェースを満たすことのコンパイル時チェック。
var (
	_ ClientServiceInterface   = (*client.Service)(nil)
	_ TrackingServiceInterface = (*tracking.Service)(nil)
	_ PaymentServiceInterface  = (*payment.Service)(nil)
	_ InviteServiceInterface   = (*invite.Service)(nil)
	_ ActivityServiceInterface = (*activity.Service)(nil)
	_ WaitlistServiceInterface = (*waitlist.Service)(nil)
	_ UserServiceInterface     = (*user.Service)(nil)
	_ AuthServiceInterface     = (*AuthServiceAdapter)(nil)
)

// TokenIssuer はログインセッションのBearerトークンを発行するインターフェース。
type TokenIssuer interface {
	IssueToken(session *model.AuthSession) (string, error)
}

// AuthServiceAdapter は auth.Service を AuthServiceInterface に適合させるアダプタ。
// サインアップ・ログインで発行したセッションにBearerトークンを付与する。
type AuthServiceAdapter struct {
	svc    *auth.Service
	tokens TokenIssuer
}

// NewAuthServiceAdapter はAuthServiceAdapterを生成する。
func NewAuthServiceAdapter(svc *auth.Service, tokens TokenIssuer) *AuthServiceAdapter {
	return &AuthServiceAdapter{svc: svc, tokens: tokens}
}

// Signup はアカウントを作成し、セッションとトークンを返す。
func (a *AuthServiceAdapter) Signup(ctx context.Context, in auth.SignupInput) (*AuthResult, error) {
	user, session, err := a.svc.Signup(ctx, in)
	if err != nil {
		return nil, err
	}
	return a.withToken(user, session)
}

// Login はログインし、セッションとトークンを返す。
func (a *AuthServiceAdapter) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, session, err := a.svc.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return a.withToken(user, session)
}

// Logout はセッションを破棄する。
func (a *AuthServiceAdapter) Logout(ctx context.Context, sessionID string) error {
	return a.svc.Logout(ctx, sessionID)
}

// GetCurrentUser はユーザーIDから現在のユーザーを取得する。
func (a *AuthServiceAdapter) GetCurrentUser(ctx context.Context, userID string) (*model.User, error) {
	return a.svc.GetCurrentUser(ctx, userID)
}

func (a *AuthServiceAdapter) withToken(user *model.User, session *model.AuthSession) (*AuthResult, error) {
	token, err := a.tokens.IssueToken(session)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return &AuthResult{User: user, Session: session, Token: token}, nil
}
