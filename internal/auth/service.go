// Package auth はメールアドレスとパスワードによる認証、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/trackpay/trackpay-api/internal/database"
	"github.com/trackpay/trackpay-api/internal/invite"
	"github.com/trackpay/trackpay-api/internal/metrics"
	"github.com/trackpay/trackpay-api/internal/model"
	"github.com/trackpay/trackpay-api/internal/repository"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 8

// emailUniqueIndex はメールアドレスの一意インデックス名。
const emailUniqueIndex = "trackpay_users_email_key"

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// SignupInput は新規登録の入力。
// InviteCodeが指定された場合はプレースホルダークライアントをクレームする。
type SignupInput struct {
	Name       string
	Email      string
	Password   string
	Language   string
	InviteCode string
}

// TextSanitizer は表示名の無害化に使用するインターフェース。
type TextSanitizer interface {
	SanitizeText(s string) string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.AuthSessionRepository
	inviteRepo  repository.InviteRepository
	sanitizer   TextSanitizer
	metrics     metrics.MetricsCollector
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.AuthSessionRepository,
	inviteRepo repository.InviteRepository,
	sanitizer TextSanitizer,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		inviteRepo:  inviteRepo,
		sanitizer:   sanitizer,
		metrics:     collector,
		config:      config,
		now:         time.Now,
	}
}

// NormalizeEmail はメールアドレスを前後の空白を除いた小文字に正規化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail はメールアドレスの形式を検証する。
func ValidateEmail(email string) error {
	if email == "" {
		return model.NewValidationError("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return model.NewValidationError("email is not a valid address")
	}
	return nil
}

// Signup はアカウントを作成し、セッションを発行する。
// 招待コードなしの場合はプロバイダーとして登録する。
// 招待コードありの場合はプレースホルダークライアントを認証情報付きアカウントに変換する。
func (s *Service) Signup(ctx context.Context, in SignupInput) (*model.User, *model.AuthSession, error) {
	email := NormalizeEmail(in.Email)
	if err := ValidateEmail(email); err != nil {
		return nil, nil, err
	}
	if len(in.Password) < MinPasswordLength {
		return nil, nil, model.NewValidationError(fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	name := strings.TrimSpace(in.Name)
	if s.sanitizer != nil {
		name = s.sanitizer.SanitizeText(name)
	}
	inviteCode := invite.NormalizeCode(in.InviteCode)
	if name == "" && inviteCode == "" {
		return nil, nil, model.NewValidationError("name is required")
	}
	if inviteCode != "" && !invite.ValidCode(inviteCode) {
		return nil, nil, model.NewInviteNotFoundError()
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	// 未クレームのプレースホルダーはプロバイダーが入力した連絡先で、アカウントではない
	if existing != nil && existing.IsClaimed() {
		return nil, nil, model.NewEmailTakenError()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var user *model.User
	if inviteCode == "" {
		user, err = s.createProvider(ctx, name, email, string(hash), model.ParseLanguage(in.Language))
	} else {
		user, err = s.claimWithSignup(ctx, inviteCode, repository.SignupCredentials{
			Name:         name,
			Email:        email,
			PasswordHash: string(hash),
			Language:     model.ParseLanguage(in.Language),
		})
	}
	if err != nil {
		if database.IsUniqueViolation(err, emailUniqueIndex) {
			return nil, nil, model.NewEmailTakenError()
		}
		return nil, nil, err
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}
	return user, session, nil
}

func (s *Service) createProvider(ctx context.Context, name, email, hash string, lang model.Language) (*model.User, error) {
	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Role:         model.RoleProvider,
		Name:         name,
		Email:        &email,
		PasswordHash: &hash,
		Language:     lang,
		ClaimedAt:    &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	slog.Info("provider signed up", slog.String("user_id", user.ID))
	return user, nil
}

func (s *Service) claimWithSignup(ctx context.Context, code string, creds repository.SignupCredentials) (*model.User, error) {
	now := s.now()
	activity := &model.Activity{
		ID:        uuid.New().String(),
		Type:      model.ActivityInviteClaimed,
		CreatedAt: now,
	}
	user, err := s.inviteRepo.ClaimWithSignup(ctx, code, creds, now, activity)
	if err != nil {
		return nil, invite.MapClaimError(err)
	}
	s.metrics.RecordInviteClaimed()
	slog.Info("invite claimed at signup",
		slog.String("user_id", user.ID),
		slog.String("provider_id", activity.ProviderID),
	)
	return user, nil
}

// Login はメールアドレスとパスワードを検証し、セッションを発行する。
// メールアドレスの有無とパスワード不一致は同じエラーを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, *model.AuthSession, error) {
	user, err := s.userRepo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil || user.PasswordHash == nil {
		return nil, nil, model.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, model.NewInvalidCredentialsError()
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}
	slog.Info("user logged in", slog.String("user_id", user.ID))
	return user, session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// GetCurrentUser はユーザーIDから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.AuthSession, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.AuthSession{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
