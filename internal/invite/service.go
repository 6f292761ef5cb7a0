// Package invite は招待コードの発行、照会、クレーム、メール送信を提供する。
package invite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/trackpay/trackpay-api/internal/database"
	"github.com/trackpay/trackpay-api/internal/metrics"
	"github.com/trackpay/trackpay-api/internal/model"
	"github.com/trackpay/trackpay-api/internal/notify"
	"github.com/trackpay/trackpay-api/internal/repository"
)

// DefaultTTL は招待コードの既定の有効期間。
const DefaultTTL = 7 * 24 * time.Hour

// EmailValidator はメールアドレスの検証関数。
type EmailValidator func(email string) error

// Service は招待コードのサービス層。
type Service struct {
	inviteRepo    repository.InviteRepository
	relRepo       repository.RelationshipRepository
	userRepo      repository.UserRepository
	mailer        notify.Mailer
	metrics       metrics.MetricsCollector
	validateEmail EmailValidator
	ttl           time.Duration
	now           func() time.Time
	generate      func() (string, error)
}

// NewService はServiceの新しいインスタンスを生成する。
// mailerがnilの場合、メール送信はEMAIL_DISABLEDエラーになる。
func NewService(
	inviteRepo repository.InviteRepository,
	relRepo repository.RelationshipRepository,
	userRepo repository.UserRepository,
	mailer notify.Mailer,
	collector metrics.MetricsCollector,
	validateEmail EmailValidator,
	ttl time.Duration,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		inviteRepo:    inviteRepo,
		relRepo:       relRepo,
		userRepo:      userRepo,
		mailer:        mailer,
		metrics:       collector,
		validateEmail: validateEmail,
		ttl:           ttl,
		now:           time.Now,
		generate:      GenerateCode,
	}
}

// NewPendingInvite はコードを生成し、pending状態の招待を組み立てる。
func NewPendingInvite(providerID, clientID string, now time.Time, ttl time.Duration, generate func() (string, error)) (*model.Invite, error) {
	code, err := generate()
	if err != nil {
		return nil, err
	}
	return &model.Invite{
		ID:         uuid.New().String(),
		ProviderID: providerID,
		ClientID:   clientID,
		Code:       code,
		Status:     model.InviteStatusPending,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}, nil
}

// IsCodeCollision はerrが招待コードの一意制約違反かを返す。
func IsCodeCollision(err error) bool {
	return database.IsUniqueViolation(err, CodeUniqueConstraint)
}

// Generate は未クレームのクライアントに新しい招待コードを発行する。
// 組の既存pending招待はexpiredになる。
func (s *Service) Generate(ctx context.Context, providerID, clientID string) (*model.Invite, error) {
	rel, err := s.relRepo.Find(ctx, providerID, clientID)
	if err != nil {
		return nil, fmt.Errorf("関係の取得に失敗しました: %w", err)
	}
	if rel == nil {
		return nil, model.NewClientNotFoundError(clientID)
	}

	client, err := s.userRepo.FindByID(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("クライアントの取得に失敗しました: %w", err)
	}
	if client == nil {
		return nil, model.NewClientNotFoundError(clientID)
	}
	if client.IsClaimed() {
		return nil, model.NewClientAlreadyClaimedError()
	}

	for attempt := 1; attempt <= MaxCodeAttempts; attempt++ {
		inv, err := NewPendingInvite(providerID, clientID, s.now(), s.ttl, s.generate)
		if err != nil {
			return nil, err
		}
		err = s.inviteRepo.CreateReplacingPending(ctx, inv)
		if err == nil {
			s.metrics.RecordInviteGenerated()
			slog.Info("invite generated",
				slog.String("provider_id", providerID),
				slog.String("client_id", clientID),
			)
			return inv, nil
		}
		if !IsCodeCollision(err) {
			return nil, fmt.Errorf("招待の作成に失敗しました: %w", err)
		}
		slog.Warn("invite code collision, retrying", slog.Int("attempt", attempt))
	}
	return nil, fmt.Errorf("招待コードの生成に%d回失敗しました", MaxCodeAttempts)
}

// Lookup は招待コードを照会する。大文字小文字は区別しない。
// 期限切れのpending招待はexpiredとして永続化した上で返す。
func (s *Service) Lookup(ctx context.Context, code string) (*model.InviteDetails, error) {
	code = NormalizeCode(code)
	if !ValidCode(code) {
		return nil, model.NewInviteNotFoundError()
	}

	details, err := s.inviteRepo.FindByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("招待の取得に失敗しました: %w", err)
	}
	if details == nil {
		return nil, model.NewInviteNotFoundError()
	}

	if details.IsExpiredAt(s.now()) {
		if err := s.inviteRepo.MarkExpired(ctx, details.ID); err != nil {
			return nil, fmt.Errorf("招待の期限切れ更新に失敗しました: %w", err)
		}
		details.Status = model.InviteStatusExpired
	}
	return details, nil
}

// Claim は登録済みのクライアントアカウントで招待をクレームし、
// プレースホルダーの記録をアカウントに統合する。
func (s *Service) Claim(ctx context.Context, userID, code string) (*model.Relationship, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	if user.Role != model.RoleClient {
		return nil, model.NewValidationError("only client accounts can claim invite codes")
	}

	code = NormalizeCode(code)
	if !ValidCode(code) {
		return nil, model.NewInviteNotFoundError()
	}

	now := s.now()
	activity := &model.Activity{
		ID:        uuid.New().String(),
		Type:      model.ActivityInviteClaimed,
		CreatedAt: now,
	}
	rel, err := s.inviteRepo.ClaimForAccount(ctx, code, userID, now, activity)
	if err != nil {
		return nil, MapClaimError(err)
	}

	s.metrics.RecordInviteClaimed()
	slog.Info("invite claimed",
		slog.String("user_id", userID),
		slog.String("provider_id", rel.ProviderID),
	)
	return rel, nil
}

// MapClaimError はクレーム処理のリポジトリエラーをAPIErrorに変換する。
func MapClaimError(err error) error {
	switch {
	case errors.Is(err, repository.ErrInviteNotFound):
		return model.NewInviteNotFoundError()
	case errors.Is(err, repository.ErrInviteExpired):
		return model.NewInviteExpiredError()
	case errors.Is(err, repository.ErrInviteClaimed), errors.Is(err, repository.ErrClientAlreadyClaimed):
		return model.NewInviteAlreadyClaimedError()
	case errors.Is(err, repository.ErrAlreadyLinked):
		return model.NewAlreadyLinkedError()
	}
	return fmt.Errorf("招待のクレームに失敗しました: %w", err)
}

// SendEmail は招待コードをクライアントの言語でメール送信する。
func (s *Service) SendEmail(ctx context.Context, providerID, inviteID, email string) error {
	if s.mailer == nil {
		return model.NewEmailDisabledError()
	}
	if s.validateEmail != nil {
		if err := s.validateEmail(email); err != nil {
			return err
		}
	}

	inv, err := s.inviteRepo.FindByID(ctx, inviteID)
	if err != nil {
		return fmt.Errorf("招待の取得に失敗しました: %w", err)
	}
	if inv == nil || inv.ProviderID != providerID {
		return model.NewInviteNotFoundError()
	}
	switch {
	case inv.Status == model.InviteStatusClaimed:
		return model.NewInviteAlreadyClaimedError()
	case inv.Status == model.InviteStatusExpired, inv.IsExpiredAt(s.now()):
		return model.NewInviteExpiredError()
	}

	provider, err := s.userRepo.FindByID(ctx, inv.ProviderID)
	if err != nil {
		return fmt.Errorf("プロバイダーの取得に失敗しました: %w", err)
	}
	client, err := s.userRepo.FindByID(ctx, inv.ClientID)
	if err != nil {
		return fmt.Errorf("クライアントの取得に失敗しました: %w", err)
	}
	if provider == nil || client == nil {
		return model.NewInviteNotFoundError()
	}

	return s.mailer.SendInvite(ctx, notify.InviteEmail{
		To:           email,
		ClientName:   client.Name,
		ProviderName: provider.Name,
		Code:         inv.Code,
		Language:     client.Language,
		ExpiresAt:    inv.ExpiresAt,
	})
}

// ExpireOverdue は期限を過ぎたpending招待をexpiredにし、件数を返す。
func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	n, err := s.inviteRepo.ExpireOverdue(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("期限切れ招待の更新に失敗しました: %w", err)
	}
	return n, nil
}
