// Package client はプロバイダーのクライアント名簿を管理する。
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trackpay/trackpay-api/internal/invite"
	"github.com/trackpay/trackpay-api/internal/model"
	"github.com/trackpay/trackpay-api/internal/repository"
)

// TextSanitizer はユーザー入力テキストを無害化するインターフェース。
type TextSanitizer interface {
	SanitizeText(raw string) string
}

// AddClientInput はクライアント追加の入力。Emailは任意の連絡先で、他のプレースホルダーと重複してよい。
type AddClientInput struct {
	Name            string
	Email           string
	HourlyRateCents int64
	Language        model.Language
}

// UpdateClientInput はクライアント更新の入力。nilのフィールドは変更しない。
type UpdateClientInput struct {
	Name            *string
	HourlyRateCents *int64
}

// Service はクライアント名簿のサービス層。
type Service struct {
	relRepo       repository.RelationshipRepository
	userRepo      repository.UserRepository
	sessionRepo   repository.SessionRepository
	sanitizer     TextSanitizer
	validateEmail invite.EmailValidator
	inviteTTL     time.Duration
	now           func() time.Time
	generate      func() (string, error)
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	relRepo repository.RelationshipRepository,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	sanitizer TextSanitizer,
	validateEmail invite.EmailValidator,
	inviteTTL time.Duration,
) *Service {
	if inviteTTL <= 0 {
		inviteTTL = invite.DefaultTTL
	}
	return &Service{
		relRepo:       relRepo,
		userRepo:      userRepo,
		sessionRepo:   sessionRepo,
		sanitizer:     sanitizer,
		validateEmail: validateEmail,
		inviteTTL:     inviteTTL,
		now:           time.Now,
		generate:      invite.GenerateCode,
	}
}

func (s *Service) sanitizeName(raw string) (string, error) {
	name := s.sanitizer.SanitizeText(raw)
	if name == "" {
		return "", model.NewValidationError("name is required")
	}
	return name, nil
}

// MaxHourlyRateCents は時給の上限（セント）。金額計算がint64に収まる範囲に抑える。
const MaxHourlyRateCents = 10_000_000

func validateRate(rate int64) error {
	if rate < 0 {
		return model.NewValidationError("hourly rate must not be negative")
	}
	if rate > MaxHourlyRateCents {
		return model.NewValidationError(fmt.Sprintf("hourly rate must not exceed %d cents", MaxHourlyRateCents))
	}
	return nil
}

// AddClient はプレースホルダーのクライアント、関係、招待コードを作成する。
func (s *Service) AddClient(ctx context.Context, providerID string, in AddClientInput) (*repository.ClientRow, error) {
	name, err := s.sanitizeName(in.Name)
	if err != nil {
		return nil, err
	}
	if err := validateRate(in.HourlyRateCents); err != nil {
		return nil, err
	}

	var email *string
	if e := strings.ToLower(strings.TrimSpace(in.Email)); e != "" {
		if s.validateEmail != nil {
			if err := s.validateEmail(e); err != nil {
				return nil, err
			}
		}
		email = &e
	}

	now := s.now()
	client := &model.User{
		ID:        uuid.New().String(),
		Role:      model.RoleClient,
		Name:      name,
		Email:     email,
		Language:  model.ParseLanguage(string(in.Language)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	rel := &model.Relationship{
		ID:              uuid.New().String(),
		ProviderID:      providerID,
		ClientID:        client.ID,
		HourlyRateCents: in.HourlyRateCents,
		CreatedAt:       now,
	}
	data, err := json.Marshal(map[string]any{
		"client_name":       name,
		"hourly_rate_cents": in.HourlyRateCents,
	})
	if err != nil {
		return nil, fmt.Errorf("アクティビティデータの変換に失敗しました: %w", err)
	}
	activity := &model.Activity{
		ID:         uuid.New().String(),
		Type:       model.ActivityClientAdded,
		ProviderID: providerID,
		ClientID:   client.ID,
		Data:       data,
		CreatedAt:  now,
	}

	var inv *model.Invite
	for attempt := 1; ; attempt++ {
		inv, err = invite.NewPendingInvite(providerID, client.ID, now, s.inviteTTL, s.generate)
		if err != nil {
			return nil, err
		}
		err = s.relRepo.CreateClient(ctx, client, rel, inv, activity)
		if err == nil {
			break
		}
		if !invite.IsCodeCollision(err) || attempt >= invite.MaxCodeAttempts {
			return nil, fmt.Errorf("クライアントの追加に失敗しました: %w", err)
		}
		slog.Warn("invite code collision, retrying",
			slog.String("provider_id", providerID),
			slog.Int("attempt", attempt),
		)
	}

	slog.Info("client added",
		slog.String("provider_id", providerID),
		slog.String("client_id", client.ID),
	)
	code := inv.Code
	expiresAt := inv.ExpiresAt
	return &repository.ClientRow{
		Relationship:    *rel,
		ClientName:      name,
		ClientEmail:     email,
		PendingInvite:   &code,
		InviteExpiresAt: &expiresAt,
	}, nil
}

// ListClients はプロバイダーのクライアント一覧を返す。
func (s *Service) ListClients(ctx context.Context, providerID string) ([]repository.ClientRow, error) {
	rows, err := s.relRepo.ListClients(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("クライアント一覧の取得に失敗しました: %w", err)
	}
	return rows, nil
}

// ListProviders はクライアントのプロバイダー一覧を返す。
func (s *Service) ListProviders(ctx context.Context, clientID string) ([]repository.ProviderRow, error) {
	rows, err := s.relRepo.ListProviders(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("プロバイダー一覧の取得に失敗しました: %w", err)
	}
	return rows, nil
}

// UpdateClient はクライアント名と時給を更新する。
// 名前はクライアント本人がクレーム済みの場合は変更できない。
func (s *Service) UpdateClient(ctx context.Context, providerID, clientID string, in UpdateClientInput) (*model.Relationship, error) {
	rel, err := s.relRepo.Find(ctx, providerID, clientID)
	if err != nil {
		return nil, fmt.Errorf("関係の取得に失敗しました: %w", err)
	}
	if rel == nil {
		return nil, model.NewClientNotFoundError(clientID)
	}

	var name string
	if in.Name != nil {
		if name, err = s.sanitizeName(*in.Name); err != nil {
			return nil, err
		}
	}
	if in.HourlyRateCents != nil {
		if err := validateRate(*in.HourlyRateCents); err != nil {
			return nil, err
		}
	}

	if in.Name != nil {
		client, err := s.userRepo.FindByID(ctx, clientID)
		if err != nil {
			return nil, fmt.Errorf("クライアントの取得に失敗しました: %w", err)
		}
		if client == nil {
			return nil, model.NewClientNotFoundError(clientID)
		}
		if client.IsClaimed() {
			return nil, model.NewValidationError("a claimed client manages their own name")
		}
		if err := s.userRepo.UpdateName(ctx, clientID, name); err != nil {
			return nil, fmt.Errorf("クライアント名の更新に失敗しました: %w", err)
		}
	}
	if in.HourlyRateCents != nil {
		if err := s.relRepo.UpdateRate(ctx, providerID, clientID, *in.HourlyRateCents); err != nil {
			return nil, fmt.Errorf("時給の更新に失敗しました: %w", err)
		}
		rel.HourlyRateCents = *in.HourlyRateCents
	}
	return rel, nil
}

// RemoveClient はクライアントとの関係を削除する。
// 計測中のセッションがある場合は削除できない。
// 未クレームのプレースホルダーはユーザーごと削除し、関連データはCASCADE削除される。
func (s *Service) RemoveClient(ctx context.Context, providerID, clientID string) error {
	rel, err := s.relRepo.Find(ctx, providerID, clientID)
	if err != nil {
		return fmt.Errorf("関係の取得に失敗しました: %w", err)
	}
	if rel == nil {
		return model.NewClientNotFoundError(clientID)
	}

	active, err := s.sessionRepo.FindActive(ctx, providerID, clientID)
	if err != nil {
		return fmt.Errorf("計測中セッションの取得に失敗しました: %w", err)
	}
	if active != nil {
		return model.NewActiveSessionExistsError()
	}

	client, err := s.userRepo.FindByID(ctx, clientID)
	if err != nil {
		return fmt.Errorf("クライアントの取得に失敗しました: %w", err)
	}

	if client != nil && !client.IsClaimed() {
		if err := s.userRepo.DeleteByID(ctx, clientID); err != nil {
			return fmt.Errorf("クライアントの削除に失敗しました: %w", err)
		}
	} else {
		if err := s.relRepo.Delete(ctx, providerID, clientID); err != nil {
			return fmt.Errorf("関係の削除に失敗しました: %w", err)
		}
	}

	slog.Info("client removed",
		slog.String("provider_id", providerID),
		slog.String("client_id", clientID),
		slog.Bool("placeholder_deleted", client != nil && !client.IsClaimed()),
	)
	return nil
}
