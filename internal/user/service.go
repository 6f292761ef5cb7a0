// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/trackpay/trackpay-api/internal/model"
	"github.com/trackpay/trackpay-api/internal/repository"
)

// UserStore は退会処理で使うユーザー操作のインターフェース。
type UserStore interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	DeleteByID(ctx context.Context, id string) error
}

// SessionDeleter はログインセッションの一括削除インターフェース。
type SessionDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// ClientLister はプロバイダーのクライアント名簿を返すインターフェース。
type ClientLister interface {
	ListClients(ctx context.Context, providerID string) ([]repository.ClientRow, error)
}

// Service はユーザー管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo    UserStore
	sessionRepo SessionDeleter
	clients     ClientLister
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo UserStore,
	sessionRepo SessionDeleter,
	clients ClientLister,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		clients:     clients,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sessions → user（+ CASCADE: relationships, work sessions, payments, invites, activities）
// → プロバイダーが作成した未クレームのクライアント。
// 未クレームのクライアントは他のプロバイダーと関係を持たないため、退会後に残すと孤立する。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	// ユーザー存在確認
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
		slog.String("role", string(user.Role)),
	)

	// 1. 削除対象のプレースホルダーを先に控える（ユーザー削除で関係が消えるため）
	var placeholders []string
	if user.Role == model.RoleProvider && s.clients != nil {
		rows, err := s.clients.ListClients(ctx, userID)
		if err != nil {
			return fmt.Errorf("クライアント一覧の取得に失敗しました: %w", err)
		}
		for _, row := range rows {
			if !row.Claimed {
				placeholders = append(placeholders, row.Relationship.ClientID)
			}
		}
	}

	// 2. セッションを削除
	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	// 3. ユーザーを削除
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	// 4. 未クレームのクライアントを削除。失敗しても退会自体は完了している
	removed := 0
	for _, id := range placeholders {
		if err := s.userRepo.DeleteByID(ctx, id); err != nil {
			slog.Warn("failed to delete placeholder client",
				slog.String("client_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
		slog.Int("placeholders_removed", removed),
	)

	return nil
}
