// Package waitlist はマーケティングサイトのウェイトリスト登録を提供する。
package waitlist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trackpay/trackpay-api/internal/model"
	"github.com/trackpay/trackpay-api/internal/repository"
)

// maxSourceLength は登録元ラベルの最大長。
const maxSourceLength = 64

// EmailValidator はメールアドレスの検証関数。
type EmailValidator func(email string) error

// Service はウェイトリストのサービス層。
type Service struct {
	repo          repository.WaitlistRepository
	validateEmail EmailValidator
	now           func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.WaitlistRepository, validateEmail EmailValidator) *Service {
	return &Service{
		repo:          repo,
		validateEmail: validateEmail,
		now:           time.Now,
	}
}

// Join はメールアドレスをウェイトリストに登録する。
// 登録済みのメールアドレスでもエラーにはしない。新規登録の場合はtrueを返す。
func (s *Service) Join(ctx context.Context, email string, lang model.Language, source string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false, model.NewValidationError("email is required")
	}
	if s.validateEmail != nil {
		if err := s.validateEmail(email); err != nil {
			return false, err
		}
	}

	source = strings.TrimSpace(source)
	if len(source) > maxSourceLength {
		source = source[:maxSourceLength]
	}
	if source == "" {
		source = "web"
	}

	added, err := s.repo.Add(ctx, &model.WaitlistEntry{
		ID:        uuid.New().String(),
		Email:     email,
		Language:  model.ParseLanguage(string(lang)),
		Source:    source,
		CreatedAt: s.now(),
	})
	if err != nil {
		return false, fmt.Errorf("ウェイトリストの登録に失敗しました: %w", err)
	}
	if added {
		slog.Info("waitlist joined", slog.String("source", source))
	}
	return added, nil
}
