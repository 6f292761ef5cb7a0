// Package payment は支払いの記録と一覧を提供する。
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/trackpay/trackpay-api/internal/metrics"
	"github.com/trackpay/trackpay-api/internal/model"
	"github.com/trackpay/trackpay-api/internal/repository"
	"github.com/trackpay/trackpay-api/internal/tracking"
)

// TextSanitizer はユーザー入力テキストを無害化するインターフェース。
type TextSanitizer interface {
	SanitizeText(raw string) string
}

// RecordPaymentInput は支払い記録の入力。PaidAtがnilの場合は現在時刻を使用する。
type RecordPaymentInput struct {
	ProviderID string
	ClientID   string
	SessionIDs []string
	Method     model.PaymentMethod
	Note       string
	PaidAt     *time.Time
}

// Service は支払いのサービス層。
type Service struct {
	relRepo     repository.RelationshipRepository
	sessionRepo repository.SessionRepository
	paymentRepo repository.PaymentRepository
	sanitizer   TextSanitizer
	metrics     metrics.MetricsCollector
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	relRepo repository.RelationshipRepository,
	sessionRepo repository.SessionRepository,
	paymentRepo repository.PaymentRepository,
	sanitizer TextSanitizer,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		relRepo:     relRepo,
		sessionRepo: sessionRepo,
		paymentRepo: paymentRepo,
		sanitizer:   sanitizer,
		metrics:     collector,
		now:         time.Now,
	}
}

// requireMember は組が存在し、userIDがその組のどちらかであることを検証する。
func (s *Service) requireMember(ctx context.Context, userID, providerID, clientID string) error {
	if userID != providerID && userID != clientID {
		return model.NewClientNotFoundError(clientID)
	}
	rel, err := s.relRepo.Find(ctx, providerID, clientID)
	if err != nil {
		return fmt.Errorf("関係の取得に失敗しました: %w", err)
	}
	if rel == nil {
		return model.NewClientNotFoundError(clientID)
	}
	return nil
}

// dedupeSessionIDs は重複を除いたセッションIDを入力順で返す。
// UUIDとして不正なIDが含まれる場合はVALIDATION_ERRORを返す。
func dedupeSessionIDs(ids []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, model.NewValidationError(fmt.Sprintf("invalid session id %q", id))
		}
		key := parsed.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out, nil
}

// RecordPayment は指定セッションの支払いを記録する。
// 金額はセッション金額の合計で、セッションは全て支払い済みになる。
func (s *Service) RecordPayment(ctx context.Context, userID string, in RecordPaymentInput) (*model.Payment, error) {
	if len(in.SessionIDs) == 0 {
		return nil, model.NewValidationError("at least one session is required")
	}
	if !model.ValidPaymentMethod(in.Method) {
		return nil, model.NewInvalidPaymentMethodError(string(in.Method))
	}
	ids, err := dedupeSessionIDs(in.SessionIDs)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, userID, in.ProviderID, in.ClientID); err != nil {
		return nil, err
	}

	for _, id := range ids {
		sess, err := s.sessionRepo.FindByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("セッションの取得に失敗しました: %w", err)
		}
		if sess == nil || sess.ProviderID != in.ProviderID || sess.ClientID != in.ClientID {
			return nil, model.NewValidationError(fmt.Sprintf("session %s does not belong to this client", id))
		}
		if _, err := tracking.Transition(tracking.ActionMarkPaid, sess.Status); err != nil {
			return nil, err
		}
	}

	now := s.now()
	paidAt := now
	if in.PaidAt != nil && !in.PaidAt.IsZero() {
		paidAt = *in.PaidAt
	}
	p := &model.Payment{
		ID:         uuid.New().String(),
		ProviderID: in.ProviderID,
		ClientID:   in.ClientID,
		Method:     in.Method,
		Note:       s.sanitizer.SanitizeText(in.Note),
		PaidAt:     paidAt,
		CreatedAt:  now,
		SessionIDs: ids,
	}
	activity := &model.Activity{
		ID:         uuid.New().String(),
		Type:       model.ActivityPaymentCompleted,
		ProviderID: in.ProviderID,
		ClientID:   in.ClientID,
		CreatedAt:  now,
	}

	if err := s.paymentRepo.CreateWithSessions(ctx, p, activity); err != nil {
		// 事前検証の後に別リクエストで支払い済みになった場合
		if errors.Is(err, repository.ErrSessionsNotPayable) {
			return nil, model.NewInvalidSessionTransitionError(string(tracking.ActionMarkPaid), model.SessionStatusPaid)
		}
		return nil, fmt.Errorf("支払いの記録に失敗しました: %w", err)
	}

	s.metrics.RecordPayment(p.AmountCents)
	slog.Info("payment recorded",
		slog.String("payment_id", p.ID),
		slog.String("recorded_by", userID),
		slog.Int64("amount_cents", p.AmountCents),
		slog.Int("session_count", len(ids)),
		slog.String("method", string(p.Method)),
	)
	return p, nil
}

// ListPayments は組の支払い一覧を返す。userIDは組のどちらかである必要がある。
func (s *Service) ListPayments(ctx context.Context, userID, providerID, clientID string) ([]*model.Payment, error) {
	if err := s.requireMember(ctx, userID, providerID, clientID); err != nil {
		return nil, err
	}
	payments, err := s.paymentRepo.ListByPair(ctx, providerID, clientID)
	if err != nil {
		return nil, fmt.Errorf("支払い一覧の取得に失敗しました: %w", err)
	}
	return payments, nil
}
