// Package tracking は作業セッションの計測と支払い請求のドメインロジックを提供する。
package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/trackpay/trackpay-api/internal/database"
	"github.com/trackpay/trackpay-api/internal/metrics"
	"github.com/trackpay/trackpay-api/internal/model"
	"github.com/trackpay/trackpay-api/internal/repository"
)

// oneActiveIndex は組ごとに計測中セッションを1件に制限する部分一意インデックス名。
const oneActiveIndex = "trackpay_sessions_one_active_idx"

// PaymentRequestResult は支払い請求の結果。
type PaymentRequestResult struct {
	SessionCount int
	AmountCents  int64
}

// Service は作業セッションのサービス層。
type Service struct {
	relRepo     repository.RelationshipRepository
	sessionRepo repository.SessionRepository
	metrics     metrics.MetricsCollector
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	relRepo repository.RelationshipRepository,
	sessionRepo repository.SessionRepository,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		relRepo:     relRepo,
		sessionRepo: sessionRepo,
		metrics:     collector,
		now:         time.Now,
	}
}

// requireRelationship はプロバイダーとクライアントの関係を取得する。
// 関係がない場合はCLIENT_NOT_FOUNDを返す。
func (s *Service) requireRelationship(ctx context.Context, providerID, clientID string) (*model.Relationship, error) {
	rel, err := s.relRepo.Find(ctx, providerID, clientID)
	if err != nil {
		return nil, fmt.Errorf("関係の取得に失敗しました: %w", err)
	}
	if rel == nil {
		return nil, model.NewClientNotFoundError(clientID)
	}
	return rel, nil
}

// resolvePair はuserIDと相手のIDから組を特定する。
// userIDがプロバイダー側でもクライアント側でもよい。
func (s *Service) resolvePair(ctx context.Context, userID, counterpartID string) (*model.Relationship, error) {
	rel, err := s.relRepo.Find(ctx, userID, counterpartID)
	if err != nil {
		return nil, fmt.Errorf("関係の取得に失敗しました: %w", err)
	}
	if rel != nil {
		return rel, nil
	}
	rel, err = s.relRepo.Find(ctx, counterpartID, userID)
	if err != nil {
		return nil, fmt.Errorf("関係の取得に失敗しました: %w", err)
	}
	if rel == nil {
		return nil, model.NewClientNotFoundError(counterpartID)
	}
	return rel, nil
}

// ownedSession はプロバイダーが所有するセッションを取得する。
// 他のプロバイダーのセッションは存在しないものとして扱う。
func (s *Service) ownedSession(ctx context.Context, providerID, sessionID string) (*model.Session, error) {
	sess, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	if sess == nil || sess.ProviderID != providerID {
		return nil, model.NewSessionNotFoundError(sessionID)
	}
	return sess, nil
}

func newActivity(t model.ActivityType, sess *model.Session, at time.Time, data map[string]any) (*model.Activity, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("アクティビティデータの変換に失敗しました: %w", err)
	}
	sessionID := sess.ID
	return &model.Activity{
		ID:         uuid.New().String(),
		Type:       t,
		ProviderID: sess.ProviderID,
		ClientID:   sess.ClientID,
		SessionID:  &sessionID,
		Data:       raw,
		CreatedAt:  at,
	}, nil
}

// StartSession は組の計測を開始する。時給は関係から複製する。
func (s *Service) StartSession(ctx context.Context, providerID, clientID string) (*model.Session, error) {
	rel, err := s.requireRelationship(ctx, providerID, clientID)
	if err != nil {
		return nil, err
	}

	active, err := s.sessionRepo.FindActive(ctx, providerID, clientID)
	if err != nil {
		return nil, fmt.Errorf("計測中セッションの取得に失敗しました: %w", err)
	}
	if active != nil {
		return nil, model.NewActiveSessionExistsError()
	}

	now := s.now()
	sess := &model.Session{
		ID:              uuid.New().String(),
		ProviderID:      providerID,
		ClientID:        clientID,
		StartTime:       now,
		HourlyRateCents: rel.HourlyRateCents,
		Status:          model.SessionStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	activity, err := newActivity(model.ActivitySessionStart, sess, now, map[string]any{
		"hourly_rate_cents": sess.HourlyRateCents,
	})
	if err != nil {
		return nil, err
	}

	if err := s.sessionRepo.Start(ctx, sess, activity); err != nil {
		// FindActiveとの間に別リクエストが開始した場合
		if database.IsUniqueViolation(err, oneActiveIndex) {
			return nil, model.NewActiveSessionExistsError()
		}
		return nil, fmt.Errorf("セッションの開始に失敗しました: %w", err)
	}

	s.metrics.RecordSessionStarted()
	slog.Info("session started",
		slog.String("session_id", sess.ID),
		slog.String("provider_id", providerID),
		slog.String("client_id", clientID),
	)
	return sess, nil
}

// StopSession は計測中セッションを終了し、作業時間と金額を確定する。
func (s *Service) StopSession(ctx context.Context, providerID, sessionID string) (*model.Session, error) {
	sess, err := s.ownedSession(ctx, providerID, sessionID)
	if err != nil {
		return nil, err
	}
	to, err := Transition(ActionStop, sess.Status)
	if err != nil {
		return nil, err
	}

	end := s.now()
	if !end.After(sess.StartTime) {
		end = sess.StartTime.Add(time.Millisecond)
	}
	elapsed := end.Sub(sess.StartTime)
	minutes := DurationMinutes(elapsed)
	amount := ComputeAmount(sess.HourlyRateCents, elapsed)

	sess.EndTime = &end
	sess.DurationMinutes = &minutes
	sess.AmountCents = &amount
	sess.Status = to
	sess.UpdatedAt = end

	activity, err := newActivity(model.ActivitySessionEnd, sess, end, map[string]any{
		"duration_minutes": minutes,
		"amount_cents":     amount,
	})
	if err != nil {
		return nil, err
	}

	if err := s.sessionRepo.Stop(ctx, sess, activity); err != nil {
		if errors.Is(err, repository.ErrSessionNotActive) {
			return nil, model.NewInvalidSessionTransitionError(string(ActionStop), model.SessionStatusUnpaid)
		}
		return nil, fmt.Errorf("セッションの終了に失敗しました: %w", err)
	}

	s.metrics.RecordSessionStopped()
	slog.Info("session stopped",
		slog.String("session_id", sess.ID),
		slog.Int("duration_minutes", minutes),
		slog.Int64("amount_cents", amount),
	)
	return sess, nil
}

// ListSessions は組のセッション一覧を返す。userIDはプロバイダー側でもクライアント側でもよい。
func (s *Service) ListSessions(ctx context.Context, userID, counterpartID, status string) ([]*model.Session, error) {
	filter, ok := model.ParseSessionStatus(status)
	if !ok {
		return nil, model.NewValidationError(fmt.Sprintf("unknown status %q", status))
	}
	rel, err := s.resolvePair(ctx, userID, counterpartID)
	if err != nil {
		return nil, err
	}

	sessions, err := s.sessionRepo.List(ctx, rel.ProviderID, rel.ClientID, filter)
	if err != nil {
		return nil, fmt.Errorf("セッション一覧の取得に失敗しました: %w", err)
	}
	return sessions, nil
}

// GetActiveSession は組の計測中セッションを返す。計測中でない場合はnilを返す。
func (s *Service) GetActiveSession(ctx context.Context, userID, counterpartID string) (*model.Session, error) {
	rel, err := s.resolvePair(ctx, userID, counterpartID)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessionRepo.FindActive(ctx, rel.ProviderID, rel.ClientID)
	if err != nil {
		return nil, fmt.Errorf("計測中セッションの取得に失敗しました: %w", err)
	}
	return sess, nil
}

// DeleteSession は計測中または未請求のセッションを削除する。
func (s *Service) DeleteSession(ctx context.Context, providerID, sessionID string) error {
	sess, err := s.ownedSession(ctx, providerID, sessionID)
	if err != nil {
		return err
	}
	if _, err := Transition(ActionDelete, sess.Status); err != nil {
		return err
	}

	if err := s.sessionRepo.Delete(ctx, sessionID); err != nil {
		// 確認後に別リクエストで請求または支払いされた場合
		if errors.Is(err, repository.ErrSessionNotDeletable) {
			return s.notDeletableError(ctx, providerID, sessionID)
		}
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}
	slog.Info("session deleted",
		slog.String("session_id", sessionID),
		slog.String("status", string(sess.Status)),
	)
	return nil
}

// notDeletableError は削除できなかったセッションの現在の状態からエラーを組み立てる。
func (s *Service) notDeletableError(ctx context.Context, providerID, sessionID string) error {
	current, err := s.ownedSession(ctx, providerID, sessionID)
	if err != nil {
		return err
	}
	_, err = Transition(ActionDelete, current.Status)
	if err == nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", repository.ErrSessionNotDeletable)
	}
	return err
}

// RequestPayment は組の未請求セッションを全て請求済みにする。
func (s *Service) RequestPayment(ctx context.Context, providerID, clientID string) (*PaymentRequestResult, error) {
	if _, err := s.requireRelationship(ctx, providerID, clientID); err != nil {
		return nil, err
	}

	activity := &model.Activity{
		ID:         uuid.New().String(),
		Type:       model.ActivityPaymentRequest,
		ProviderID: providerID,
		ClientID:   clientID,
		CreatedAt:  s.now(),
	}
	count, total, err := s.sessionRepo.RequestPayment(ctx, providerID, clientID, activity)
	if err != nil {
		return nil, fmt.Errorf("支払い請求に失敗しました: %w", err)
	}
	if count == 0 {
		return nil, model.NewNoUnpaidSessionsError()
	}

	s.metrics.RecordPaymentRequest(count)
	slog.Info("payment requested",
		slog.String("provider_id", providerID),
		slog.String("client_id", clientID),
		slog.Int("session_count", count),
		slog.Int64("amount_cents", total),
	)
	return &PaymentRequestResult{SessionCount: count, AmountCents: total}, nil
}

// Summary は組の未払い・請求済み・支払い済みの合計と総作業時間を返す。
func (s *Service) Summary(ctx context.Context, userID, counterpartID string) (*model.SessionTotals, error) {
	rel, err := s.resolvePair(ctx, userID, counterpartID)
	if err != nil {
		return nil, err
	}
	totals, err := s.sessionRepo.Totals(ctx, rel.ProviderID, rel.ClientID)
	if err != nil {
		return nil, fmt.Errorf("集計の取得に失敗しました: %w", err)
	}
	return totals, nil
}
