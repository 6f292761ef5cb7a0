// Package outbox はアクティビティのWebhook配信ワーカーを提供する。
// スケジューラ、配信処理、リトライ/バックオフ戦略を含む。
package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/trackpay/trackpay-api/internal/model"
)

// defaultLease は取得したアクティビティを他のワーカーから隠す期間。
// 配信タイムアウトより十分長くする。
const defaultLease = 5 * time.Minute

// ActivityLeaser は配信対象アクティビティを取得するインターフェース。
type ActivityLeaser interface {
	LeaseDueForDelivery(ctx context.Context, limit int, lease time.Duration) ([]*model.Activity, error)
}

// ActivityDeliverer はアクティビティ1件の配信を行うインターフェース。
type ActivityDeliverer interface {
	Deliver(ctx context.Context, a *model.Activity) error
}

// Scheduler はアウトボックス配信のスケジューリングと並列制御を行う。
// インターバルごとに配信対象をバッチ取得し、
// semaphoreパターンで最大並列数を制御しながら配信する。
type Scheduler struct {
	leaser         ActivityLeaser
	deliverer      ActivityDeliverer
	logger         *slog.Logger
	batchSize      int
	maxConcurrency int
	lease          time.Duration
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// batchSizeが0以下の場合は50、maxConcurrencyが0以下の場合は5を使用する。
func NewScheduler(
	leaser ActivityLeaser,
	deliverer ActivityDeliverer,
	logger *slog.Logger,
	batchSize int,
	maxConcurrency int,
) *Scheduler {
	if batchSize <= 0 {
		batchSize = 50
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	return &Scheduler{
		leaser:         leaser,
		deliverer:      deliverer,
		logger:         logger,
		batchSize:      batchSize,
		maxConcurrency: maxConcurrency,
		lease:          defaultLease,
	}
}

// Start はintervalごとに配信サイクルを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("アウトボックススケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("batch_size", s.batchSize),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("配信サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("アウトボックススケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("配信サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は配信対象を1バッチ取得し、並列で配信する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	// 配信対象を取得（FOR UPDATE SKIP LOCKED）
	activities, err := s.leaser.LeaseDueForDelivery(ctx, s.batchSize, s.lease)
	if err != nil {
		return err
	}

	if len(activities) == 0 {
		s.logger.Debug("配信対象のアクティビティはありません")
		return nil
	}

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, activity := range activities {
		wg.Add(1)
		sem <- struct{}{}

		go func(a *model.Activity) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.deliverer.Deliver(ctx, a); err != nil {
				s.logger.Error("アクティビティの配信に失敗しました",
					slog.String("activity_id", a.ID),
					slog.String("error", err.Error()),
				)
			}
		}(activity)
	}

	wg.Wait()

	duration := time.Since(start)
	s.logger.Info("配信サイクルが完了しました",
		slog.Int("activity_count", len(activities)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
