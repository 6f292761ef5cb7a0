// Package cleanup は期限切れデータの定期整理ジョブを提供する。
// 期限を過ぎたpending招待のexpired化と、期限切れログインセッションの削除を行う。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// InviteExpirer は期限切れ招待を一括でexpiredにするインターフェース。
type InviteExpirer interface {
	ExpireOverdue(ctx context.Context) (int64, error)
}

// SessionPurger は期限切れログインセッションを削除するインターフェース。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob は招待とログインセッションの定期整理ジョブ。
// 冪等であり、対象がない場合も成功として扱う。
type CleanupJob struct {
	invites  InviteExpirer
	sessions SessionPurger
	logger   *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(invites InviteExpirer, sessions SessionPurger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		invites:  invites,
		sessions: sessions,
		logger:   logger,
	}
}

// Run は期限切れ招待のexpired化と期限切れセッションの削除を1回実行する。
// 片方が失敗してももう片方は実行し、最初のエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	var firstErr error

	expired, err := j.invites.ExpireOverdue(ctx)
	if err != nil {
		j.logger.Error("期限切れ招待の更新に失敗しました",
			slog.String("error", err.Error()),
		)
		firstErr = fmt.Errorf("期限切れ招待の更新に失敗: %w", err)
	}

	purged, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		if firstErr == nil {
			firstErr = fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
		}
	}

	if firstErr != nil {
		return firstErr
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("expired_invites", expired),
		slog.Int64("deleted_sessions", purged),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start はintervalごとにRunを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
	)

	// 失敗はRun内でログ出力済み
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
