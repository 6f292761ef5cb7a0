// Package activity はアクティビティフィードを提供する。
package activity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trackpay/trackpay-api/internal/model"
	"github.com/trackpay/trackpay-api/internal/repository"
)

const (
	// DefaultLimit は1ページあたりの既定件数。
	DefaultLimit = 50
	// MaxLimit は1ページあたりの最大件数。
	MaxLimit = 100
)

// ListResult はListの戻り値。
type ListResult struct {
	Activities []*model.Activity
	NextCursor string
	HasMore    bool
}

// Service はアクティビティフィードのサービス層。
type Service struct {
	activityRepo repository.ActivityRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(activityRepo repository.ActivityRepository) *Service {
	return &Service{activityRepo: activityRepo}
}

// cursorSep はカーソル中の時刻とIDの区切り。RFC3339には現れない。
const cursorSep = "_"

// FormatCursor はアクティビティの位置を"<RFC3339Nano>_<id>"形式のカーソルにする。
func FormatCursor(a *model.Activity) string {
	return a.CreatedAt.Format(time.RFC3339Nano) + cursorSep + a.ID
}

// ParseCursor はFormatCursorの形式、またはIDなしのRFC3339Nano/RFC3339のカーソル文字列をパースする。
// 空文字列はゼロ値を返す。
func ParseCursor(s string) (repository.ActivityCursor, error) {
	if s == "" {
		return repository.ActivityCursor{}, nil
	}
	ts, id, hasID := strings.Cut(s, cursorSep)
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		createdAt, err = time.Parse(time.RFC3339, ts)
		if err != nil {
			return repository.ActivityCursor{}, model.NewInvalidCursorError(s)
		}
	}
	if hasID {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return repository.ActivityCursor{}, model.NewInvalidCursorError(s)
		}
		id = parsed.String()
	}
	return repository.ActivityCursor{CreatedAt: createdAt, ID: id}, nil
}

// List はユーザーがプロバイダーまたはクライアントであるアクティビティを新しい順に返す。
// limit+1件を取得してHasMoreを判定する。
func (s *Service) List(ctx context.Context, userID, cursorStr string, limit int) (*ListResult, error) {
	cursor, err := ParseCursor(cursorStr)
	if err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	activities, err := s.activityRepo.ListForUser(ctx, userID, cursor, limit+1)
	if err != nil {
		return nil, fmt.Errorf("アクティビティ一覧の取得に失敗しました: %w", err)
	}

	hasMore := len(activities) > limit
	if hasMore {
		activities = activities[:limit]
	}

	var nextCursor string
	if hasMore && len(activities) > 0 {
		nextCursor = FormatCursor(activities[len(activities)-1])
	}
	if activities == nil {
		activities = []*model.Activity{}
	}
	return &ListResult{
		Activities: activities,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}
