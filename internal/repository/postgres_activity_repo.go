package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trackpay/trackpay-api/internal/model"
)

const activityColumns = `id, type, provider_id, client_id, session_id, data, created_at,
	delivered_at, delivery_attempts, next_attempt_at, last_error`

// insertActivity はアクティビティを1件挿入する。
// 状態変更と同一トランザクションで呼び出すことで、アウトボックスとして配信漏れを防ぐ。
func insertActivity(ctx context.Context, ex execer, a *model.Activity) error {
	data := a.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	_, err := ex.ExecContext(ctx,
		`INSERT INTO trackpay_activities (id, type, provider_id, client_id, session_id, data, created_at, next_attempt_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		a.ID, a.Type, a.ProviderID, a.ClientID, a.SessionID, []byte(data), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}
	return nil
}

func scanActivity(row rowScanner) (*model.Activity, error) {
	a := &model.Activity{}
	var sessionID sql.NullString
	var data []byte
	var deliveredAt, nextAttemptAt sql.NullTime
	if err := row.Scan(&a.ID, &a.Type, &a.ProviderID, &a.ClientID, &sessionID, &data, &a.CreatedAt,
		&deliveredAt, &a.DeliveryAttempts, &nextAttemptAt, &a.LastError); err != nil {
		return nil, err
	}
	if sessionID.Valid {
		a.SessionID = &sessionID.String
	}
	a.Data = json.RawMessage(data)
	if deliveredAt.Valid {
		a.DeliveredAt = &deliveredAt.Time
	}
	if nextAttemptAt.Valid {
		a.NextAttemptAt = &nextAttemptAt.Time
	}
	return a, nil
}

// PostgresActivityRepo はPostgreSQLを使用したアクティビティリポジトリ。
type PostgresActivityRepo struct {
	db *sql.DB
}

// NewPostgresActivityRepo はPostgresActivityRepoを生成する。
func NewPostgresActivityRepo(db *sql.DB) *PostgresActivityRepo {
	return &PostgresActivityRepo{db: db}
}

// ListForUser はユーザーに関係するアクティビティを(created_at, id)の降順で返す。
func (r *PostgresActivityRepo) ListForUser(ctx context.Context, userID string, cursor ActivityCursor, limit int) ([]*model.Activity, error) {
	query := `SELECT ` + activityColumns + `
		FROM trackpay_activities
		WHERE (provider_id = $1 OR client_id = $1)`
	args := []any{userID}

	switch {
	case cursor.IsZero():
		query += ` ORDER BY created_at DESC, id DESC LIMIT $2`
		args = append(args, limit)
	case cursor.ID == "":
		query += ` AND created_at < $2 ORDER BY created_at DESC, id DESC LIMIT $3`
		args = append(args, cursor.CreatedAt, limit)
	default:
		query += ` AND (created_at, id) < ($2, $3::uuid) ORDER BY created_at DESC, id DESC LIMIT $4`
		args = append(args, cursor.CreatedAt, cursor.ID, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var activities []*model.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activities: %w", err)
	}
	return activities, nil
}

// LeaseDueForDelivery は配信対象のアクティビティを取得し、lease期間だけnext_attempt_atを延長する。
// 複数ワーカーが同時に実行しても同じ行を二重に取得しない。
func (r *PostgresActivityRepo) LeaseDueForDelivery(ctx context.Context, limit int, lease time.Duration) ([]*model.Activity, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE trackpay_activities
		 SET next_attempt_at = now() + $2::interval
		 WHERE id IN (
		     SELECT id FROM trackpay_activities
		     WHERE delivered_at IS NULL
		       AND next_attempt_at IS NOT NULL
		       AND next_attempt_at <= now()
		     ORDER BY next_attempt_at
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+activityColumns,
		limit, fmt.Sprintf("%d seconds", int(lease.Seconds())),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to lease activities: %w", err)
	}
	defer rows.Close()

	var activities []*model.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activities: %w", err)
	}
	return activities, nil
}

// MarkDelivered は配信完了を記録する。
func (r *PostgresActivityRepo) MarkDelivered(ctx context.Context, id string, deliveredAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE trackpay_activities
		 SET delivered_at = $2, delivery_attempts = delivery_attempts + 1, next_attempt_at = NULL, last_error = ''
		 WHERE id = $1`,
		id, deliveredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark activity delivered: %w", err)
	}
	return nil
}

// MarkFailed は配信失敗を記録する。
func (r *PostgresActivityRepo) MarkFailed(ctx context.Context, id string, attempts int, nextAttemptAt *time.Time, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE trackpay_activities
		 SET delivery_attempts = $2, next_attempt_at = $3, last_error = $4
		 WHERE id = $1`,
		id, attempts, nextAttemptAt, lastError,
	)
	if err != nil {
		return fmt.Errorf("failed to mark activity failed: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ActivityRepository = (*PostgresActivityRepo)(nil)
