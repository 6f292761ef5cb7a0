package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/trackpay/trackpay-api/internal/model"
)

const sessionColumns = `id, provider_id, client_id, start_time, end_time, duration_minutes,
	hourly_rate_cents, amount_cents, status, payment_id, created_at, updated_at`

func scanSession(row rowScanner) (*model.Session, error) {
	s := &model.Session{}
	var endTime sql.NullTime
	var duration sql.NullInt32
	var amount sql.NullInt64
	var paymentID sql.NullString
	if err := row.Scan(&s.ID, &s.ProviderID, &s.ClientID, &s.StartTime, &endTime, &duration,
		&s.HourlyRateCents, &amount, &s.Status, &paymentID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if endTime.Valid {
		s.EndTime = &endTime.Time
	}
	if duration.Valid {
		d := int(duration.Int32)
		s.DurationMinutes = &d
	}
	if amount.Valid {
		s.AmountCents = &amount.Int64
	}
	if paymentID.Valid {
		s.PaymentID = &paymentID.String
	}
	return s, nil
}

// PostgresSessionRepo はPostgreSQLを使用した作業セッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM trackpay_sessions WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session by id: %w", err)
	}
	return s, nil
}

// FindActive は組の計測中セッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindActive(ctx context.Context, providerID, clientID string) (*model.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM trackpay_sessions
		 WHERE provider_id = $1 AND client_id = $2 AND status = 'active'`,
		providerID, clientID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active session: %w", err)
	}
	return s, nil
}

// Start は計測中セッションとsession_startアクティビティを作成する。
func (r *PostgresSessionRepo) Start(ctx context.Context, s *model.Session, activity *model.Activity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO trackpay_sessions (id, provider_id, client_id, start_time, hourly_rate_cents, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.ProviderID, s.ClientID, s.StartTime, s.HourlyRateCents, s.Status, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	if err := insertActivity(ctx, tx, activity); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Stop は計測中セッションを終了状態で保存し、session_endアクティビティを作成する。
// 条件付きUPDATEにより、同時に停止された場合は片方のみ成功する。
func (r *PostgresSessionRepo) Stop(ctx context.Context, s *model.Session, activity *model.Activity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE trackpay_sessions
		 SET end_time = $2, duration_minutes = $3, amount_cents = $4, status = $5, updated_at = $6
		 WHERE id = $1 AND status = 'active'`,
		s.ID, s.EndTime, s.DurationMinutes, s.AmountCents, s.Status, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to stop session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrSessionNotActive
	}

	if err := insertActivity(ctx, tx, activity); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// List は組のセッション一覧を開始日時の降順で返す。
func (r *PostgresSessionRepo) List(ctx context.Context, providerID, clientID string, status model.SessionStatus) ([]*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM trackpay_sessions
		WHERE provider_id = $1 AND client_id = $2`
	args := []any{providerID, clientID}
	if status != "" {
		query += ` AND status = $3`
		args = append(args, status)
	}
	query += ` ORDER BY start_time DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

// Delete は指定IDのセッションを削除する。
func (r *PostgresSessionRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM trackpay_sessions WHERE id = $1 AND status IN ('active', 'unpaid')`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrSessionNotDeletable
	}
	return nil
}

// RequestPayment は組の未請求セッションを全て請求済みにし、payment_requestアクティビティを作成する。
// 対象が0件の場合はアクティビティを作成せず0を返す。
func (r *PostgresSessionRepo) RequestPayment(ctx context.Context, providerID, clientID string, activity *model.Activity) (int, int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`UPDATE trackpay_sessions
		 SET status = 'requested', updated_at = now()
		 WHERE provider_id = $1 AND client_id = $2 AND status = 'unpaid'
		 RETURNING id, COALESCE(amount_cents, 0)`,
		providerID, clientID,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to request payment: %w", err)
	}

	var sessionIDs []string
	var total int64
	for rows.Next() {
		var id string
		var amount int64
		if err := rows.Scan(&id, &amount); err != nil {
			rows.Close()
			return 0, 0, fmt.Errorf("failed to scan requested session: %w", err)
		}
		sessionIDs = append(sessionIDs, id)
		total += amount
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, 0, fmt.Errorf("failed to iterate requested sessions: %w", err)
	}
	rows.Close()

	if len(sessionIDs) == 0 {
		return 0, 0, nil
	}

	data, err := json.Marshal(map[string]any{
		"amount_cents":  total,
		"session_count": len(sessionIDs),
		"session_ids":   sessionIDs,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to marshal activity data: %w", err)
	}
	activity.Data = data

	if err := insertActivity(ctx, tx, activity); err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return len(sessionIDs), total, nil
}

// Totals は組の状態別合計を返す。
func (r *PostgresSessionRepo) Totals(ctx context.Context, providerID, clientID string) (*model.SessionTotals, error) {
	t := &model.SessionTotals{}
	err := r.db.QueryRowContext(ctx,
		`SELECT
		     COALESCE(SUM(amount_cents) FILTER (WHERE status = 'unpaid'), 0),
		     COALESCE(SUM(amount_cents) FILTER (WHERE status = 'requested'), 0),
		     COALESCE(SUM(amount_cents) FILTER (WHERE status = 'paid'), 0),
		     COALESCE(SUM(duration_minutes) FILTER (WHERE status <> 'active'), 0)
		 FROM trackpay_sessions
		 WHERE provider_id = $1 AND client_id = $2`,
		providerID, clientID,
	).Scan(&t.UnpaidCents, &t.RequestedCents, &t.PaidCents, &t.TotalMinutes)
	if err != nil {
		return nil, fmt.Errorf("failed to compute session totals: %w", err)
	}
	return t, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
