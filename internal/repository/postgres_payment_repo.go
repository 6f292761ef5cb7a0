package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/trackpay/trackpay-api/internal/model"
)

// PostgresPaymentRepo はPostgreSQLを使用した支払いリポジトリ。
type PostgresPaymentRepo struct {
	db *sql.DB
}

// NewPostgresPaymentRepo はPostgresPaymentRepoを生成する。
func NewPostgresPaymentRepo(db *sql.DB) *PostgresPaymentRepo {
	return &PostgresPaymentRepo{db: db}
}

// CreateWithSessions は支払いを作成し、指定セッションを支払い済みにする。
// 対象セッションはFOR UPDATEでロックし、同時の支払い記録による二重計上を防ぐ。
func (r *PostgresPaymentRepo) CreateWithSessions(ctx context.Context, p *model.Payment, activity *model.Activity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	var total int64
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(amount_cents), 0) FROM (
		     SELECT amount_cents FROM trackpay_sessions
		     WHERE id = ANY($1::uuid[])
		       AND provider_id = $2 AND client_id = $3
		       AND status IN ('unpaid', 'requested')
		     FOR UPDATE
		 ) locked`,
		pq.Array(p.SessionIDs), p.ProviderID, p.ClientID,
	).Scan(&count, &total)
	if err != nil {
		return fmt.Errorf("failed to lock sessions: %w", err)
	}
	// 時給0のセッションは0セントで精算できる
	if count != len(p.SessionIDs) {
		return ErrSessionsNotPayable
	}
	p.AmountCents = total

	_, err = tx.ExecContext(ctx,
		`INSERT INTO trackpay_payments (id, provider_id, client_id, amount_cents, method, note, paid_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.ProviderID, p.ClientID, p.AmountCents, p.Method, p.Note, p.PaidAt, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE trackpay_sessions
		 SET status = 'paid', payment_id = $2, updated_at = now()
		 WHERE id = ANY($1::uuid[])`,
		pq.Array(p.SessionIDs), p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark sessions paid: %w", err)
	}

	data, err := json.Marshal(map[string]any{
		"payment_id":    p.ID,
		"amount_cents":  p.AmountCents,
		"method":        p.Method,
		"session_count": len(p.SessionIDs),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal activity data: %w", err)
	}
	activity.Data = data

	if err := insertActivity(ctx, tx, activity); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListByPair は組の支払い一覧を支払日時の降順で返す。
func (r *PostgresPaymentRepo) ListByPair(ctx context.Context, providerID, clientID string) ([]*model.Payment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.id, p.provider_id, p.client_id, p.amount_cents, p.method, p.note, p.paid_at, p.created_at,
		        COALESCE(array_agg(s.id::text ORDER BY s.start_time) FILTER (WHERE s.id IS NOT NULL), '{}')
		 FROM trackpay_payments p
		 LEFT JOIN trackpay_sessions s ON s.payment_id = p.id
		 WHERE p.provider_id = $1 AND p.client_id = $2
		 GROUP BY p.id
		 ORDER BY p.paid_at DESC`,
		providerID, clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*model.Payment
	for rows.Next() {
		p := &model.Payment{}
		var sessionIDs pq.StringArray
		if err := rows.Scan(&p.ID, &p.ProviderID, &p.ClientID, &p.AmountCents, &p.Method, &p.Note,
			&p.PaidAt, &p.CreatedAt, &sessionIDs); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.SessionIDs = []string(sessionIDs)
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}
	return payments, nil
}

// compile-time interface check
var _ PaymentRepository = (*PostgresPaymentRepo)(nil)
