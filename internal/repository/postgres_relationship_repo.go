package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/trackpay/trackpay-api/internal/model"
)

// PostgresRelationshipRepo はPostgreSQLを使用した関係リポジトリ。
type PostgresRelationshipRepo struct {
	db *sql.DB
}

// NewPostgresRelationshipRepo はPostgresRelationshipRepoを生成する。
func NewPostgresRelationshipRepo(db *sql.DB) *PostgresRelationshipRepo {
	return &PostgresRelationshipRepo{db: db}
}

// Find はプロバイダーとクライアントの関係を取得する。見つからない場合はnilを返す。
func (r *PostgresRelationshipRepo) Find(ctx context.Context, providerID, clientID string) (*model.Relationship, error) {
	rel := &model.Relationship{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, provider_id, client_id, hourly_rate_cents, created_at
		 FROM trackpay_relationships
		 WHERE provider_id = $1 AND client_id = $2`,
		providerID, clientID,
	).Scan(&rel.ID, &rel.ProviderID, &rel.ClientID, &rel.HourlyRateCents, &rel.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find relationship: %w", err)
	}
	return rel, nil
}

// CreateClient はプレースホルダークライアント、関係、招待、アクティビティを同一トランザクションで作成する。
func (r *PostgresRelationshipRepo) CreateClient(ctx context.Context, client *model.User, rel *model.Relationship, invite *model.Invite, activity *model.Activity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertUser(ctx, tx, client); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO trackpay_relationships (id, provider_id, client_id, hourly_rate_cents, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rel.ID, rel.ProviderID, rel.ClientID, rel.HourlyRateCents, rel.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert relationship: %w", err)
	}

	if err := insertInvite(ctx, tx, invite); err != nil {
		return err
	}

	if err := insertActivity(ctx, tx, activity); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListClients はプロバイダーのクライアント一覧を未払い残高・計測中フラグ・有効な招待コード付きで返す。
func (r *PostgresRelationshipRepo) ListClients(ctx context.Context, providerID string) ([]ClientRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT r.id, r.provider_id, r.client_id, r.hourly_rate_cents, r.created_at,
		        u.name, u.email, u.claimed_at IS NOT NULL,
		        COALESCE((SELECT SUM(s.amount_cents) FROM trackpay_sessions s
		                  WHERE s.provider_id = r.provider_id AND s.client_id = r.client_id
		                    AND s.status IN ('unpaid', 'requested')), 0),
		        EXISTS (SELECT 1 FROM trackpay_sessions s
		                WHERE s.provider_id = r.provider_id AND s.client_id = r.client_id
		                  AND s.status = 'active'),
		        i.invite_code, i.expires_at
		 FROM trackpay_relationships r
		 JOIN trackpay_users u ON u.id = r.client_id
		 LEFT JOIN LATERAL (
		     SELECT invite_code, expires_at FROM trackpay_invites
		     WHERE provider_id = r.provider_id AND client_id = r.client_id
		       AND status = 'pending' AND expires_at > now()
		     ORDER BY created_at DESC
		     LIMIT 1
		 ) i ON true
		 WHERE r.provider_id = $1
		 ORDER BY u.name`,
		providerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var result []ClientRow
	for rows.Next() {
		var row ClientRow
		var email, code sql.NullString
		var inviteExpiresAt sql.NullTime
		if err := rows.Scan(
			&row.Relationship.ID, &row.Relationship.ProviderID, &row.Relationship.ClientID,
			&row.Relationship.HourlyRateCents, &row.Relationship.CreatedAt,
			&row.ClientName, &email, &row.Claimed,
			&row.UnpaidCents, &row.HasActive,
			&code, &inviteExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan client row: %w", err)
		}
		if email.Valid {
			row.ClientEmail = &email.String
		}
		if code.Valid {
			row.PendingInvite = &code.String
		}
		if inviteExpiresAt.Valid {
			row.InviteExpiresAt = &inviteExpiresAt.Time
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate client rows: %w", err)
	}
	return result, nil
}

// ListProviders はクライアントのプロバイダー一覧を返す。
func (r *PostgresRelationshipRepo) ListProviders(ctx context.Context, clientID string) ([]ProviderRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT r.id, r.provider_id, r.client_id, r.hourly_rate_cents, r.created_at,
		        u.name,
		        COALESCE((SELECT SUM(s.amount_cents) FROM trackpay_sessions s
		                  WHERE s.provider_id = r.provider_id AND s.client_id = r.client_id
		                    AND s.status IN ('unpaid', 'requested')), 0)
		 FROM trackpay_relationships r
		 JOIN trackpay_users u ON u.id = r.provider_id
		 WHERE r.client_id = $1
		 ORDER BY u.name`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var result []ProviderRow
	for rows.Next() {
		var row ProviderRow
		if err := rows.Scan(
			&row.Relationship.ID, &row.Relationship.ProviderID, &row.Relationship.ClientID,
			&row.Relationship.HourlyRateCents, &row.Relationship.CreatedAt,
			&row.ProviderName, &row.UnpaidCents,
		); err != nil {
			return nil, fmt.Errorf("failed to scan provider row: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate provider rows: %w", err)
	}
	return result, nil
}

// UpdateRate は時給を更新する。
func (r *PostgresRelationshipRepo) UpdateRate(ctx context.Context, providerID, clientID string, hourlyRateCents int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE trackpay_relationships SET hourly_rate_cents = $3
		 WHERE provider_id = $1 AND client_id = $2`,
		providerID, clientID, hourlyRateCents,
	)
	if err != nil {
		return fmt.Errorf("failed to update hourly rate: %w", err)
	}
	return nil
}

// Delete は関係を削除する。
func (r *PostgresRelationshipRepo) Delete(ctx context.Context, providerID, clientID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM trackpay_relationships WHERE provider_id = $1 AND client_id = $2`,
		providerID, clientID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete relationship: %w", err)
	}
	return nil
}

// compile-time interface check
var _ RelationshipRepository = (*PostgresRelationshipRepo)(nil)
