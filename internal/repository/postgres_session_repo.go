package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/trackpay/trackpay-api/internal/model"
)

// PostgresAuthSessionRepo はPostgreSQLを使用したログインセッションリポジトリ。
type PostgresAuthSessionRepo struct {
	db *sql.DB
}

// NewPostgresAuthSessionRepo はPostgresAuthSessionRepoを生成する。
func NewPostgresAuthSessionRepo(db *sql.DB) *PostgresAuthSessionRepo {
	return &PostgresAuthSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresAuthSessionRepo) Create(ctx context.Context, session *model.AuthSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trackpay_auth_sessions (id, user_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)`,
		session.ID, session.UserID, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresAuthSessionRepo) FindByID(ctx context.Context, id string) (*model.AuthSession, error) {
	session := &model.AuthSession{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, expires_at, created_at
		 FROM trackpay_auth_sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&session.ID, &session.UserID, &session.ExpiresAt, &session.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	return session, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *PostgresAuthSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM trackpay_auth_sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *PostgresAuthSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM trackpay_auth_sessions WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
func (r *PostgresAuthSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM trackpay_auth_sessions WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ AuthSessionRepository = (*PostgresAuthSessionRepo)(nil)
