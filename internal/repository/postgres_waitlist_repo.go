package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/trackpay/trackpay-api/internal/model"
)

// PostgresWaitlistRepo はPostgreSQLを使用したウェイトリストリポジトリ。
type PostgresWaitlistRepo struct {
	db *sql.DB
}

// NewPostgresWaitlistRepo はPostgresWaitlistRepoを生成する。
func NewPostgresWaitlistRepo(db *sql.DB) *PostgresWaitlistRepo {
	return &PostgresWaitlistRepo{db: db}
}

// Add はエントリを追加する。同じメールアドレスが既に存在する場合はfalseを返す。
func (r *PostgresWaitlistRepo) Add(ctx context.Context, e *model.WaitlistEntry) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO trackpay_waitlist (id, email, language, source, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT ((lower(email))) DO NOTHING`,
		e.ID, e.Email, e.Language, e.Source, e.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to add waitlist entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ WaitlistRepository = (*PostgresWaitlistRepo)(nil)
