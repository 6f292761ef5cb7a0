package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/trackpay/trackpay-api/internal/model"
)

const userColumns = `id, role, name, email, password_hash, language, claimed_at, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	u := &model.User{}
	var email, hash sql.NullString
	var claimedAt sql.NullTime
	if err := row.Scan(&u.ID, &u.Role, &u.Name, &email, &hash, &u.Language, &claimedAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if email.Valid {
		u.Email = &email.String
	}
	if hash.Valid {
		u.PasswordHash = &hash.String
	}
	if claimedAt.Valid {
		u.ClaimedAt = &claimedAt.Time
	}
	return u, nil
}

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM trackpay_users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでクレーム済みのユーザーを取得する。見つからない場合はnilを返す。
// プレースホルダーの連絡先メールは対象外。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM trackpay_users
		 WHERE lower(email) = lower($1) AND claimed_at IS NOT NULL`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	return insertUser(ctx, r.db, user)
}

// insertUser はユーザーを1件挿入する。トランザクション内からも使用する。
func insertUser(ctx context.Context, ex execer, user *model.User) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO trackpay_users (id, role, name, email, password_hash, language, claimed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.Role, user.Name, user.Email, user.PasswordHash, user.Language,
		user.ClaimedAt, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UpdateName はユーザーの表示名を更新する。
func (r *PostgresUserRepo) UpdateName(ctx context.Context, id, name string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE trackpay_users SET name = $2, updated_at = now() WHERE id = $1`,
		id, name,
	)
	if err != nil {
		return fmt.Errorf("failed to update user name: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するrelationships、sessions、payments、activities、invitesはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM trackpay_users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
