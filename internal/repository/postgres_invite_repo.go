package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/trackpay/trackpay-api/internal/model"
)

const inviteColumns = `id, provider_id, client_id, invite_code, status, claimed_by, claimed_at, expires_at, created_at`

func scanInvite(row rowScanner, extra ...any) (*model.Invite, error) {
	inv := &model.Invite{}
	var claimedBy sql.NullString
	var claimedAt sql.NullTime
	dest := []any{&inv.ID, &inv.ProviderID, &inv.ClientID, &inv.Code, &inv.Status,
		&claimedBy, &claimedAt, &inv.ExpiresAt, &inv.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if claimedBy.Valid {
		inv.ClaimedBy = &claimedBy.String
	}
	if claimedAt.Valid {
		inv.ClaimedAt = &claimedAt.Time
	}
	return inv, nil
}

// insertInvite は招待を1件挿入する。
func insertInvite(ctx context.Context, ex execer, inv *model.Invite) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO trackpay_invites (id, provider_id, client_id, invite_code, status, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		inv.ID, inv.ProviderID, inv.ClientID, inv.Code, inv.Status, inv.ExpiresAt, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert invite: %w", err)
	}
	return nil
}

// PostgresInviteRepo はPostgreSQLを使用した招待リポジトリ。
type PostgresInviteRepo struct {
	db *sql.DB
}

// NewPostgresInviteRepo はPostgresInviteRepoを生成する。
func NewPostgresInviteRepo(db *sql.DB) *PostgresInviteRepo {
	return &PostgresInviteRepo{db: db}
}

// CreateReplacingPending は組の既存pending招待をexpiredにした上で招待を作成する。
func (r *PostgresInviteRepo) CreateReplacingPending(ctx context.Context, inv *model.Invite) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE trackpay_invites SET status = 'expired'
		 WHERE provider_id = $1 AND client_id = $2 AND status = 'pending'`,
		inv.ProviderID, inv.ClientID,
	)
	if err != nil {
		return fmt.Errorf("failed to expire pending invites: %w", err)
	}

	if err := insertInvite(ctx, tx, inv); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FindByID は指定IDの招待を取得する。見つからない場合はnilを返す。
func (r *PostgresInviteRepo) FindByID(ctx context.Context, id string) (*model.Invite, error) {
	inv, err := scanInvite(r.db.QueryRowContext(ctx,
		`SELECT `+inviteColumns+` FROM trackpay_invites WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find invite by id: %w", err)
	}
	return inv, nil
}

// FindByCode は招待コードで招待を取得する。コードは大文字に正規化して照合する。
func (r *PostgresInviteRepo) FindByCode(ctx context.Context, code string) (*model.InviteDetails, error) {
	details := &model.InviteDetails{}
	inv, err := scanInvite(r.db.QueryRowContext(ctx,
		`SELECT i.id, i.provider_id, i.client_id, i.invite_code, i.status, i.claimed_by, i.claimed_at,
		        i.expires_at, i.created_at, p.name, c.name
		 FROM trackpay_invites i
		 JOIN trackpay_users p ON p.id = i.provider_id
		 JOIN trackpay_users c ON c.id = i.client_id
		 WHERE i.invite_code = $1`,
		strings.ToUpper(code),
	), &details.ProviderName, &details.ClientName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find invite by code: %w", err)
	}
	details.Invite = *inv
	return details, nil
}

// MarkExpired はpendingの招待をexpiredにする。
func (r *PostgresInviteRepo) MarkExpired(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE trackpay_invites SET status = 'expired' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("failed to mark invite expired: %w", err)
	}
	return nil
}

// ExpireOverdue は期限を過ぎたpending招待を全てexpiredにし、件数を返す。
func (r *PostgresInviteRepo) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE trackpay_invites SET status = 'expired' WHERE status = 'pending' AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire overdue invites: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// lockClaimableInvite はコードの招待を行ロックし、クレーム可能かを検証する。
// 期限切れの場合はexpiredに更新した上でErrInviteExpiredを返す。呼び出し側はこの場合もコミットする。
func lockClaimableInvite(ctx context.Context, tx *sql.Tx, code string, now time.Time) (*model.Invite, error) {
	inv, err := scanInvite(tx.QueryRowContext(ctx,
		`SELECT `+inviteColumns+` FROM trackpay_invites WHERE invite_code = $1 FOR UPDATE`,
		strings.ToUpper(code)))
	if err == sql.ErrNoRows {
		return nil, ErrInviteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock invite: %w", err)
	}

	switch {
	case inv.Status == model.InviteStatusClaimed:
		return nil, ErrInviteClaimed
	case inv.Status == model.InviteStatusExpired:
		return nil, ErrInviteExpired
	case inv.IsExpiredAt(now):
		if _, err := tx.ExecContext(ctx,
			`UPDATE trackpay_invites SET status = 'expired' WHERE id = $1`, inv.ID); err != nil {
			return nil, fmt.Errorf("failed to mark invite expired: %w", err)
		}
		return inv, ErrInviteExpired
	}
	return inv, nil
}

// lockPlaceholder は招待先のクライアントを行ロックし、未クレームであることを検証する。
func lockPlaceholder(ctx context.Context, tx *sql.Tx, clientID string) (*model.User, error) {
	u, err := scanUser(tx.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM trackpay_users WHERE id = $1 FOR UPDATE`, clientID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock placeholder client: %w", err)
	}
	if u.IsClaimed() {
		return nil, ErrClientAlreadyClaimed
	}
	return u, nil
}

// commitExpired は期限切れ検出時の状態更新をコミットし、ErrInviteExpiredを返す。
func commitExpired(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return ErrInviteExpired
}

func claimInvite(ctx context.Context, tx *sql.Tx, inv *model.Invite, accountID string, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE trackpay_invites
		 SET status = 'claimed', claimed_by = $2, claimed_at = $3, client_id = $2
		 WHERE id = $1`,
		inv.ID, accountID, now,
	)
	if err != nil {
		return fmt.Errorf("failed to mark invite claimed: %w", err)
	}
	return nil
}

func claimActivityData(inv *model.Invite) (json.RawMessage, error) {
	data, err := json.Marshal(map[string]any{
		"invite_id":   inv.ID,
		"invite_code": inv.Code,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal activity data: %w", err)
	}
	return data, nil
}

// ClaimWithSignup はプレースホルダークライアントを認証情報付きアカウントに変換する。
// creds.Nameが空の場合はプロバイダーが登録した名前を維持する。
func (r *PostgresInviteRepo) ClaimWithSignup(ctx context.Context, code string, creds SignupCredentials, now time.Time, activity *model.Activity) (*model.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inv, err := lockClaimableInvite(ctx, tx, code, now)
	if err == ErrInviteExpired && inv != nil {
		return nil, commitExpired(tx)
	}
	if err != nil {
		return nil, err
	}

	if _, err := lockPlaceholder(ctx, tx, inv.ClientID); err != nil {
		return nil, err
	}

	user, err := scanUser(tx.QueryRowContext(ctx,
		`UPDATE trackpay_users
		 SET name = COALESCE(NULLIF($2, ''), name), email = $3, password_hash = $4,
		     language = $5, claimed_at = $6, updated_at = $6
		 WHERE id = $1
		 RETURNING `+userColumns,
		inv.ClientID, creds.Name, creds.Email, creds.PasswordHash, creds.Language, now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to claim placeholder client: %w", err)
	}

	if err := claimInvite(ctx, tx, inv, inv.ClientID, now); err != nil {
		return nil, err
	}

	activity.ProviderID = inv.ProviderID
	activity.ClientID = inv.ClientID
	if activity.Data, err = claimActivityData(inv); err != nil {
		return nil, err
	}
	if err := insertActivity(ctx, tx, activity); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return user, nil
}

// ClaimForAccount は既存クライアントアカウントに招待コードのプレースホルダーを統合する。
func (r *PostgresInviteRepo) ClaimForAccount(ctx context.Context, code, accountID string, now time.Time, activity *model.Activity) (*model.Relationship, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inv, err := lockClaimableInvite(ctx, tx, code, now)
	if err == ErrInviteExpired && inv != nil {
		return nil, commitExpired(tx)
	}
	if err != nil {
		return nil, err
	}

	var linked bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM trackpay_relationships WHERE provider_id = $1 AND client_id = $2)`,
		inv.ProviderID, accountID,
	).Scan(&linked)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing relationship: %w", err)
	}
	if linked {
		return nil, ErrAlreadyLinked
	}

	placeholder, err := lockPlaceholder(ctx, tx, inv.ClientID)
	if err != nil {
		return nil, err
	}

	rel := &model.Relationship{}
	err = tx.QueryRowContext(ctx,
		`UPDATE trackpay_relationships SET client_id = $3
		 WHERE provider_id = $1 AND client_id = $2
		 RETURNING id, provider_id, client_id, hourly_rate_cents, created_at`,
		inv.ProviderID, placeholder.ID, accountID,
	).Scan(&rel.ID, &rel.ProviderID, &rel.ClientID, &rel.HourlyRateCents, &rel.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to move relationship: %w", err)
	}

	for _, table := range []string{"trackpay_sessions", "trackpay_payments", "trackpay_activities"} {
		if _, err := tx.ExecContext(ctx,
			`UPDATE `+table+` SET client_id = $2 WHERE client_id = $1`,
			placeholder.ID, accountID,
		); err != nil {
			return nil, fmt.Errorf("failed to move %s: %w", table, err)
		}
	}

	if err := claimInvite(ctx, tx, inv, accountID, now); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM trackpay_users WHERE id = $1`, placeholder.ID); err != nil {
		return nil, fmt.Errorf("failed to delete placeholder client: %w", err)
	}

	activity.ProviderID = inv.ProviderID
	activity.ClientID = accountID
	if activity.Data, err = claimActivityData(inv); err != nil {
		return nil, err
	}
	if err := insertActivity(ctx, tx, activity); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return rel, nil
}

// compile-time interface check
var _ InviteRepository = (*PostgresInviteRepo)(nil)
