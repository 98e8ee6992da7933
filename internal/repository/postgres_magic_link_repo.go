package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/accounthub/internal/model"
)

// PostgresMagicLinkRepo はPostgreSQLを使用したマジックリンクリポジトリ。
type PostgresMagicLinkRepo struct {
	db *sql.DB
}

// NewPostgresMagicLinkRepo はPostgresMagicLinkRepoを生成する。
func NewPostgresMagicLinkRepo(db *sql.DB) *PostgresMagicLinkRepo {
	return &PostgresMagicLinkRepo{db: db}
}

// Create はマジックリンクを作成する。
func (r *PostgresMagicLinkRepo) Create(ctx context.Context, link *model.MagicLink) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO magic_links (token, user_id, email, next_url, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		link.Token, link.UserID, link.Email, link.NextURL, link.ExpiresAt, link.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create magic link: %w", err)
	}
	return nil
}

// FindByToken はトークンでマジックリンクを取得する。見つからない場合はnilを返す。
func (r *PostgresMagicLinkRepo) FindByToken(ctx context.Context, token string) (*model.MagicLink, error) {
	link := &model.MagicLink{}
	var usedAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT token, user_id, email, next_url, expires_at, used_at, created_at
		 FROM magic_links
		 WHERE token = $1`,
		token,
	).Scan(&link.Token, &link.UserID, &link.Email, &link.NextURL, &link.ExpiresAt, &usedAt, &link.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find magic link: %w", err)
	}
	if usedAt.Valid {
		t := usedAt.Time
		link.UsedAt = &t
	}

	return link, nil
}

// MarkUsed は未使用の場合のみused_atを設定する。
func (r *PostgresMagicLinkRepo) MarkUsed(ctx context.Context, token string, usedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE magic_links SET used_at = $2 WHERE token = $1 AND used_at IS NULL`,
		token, usedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark magic link used: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// compile-time interface check
var _ MagicLinkRepository = (*PostgresMagicLinkRepo)(nil)
