package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/accounthub/internal/model"
)

// PostgresHandoffTokenRepo はPostgreSQLを使用したハンドオフトークンリポジトリ。
// 管理者権限のDB接続で使用する。
type PostgresHandoffTokenRepo struct {
	db *sql.DB
}

// NewPostgresHandoffTokenRepo はPostgresHandoffTokenRepoを生成する。
func NewPostgresHandoffTokenRepo(db *sql.DB) *PostgresHandoffTokenRepo {
	return &PostgresHandoffTokenRepo{db: db}
}

// FindByID はトークンを取得する。見つからない場合はnilを返す。
func (r *PostgresHandoffTokenRepo) FindByID(ctx context.Context, id string) (*model.HandoffToken, error) {
	t := &model.HandoffToken{}
	var profileID, email sql.NullString
	var consumedAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, profile_id, email, COALESCE(source, ''), COALESCE(leaf_snapshot, 0),
		        expires_at, consumed_at, COALESCE(consumed_source, ''), created_at
		 FROM handoff_tokens
		 WHERE id = $1`,
		id,
	).Scan(&t.ID, &profileID, &email, &t.Source, &t.LeafSnapshot, &t.ExpiresAt, &consumedAt, &t.ConsumedSource, &t.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find handoff token: %w", err)
	}

	t.ProfileID = nullStringPtr(profileID)
	t.Email = nullStringPtr(email)
	if consumedAt.Valid {
		c := consumedAt.Time
		t.ConsumedAt = &c
	}
	return t, nil
}

// MarkConsumed はconsumed_atがNULLの場合のみ、消費時刻と適用したsourceを設定する。
func (r *PostgresHandoffTokenRepo) MarkConsumed(ctx context.Context, id string, consumedAt time.Time, source string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE handoff_tokens SET consumed_at = $2, consumed_source = $3
		 WHERE id = $1 AND consumed_at IS NULL`,
		id, consumedAt, source,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark handoff token consumed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// compile-time interface check
var _ HandoffTokenRepository = (*PostgresHandoffTokenRepo)(nil)
