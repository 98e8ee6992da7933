package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/accounthub/internal/model"
)

// PostgresEntitlementRepo はPostgreSQLを使用したロック解除記録リポジトリ。
// 管理者権限のDB接続で使用する。
type PostgresEntitlementRepo struct {
	db *sql.DB
}

// NewPostgresEntitlementRepo はPostgresEntitlementRepoを生成する。
func NewPostgresEntitlementRepo(db *sql.DB) *PostgresEntitlementRepo {
	return &PostgresEntitlementRepo{db: db}
}

// ListByUserID はユーザーの解除記録を解除日時順に返す。
func (r *PostgresEntitlementRepo) ListByUserID(ctx context.Context, userID string) ([]model.Entitlement, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, key, unlocked_at FROM user_universes
		 WHERE user_id = $1
		 ORDER BY unlocked_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list entitlements: %w", err)
	}
	defer rows.Close()

	var result []model.Entitlement
	for rows.Next() {
		var e model.Entitlement
		if err := rows.Scan(&e.UserID, &e.Key, &e.UnlockedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entitlement: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entitlements: %w", err)
	}
	return result, nil
}

// UnlockWithAward は解除記録の挿入と報酬付与を同一トランザクションで行う。
// 同時実行時の唯一の排他はuser_universesの主キー制約（INSERT ... ON CONFLICT DO NOTHING）。
func (r *PostgresEntitlementRepo) UnlockWithAward(ctx context.Context, userID, key string, reward int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO user_universes (user_id, key, unlocked_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_id, key) DO NOTHING`,
		userID, key,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert entitlement: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if inserted == 0 {
		// 既に解除済み: 何も書き込まない
		return false, nil
	}

	if reward > 0 {
		if err := appendAwardTx(ctx, tx, &model.LedgerEntry{
			ID:     uuid.New().String(),
			UserID: userID,
			Delta:  reward,
			Reason: model.UnlockReason(key),
		}); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// ListMissingAwards は報酬エントリが欠落している解除記録を返す。
func (r *PostgresEntitlementRepo) ListMissingAwards(ctx context.Context, limit int) ([]model.MissingAward, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT uu.user_id, uu.key
		 FROM user_universes uu
		 LEFT JOIN leaf_ledger l
		   ON l.user_id = uu.user_id AND l.reason = 'unlock:' || uu.key
		 WHERE l.id IS NULL
		 ORDER BY uu.unlocked_at
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list missing awards: %w", err)
	}
	defer rows.Close()

	var result []model.MissingAward
	for rows.Next() {
		var m model.MissingAward
		if err := rows.Scan(&m.UserID, &m.Key); err != nil {
			return nil, fmt.Errorf("failed to scan missing award: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate missing awards: %w", err)
	}
	return result, nil
}

// compile-time interface check
var _ EntitlementRepository = (*PostgresEntitlementRepo)(nil)
