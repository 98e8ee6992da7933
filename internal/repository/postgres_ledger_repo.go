package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/accounthub/internal/model"
)

// PostgresLedgerRepo はPostgreSQLを使用したLeaf XP台帳リポジトリ。
// 管理者権限のDB接続で使用する。
type PostgresLedgerRepo struct {
	db *sql.DB
}

// NewPostgresLedgerRepo はPostgresLedgerRepoを生成する。
func NewPostgresLedgerRepo(db *sql.DB) *PostgresLedgerRepo {
	return &PostgresLedgerRepo{db: db}
}

// SumByUserID はユーザーの台帳合計とエントリ数を返す。
func (r *PostgresLedgerRepo) SumByUserID(ctx context.Context, userID string) (int64, int, error) {
	var total int64
	var entries int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(delta), 0), COUNT(*) FROM leaf_ledger WHERE user_id = $1`,
		userID,
	).Scan(&total, &entries)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum ledger: %w", err)
	}
	return total, entries, nil
}

// AppendAward は報酬エントリを冪等に追記しキャッシュ合計を更新する。
func (r *PostgresLedgerRepo) AppendAward(ctx context.Context, entry *model.LedgerEntry) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = appendAwardTx(ctx, tx, entry)
	if err == ErrDuplicate {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// RefreshDivergedTotals は台帳合計とずれているプロフィールのキャッシュを再計算する。
func (r *PostgresLedgerRepo) RefreshDivergedTotals(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE profiles p
		 SET leaf_total = s.total, updated_at = now()
		 FROM (SELECT user_id, SUM(delta) AS total FROM leaf_ledger GROUP BY user_id) s
		 WHERE p.user_id = s.user_id AND p.leaf_total <> s.total`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to refresh profile totals: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// appendAwardTx はトランザクション内で台帳エントリを追記し、プロフィールのキャッシュを再計算する。
// (user_id, reason) が重複する場合はErrDuplicateを返す。
func appendAwardTx(ctx context.Context, tx *sql.Tx, entry *model.LedgerEntry) error {
	result, err := tx.ExecContext(ctx,
		`INSERT INTO leaf_ledger (id, user_id, delta, reason, created_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (user_id, reason) DO NOTHING`,
		entry.ID, entry.UserID, entry.Delta, entry.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrDuplicate
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE profiles
		 SET leaf_total = (SELECT COALESCE(SUM(delta), 0) FROM leaf_ledger WHERE user_id = $1),
		     updated_at = now()
		 WHERE user_id = $1`,
		entry.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to refresh profile total: %w", err)
	}
	return nil
}

// compile-time interface check
var _ LedgerRepository = (*PostgresLedgerRepo)(nil)
