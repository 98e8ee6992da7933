// Package cleanup は期限切れの認証データを削除するジョブを提供する。
// 有効期限を過ぎたセッションと、保持期間を超えたマジックリンクを定期的に削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は期限切れセッションとマジックリンクの削除ジョブ。
// 何度実行しても結果が変わらない。
type CleanupJob struct {
	db     Executor
	logger *slog.Logger
	// MagicLinkRetentionDays は期限切れ・使用済みマジックリンクの保持日数（デフォルト: 7）。
	MagicLinkRetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:                     db,
		logger:                 logger,
		MagicLinkRetentionDays: 7,
	}
}

const (
	deleteExpiredSessionsQuery = `DELETE FROM sessions WHERE expires_at < now()`
	deleteStaleMagicLinksQuery = `DELETE FROM magic_links
		WHERE expires_at < now() - $1::interval
		   OR used_at < now() - $1::interval`
)

// Run は期限切れのセッションと保持期間を超えたマジックリンクを削除する。
// セッションの削除に失敗した場合はマジックリンクの削除を行わない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	sessions, err := j.exec(ctx, "sessions", deleteExpiredSessionsQuery)
	if err != nil {
		return err
	}

	interval := fmt.Sprintf("%d days", j.MagicLinkRetentionDays)
	links, err := j.exec(ctx, "magic_links", deleteStaleMagicLinksQuery, interval)
	if err != nil {
		return err
	}

	duration := time.Since(start)
	j.logger.Info("認証データのクリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_magic_links", links),
		slog.Int("magic_link_retention_days", j.MagicLinkRetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

func (j *CleanupJob) exec(ctx context.Context, table, query string, args ...interface{}) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		j.logger.Error("クリーンアップの実行に失敗しました",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%sのクリーンアップに失敗: %w", table, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return n, nil
}

// Start はジョブをintervalごとに実行する。起動直後に1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
