// Package reconcile はロック解除報酬の欠落を補填するバッチジョブを提供する。
// 解除記録はあるのに台帳エントリが無いユーザーへ報酬を追記し、
// 台帳合計とずれたプロフィールのキャッシュを再計算する。
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/accounthub/internal/entitlement"
	"github.com/hitoshi/accounthub/internal/metrics"
	"github.com/hitoshi/accounthub/internal/model"
	"github.com/hitoshi/accounthub/internal/repository"
)

// Config はジョブの設定パラメータ。環境変数から設定可能。
type Config struct {
	// Interval はジョブの実行間隔（デフォルト: 5分）。
	Interval time.Duration
	// BatchSize は1サイクルで処理する欠落件数の上限（デフォルト: 500）。
	BatchSize int
}

// DefaultConfig はデフォルトの設定を返す。
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		BatchSize: 500,
	}
}

// Job は報酬補填ジョブ。
type Job struct {
	entitlements repository.EntitlementRepository
	ledger       repository.LedgerRepository
	catalog      *entitlement.Catalog
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
	config       Config

	consecutiveErrors int
	backoffUntil      time.Time
	now               func() time.Time
}

// NewJob はJobの新しいインスタンスを生成する。
func NewJob(
	entitlements repository.EntitlementRepository,
	ledger repository.LedgerRepository,
	catalog *entitlement.Catalog,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config Config,
) *Job {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	return &Job{
		entitlements: entitlements,
		ledger:       ledger,
		catalog:      catalog,
		metrics:      collector,
		logger:       logger,
		config:       config,
		now:          time.Now,
	}
}

// Start はジョブをティッカーで定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context) {
	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	j.logger.Info("報酬補填ジョブを開始しました",
		slog.Duration("interval", j.config.Interval),
		slog.Int("batch_size", j.config.BatchSize),
	)

	// 起動直後に1回実行
	j.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("報酬補填ジョブを停止しました")
			return
		case <-ticker.C:
			j.runAndLog(ctx)
		}
	}
}

func (j *Job) runAndLog(ctx context.Context) {
	if err := j.RunOnce(ctx); err != nil {
		j.logger.Error("報酬補填サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は1回の補填サイクルを実行する。
// 欠落した報酬を追記した後、台帳とずれたキャッシュ合計を再計算する。
func (j *Job) RunOnce(ctx context.Context) error {
	start := j.now()

	if !j.backoffUntil.IsZero() && start.Before(j.backoffUntil) {
		j.logger.Info("報酬補填ジョブはバックオフ中のためスキップします",
			slog.Time("backoff_until", j.backoffUntil),
		)
		return nil
	}

	missing, err := j.entitlements.ListMissingAwards(ctx, j.config.BatchSize)
	if err != nil {
		j.recordError(start)
		return fmt.Errorf("failed to list missing awards: %w", err)
	}

	var awarded, failed int
	for _, m := range missing {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		u, ok := j.catalog.Lookup(m.Key)
		if !ok {
			j.logger.Warn("未定義のuniverseの解除記録をスキップします",
				slog.String("user_id", m.UserID),
				slog.String("universe", m.Key),
			)
			continue
		}
		if u.Reward <= 0 {
			continue
		}

		inserted, err := j.ledger.AppendAward(ctx, &model.LedgerEntry{
			ID:     uuid.New().String(),
			UserID: m.UserID,
			Delta:  u.Reward,
			Reason: model.UnlockReason(m.Key),
		})
		if err != nil {
			failed++
			j.metrics.RecordPointAwardFailure()
			j.logger.Error("報酬の補填に失敗しました",
				slog.String("user_id", m.UserID),
				slog.String("universe", m.Key),
				slog.String("error", err.Error()),
			)
			continue
		}
		if inserted {
			awarded++
		}
	}

	refreshed, err := j.ledger.RefreshDivergedTotals(ctx)
	if err != nil {
		j.recordError(start)
		return fmt.Errorf("failed to refresh diverged totals: %w", err)
	}

	if failed > 0 {
		j.recordError(start)
	} else {
		j.consecutiveErrors = 0
		j.backoffUntil = time.Time{}
	}

	duration := j.now().Sub(start)
	j.metrics.RecordReconciledAwards(awarded)
	j.metrics.RecordReconcileLatency(duration)

	j.logger.Info("報酬補填サイクルが完了しました",
		slog.Int("missing", len(missing)),
		slog.Int("awarded", awarded),
		slog.Int("failed", failed),
		slog.Int64("refreshed_totals", refreshed),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

func (j *Job) recordError(now time.Time) {
	j.consecutiveErrors++
	backoff := calculateErrorBackoff(j.consecutiveErrors)
	if backoff > 0 {
		j.backoffUntil = now.Add(backoff)
		j.logger.Warn("連続エラーによりバックオフを適用します",
			slog.Int("consecutive_errors", j.consecutiveErrors),
			slog.Duration("backoff_duration", backoff),
		)
	}
}

// calculateErrorBackoff は連続エラー回数に基づくバックオフ時間を計算する。
// 3回連続: 5分、5回連続: 30分、10回連続: 1時間。
func calculateErrorBackoff(consecutiveErrors int) time.Duration {
	switch {
	case consecutiveErrors >= 10:
		return time.Hour
	case consecutiveErrors >= 5:
		return 30 * time.Minute
	case consecutiveErrors >= 3:
		return 5 * time.Minute
	default:
		return 0
	}
}
