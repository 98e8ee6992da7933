package entitlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/accounthub/internal/metrics"
	"github.com/hitoshi/accounthub/internal/model"
	"github.com/hitoshi/accounthub/internal/repository"
)

// UnlockResult はロック解除の結果を表す。
type UnlockResult struct {
	Key           string `json:"universe"`
	NewlyUnlocked bool   `json:"newlyUnlocked"`
	Awarded       int64  `json:"awarded"`
}

// Service はロック解除と台帳合計のビジネスロジックを提供する。
type Service struct {
	entitlements repository.EntitlementRepository
	ledger       repository.LedgerRepository
	catalog      *Catalog
	metrics      metrics.MetricsCollector
}

// NewService はServiceを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewService(
	entitlements repository.EntitlementRepository,
	ledger repository.LedgerRepository,
	catalog *Catalog,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		entitlements: entitlements,
		ledger:       ledger,
		catalog:      catalog,
		metrics:      collector,
	}
}

// Catalog はuniverseカタログを返す。
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// Unlock はuniverseをロック解除する。既に解除済みの場合は書き込みを行わず
// NewlyUnlocked=falseを返す。解除記録・報酬エントリ・キャッシュ合計の更新は
// ストア側で1トランザクションとして行い、一意制約を唯一の並行制御とする。
func (s *Service) Unlock(ctx context.Context, userID, key string) (*UnlockResult, error) {
	u, ok := s.catalog.Lookup(key)
	if !ok {
		return nil, model.NewUnknownUniverseError(key)
	}

	inserted, err := s.entitlements.UnlockWithAward(ctx, userID, u.Key, u.Reward)
	if err != nil {
		s.metrics.RecordUnlock(u.Key, metrics.UnlockResultError)
		return nil, fmt.Errorf("failed to unlock universe %s: %w", u.Key, err)
	}

	result := &UnlockResult{Key: u.Key, NewlyUnlocked: inserted}
	if inserted {
		result.Awarded = u.Reward
		s.metrics.RecordUnlock(u.Key, metrics.UnlockResultNew)
		slog.Info("universe unlocked",
			slog.String("user_id", userID),
			slog.String("universe", u.Key),
			slog.Int64("reward", u.Reward),
		)
	} else {
		s.metrics.RecordUnlock(u.Key, metrics.UnlockResultExisting)
	}
	return result, nil
}

// SelfServeUnlock は利用者自身の操作によるロック解除を行う。
// 直接解除を許可していないuniverseはforbiddenエラーとする。
func (s *Service) SelfServeUnlock(ctx context.Context, userID, key string) (*UnlockResult, error) {
	u, ok := s.catalog.Lookup(key)
	if !ok {
		return nil, model.NewUnknownUniverseError(key)
	}
	if !u.SelfServe {
		return nil, model.NewNotSelfServeError(key)
	}
	return s.Unlock(ctx, userID, key)
}

// Unlocked はユーザーの解除状態をカタログの全キーについてのフラグとして返す。
func (s *Service) Unlocked(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := s.entitlements.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entitlements: %w", err)
	}
	keys := make([]string, len(rows))
	for i, e := range rows {
		keys[i] = e.Key
	}
	return s.catalog.Project(keys), nil
}

// Total は台帳から導出したLeaf XP合計とエントリ数を返す。
func (s *Service) Total(ctx context.Context, userID string) (int64, int, error) {
	total, entries, err := s.ledger.SumByUserID(ctx, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum ledger: %w", err)
	}
	return total, entries, nil
}
