// Package handoff はサブドメイン間ハンドオフトークンの検証と単回消費を行う。
//
// 状態遷移は unconsumed → consumed（終端）と、時間経過による unconsumed → expired（終端）のみ。
// 期限切れは検証時に計算し、行の更新は行わない。消費済みトークンの再引き換えはエラーにせず、
// 現在の状態から計算し直した同じ成功ペイロードを返す。
package handoff

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/accounthub/internal/entitlement"
	"github.com/hitoshi/accounthub/internal/metrics"
	"github.com/hitoshi/accounthub/internal/model"
	"github.com/hitoshi/accounthub/internal/repository"
)

// sideEffectTimeout はクライアント切断後も完了させる書き込みに許す時間。
const sideEffectTimeout = 5 * time.Second

// Ledger はロック解除と台帳の読み書きインターフェース。entitlement.Serviceが満たす。
type Ledger interface {
	Unlock(ctx context.Context, userID, key string) (*entitlement.UnlockResult, error)
	Unlocked(ctx context.Context, userID string) (map[string]bool, error)
	Total(ctx context.Context, userID string) (int64, int, error)
}

// Deps はServiceの依存。
type Deps struct {
	Tokens   repository.HandoffTokenRepository
	Users    repository.UserRepository
	Profiles repository.ProfileRepository
	Ledger   Ledger
	Catalog  *entitlement.Catalog
	Policy   entitlement.Policy
	Metrics  metrics.MetricsCollector
	Logger   *slog.Logger
}

// RedeemResult はハンドオフ引き換えの成功ペイロード。
// 初回と再引き換えで同じ形・同じ値になる。
type RedeemResult struct {
	OK               bool            `json:"ok"`
	ProfileID        *string         `json:"profileId"`
	Email            *string         `json:"email"`
	LeafTotal        int64           `json:"leafTotal"`
	GrantedUniverses []string        `json:"grantedUniverses"`
	Unlocked         map[string]bool `json:"unlocked"`

	// Replayed は消費済みトークンの再引き換えだったかどうか。ログとメトリクスのみに使う。
	Replayed bool `json:"-"`
}

// Service はハンドオフトークンの引き換えを行う。
type Service struct {
	deps Deps
	now  func() time.Time
}

// NewService はServiceを生成する。Policyがカタログに無いuniverseを参照している場合はエラーを返す。
func NewService(deps Deps) (*Service, error) {
	if deps.Tokens == nil || deps.Users == nil || deps.Profiles == nil || deps.Ledger == nil || deps.Catalog == nil {
		return nil, fmt.Errorf("handoff service is missing a dependency")
	}
	if err := deps.Policy.Validate(deps.Catalog); err != nil {
		return nil, err
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps, now: time.Now}, nil
}

// Redeem はハンドオフトークンを引き換える。
//
//  1. トークンが無い場合はNotFound（存在しなかったのか削除済みかは区別しない）
//  2. 消費済みの場合はエラーにせず、初回に適用したsourceで成功ペイロードを計算し直す
//  3. 未消費で期限切れの場合はExpired（期限の延長はしない）
//  4. ポリシー表から付与するuniverseを決め、ユーザーに解除を適用する（冪等）
//  5. Leaf XP合計を 台帳 → プロフィールのキャッシュ → 発行時スナップショット の順で決める
//  6. 消費済みにする（ベストエフォート。失敗しても成功を返す）
//
// 付与の適用を合計の読み取りより先に行うことで、再引き換え時も同じ合計を返す。
func (s *Service) Redeem(ctx context.Context, tokenID, sourceTag string) (*RedeemResult, error) {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return nil, model.NewMissingTokenError()
	}

	tok, err := s.deps.Tokens.FindByID(ctx, tokenID)
	if err != nil {
		s.deps.Metrics.RecordRedeem(metrics.RedeemOutcomeError)
		return nil, fmt.Errorf("failed to find handoff token: %w", err)
	}
	if tok == nil {
		s.deps.Metrics.RecordRedeem(metrics.RedeemOutcomeNotFound)
		return nil, model.NewTokenNotFoundError()
	}

	now := s.now()
	replayed := tok.IsConsumed()
	if !replayed && tok.IsExpired(now) {
		s.deps.Metrics.RecordRedeem(metrics.RedeemOutcomeExpired)
		return nil, model.NewTokenExpiredError()
	}

	source := effectiveSource(tok, sourceTag)
	grants := s.deps.Policy.Grants(source)

	userID, err := s.resolveUser(ctx, tok)
	if err != nil {
		s.deps.Metrics.RecordRedeem(metrics.RedeemOutcomeError)
		return nil, err
	}

	if userID != "" {
		s.applyGrants(ctx, tok.ID, userID, grants)
	}

	result := &RedeemResult{
		OK:               true,
		Email:            tok.Email,
		LeafTotal:        s.resolveTotal(ctx, userID, tok),
		GrantedUniverses: grants,
		Unlocked:         s.resolveUnlocked(ctx, userID, grants),
		Replayed:         replayed,
	}
	if userID != "" {
		result.ProfileID = &userID
	}

	if !replayed {
		s.markConsumed(ctx, tok.ID, now, source)
		s.deps.Metrics.RecordRedeem(metrics.RedeemOutcomeRedeemed)
	} else {
		s.deps.Metrics.RecordRedeem(metrics.RedeemOutcomeReplayed)
	}

	s.deps.Logger.Info("handoff token redeemed",
		slog.String("token_id", tok.ID),
		slog.String("user_id", userID),
		slog.String("source", source),
		slog.Bool("replayed", replayed),
		slog.Any("granted", grants),
	)
	return result, nil
}

// effectiveSource は付与を決めるsourceを返す。
// 消費済みトークンではリクエストのsrcを無視し、初回に記録したsource（無ければ発行時のsource）に固定する。
func effectiveSource(tok *model.HandoffToken, sourceTag string) string {
	if tok.IsConsumed() {
		if source := entitlement.NormalizeSource(tok.ConsumedSource); source != "" {
			return source
		}
		return entitlement.NormalizeSource(tok.Source)
	}
	if source := entitlement.NormalizeSource(sourceTag); source != "" {
		return source
	}
	return entitlement.NormalizeSource(tok.Source)
}

// resolveUser はトークンの対象ユーザーIDを返す。
// profile_idがあればそれを使い、無ければメールアドレスから引く。該当なしは空文字列。
func (s *Service) resolveUser(ctx context.Context, tok *model.HandoffToken) (string, error) {
	if tok.ProfileID != nil && *tok.ProfileID != "" {
		return *tok.ProfileID, nil
	}
	if tok.Email == nil || *tok.Email == "" {
		return "", nil
	}
	user, err := s.deps.Users.FindByEmail(ctx, *tok.Email)
	if err != nil {
		return "", fmt.Errorf("failed to resolve handoff user by email: %w", err)
	}
	if user == nil {
		return "", nil
	}
	return user.ID, nil
}

// applyGrants は付与対象のuniverseを解除する。
// 失敗はログとメトリクスに残し、照合ジョブと再引き換えでの回復に任せる。
func (s *Service) applyGrants(ctx context.Context, tokenID, userID string, grants []string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	for _, key := range grants {
		if _, err := s.deps.Ledger.Unlock(ctx, userID, key); err != nil {
			s.deps.Metrics.RecordPointAwardFailure()
			s.deps.Logger.Error("failed to apply handoff grant",
				slog.String("token_id", tokenID),
				slog.String("user_id", userID),
				slog.String("universe", key),
				slog.String("error", err.Error()),
			)
		}
	}
}

// resolveTotal はLeaf XP合計を台帳、プロフィールのキャッシュ、発行時スナップショットの順で決める。
func (s *Service) resolveTotal(ctx context.Context, userID string, tok *model.HandoffToken) int64 {
	if userID == "" {
		return tok.LeafSnapshot
	}

	total, entries, err := s.deps.Ledger.Total(ctx, userID)
	if err == nil && entries > 0 {
		return total
	}
	if err != nil {
		s.deps.Logger.Warn("ledger unavailable during redeem",
			slog.String("token_id", tok.ID),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	profile, err := s.deps.Profiles.FindByUserID(ctx, userID)
	if err != nil {
		s.deps.Logger.Warn("profile unavailable during redeem",
			slog.String("token_id", tok.ID),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	if profile != nil && profile.LeafTotal > 0 {
		return profile.LeafTotal
	}
	return tok.LeafSnapshot
}

// resolveUnlocked は現在の解除状態を返す。読めない場合は付与内容のみから組み立てる。
func (s *Service) resolveUnlocked(ctx context.Context, userID string, grants []string) map[string]bool {
	if userID != "" {
		flags, err := s.deps.Ledger.Unlocked(ctx, userID)
		if err == nil {
			for _, key := range grants {
				flags[key] = true
			}
			return flags
		}
		s.deps.Logger.Warn("entitlements unavailable during redeem",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	return s.deps.Catalog.Project(grants)
}

// markConsumed はトークンを消費済みにする。失敗しても引き換えは成功として扱う。
func (s *Service) markConsumed(ctx context.Context, tokenID string, now time.Time, source string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	marked, err := s.deps.Tokens.MarkConsumed(ctx, tokenID, now, source)
	if err != nil {
		s.deps.Metrics.RecordConsumeFailure()
		s.deps.Logger.Error("failed to mark handoff token consumed",
			slog.String("token_id", tokenID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !marked {
		s.deps.Logger.Debug("handoff token was consumed concurrently",
			slog.String("token_id", tokenID),
		)
	}
}
