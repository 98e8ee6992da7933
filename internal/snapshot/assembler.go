// Package snapshot はプロフィール・解除状態・Leaf XP合計を1つの読み取りモデルにまとめる。
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/accounthub/internal/model"
	"github.com/hitoshi/accounthub/internal/repository"
)

// lazyCreateTimeout はプロフィール遅延作成の書き込みに許す時間。
const lazyCreateTimeout = 5 * time.Second

// EntitlementReader は解除状態と台帳合計の読み取りインターフェース。entitlement.Serviceが満たす。
type EntitlementReader interface {
	Unlocked(ctx context.Context, userID string) (map[string]bool, error)
	Total(ctx context.Context, userID string) (int64, int, error)
}

// AvatarResolver はアバターのストレージパスを公開URLに解決する。
type AvatarResolver interface {
	Resolve(path string) *string
}

// Assembler はSnapshotを組み立てる。
type Assembler struct {
	profiles     repository.ProfileRepository
	entitlements EntitlementReader
	avatars      AvatarResolver
	logger       *slog.Logger
}

// NewAssembler はAssemblerを生成する。
func NewAssembler(profiles repository.ProfileRepository, entitlements EntitlementReader, avatars AvatarResolver, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		profiles:     profiles,
		entitlements: entitlements,
		avatars:      avatars,
		logger:       logger,
	}
}

// Assemble は認証済みIdentityのSnapshotを返す。
// プロフィール行が無い場合は既定値で応答し、行の作成はベストエフォートで行う。
// Leaf XP合計は台帳から導出し、台帳が読めない場合のみプロフィールのキャッシュを使う。
func (a *Assembler) Assemble(ctx context.Context, identity *model.Identity) (*model.Snapshot, error) {
	if identity == nil || identity.UserID == "" {
		return nil, model.NewUnauthorizedError()
	}
	userID := identity.UserID

	profile, err := a.profiles.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if profile == nil {
		a.ensureProfile(ctx, userID)
		profile = &model.Profile{UserID: userID, PlanetHue: model.DefaultPlanetHue}
	}

	unlocked, err := a.entitlements.Unlocked(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entitlements: %w", err)
	}

	total, _, err := a.entitlements.Total(ctx, userID)
	if err != nil {
		a.logger.Warn("ledger unavailable, using cached leaf total",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		total = profile.LeafTotal
	}

	snap := &model.Snapshot{
		ProfileID:   &userID,
		Email:       identity.Email,
		DisplayName: profile.DisplayName,
		Handle:      profile.Handle,
		LeafTotal:   total,
		Unlocked:    unlocked,
		PlanetHue:   profile.PlanetHue,
		PlanetColor: model.PlanetColor(profile.PlanetHue),
		IsPublic:    profile.IsPublic,
	}
	if profile.AvatarPath != nil && a.avatars != nil {
		snap.AvatarURL = a.avatars.Resolve(*profile.AvatarPath)
	}
	return snap, nil
}

// ensureProfile はプロフィール行を既定値で作成する。失敗してもSnapshotは返す。
func (a *Assembler) ensureProfile(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lazyCreateTimeout)
	defer cancel()

	if err := a.profiles.EnsureExists(ctx, userID); err != nil {
		a.logger.Error("failed to create profile lazily",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}
