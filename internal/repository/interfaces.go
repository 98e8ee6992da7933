// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/accounthub/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレス重複時はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// CreateWithIdentity はユーザーと外部identityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.ExternalIdentity) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.ExternalIdentity, error)

	// Create は既存ユーザーに外部identityを紐付ける。重複時はErrDuplicateを返す。
	Create(ctx context.Context, identity *model.ExternalIdentity) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// MagicLinkRepository はマジックリンクの永続化インターフェース。
type MagicLinkRepository interface {
	// Create はマジックリンクを作成する。
	Create(ctx context.Context, link *model.MagicLink) error
	// FindByToken はトークンでマジックリンクを取得する。見つからない場合はnilを返す。
	FindByToken(ctx context.Context, token string) (*model.MagicLink, error)
	// MarkUsed は未使用の場合のみused_atを設定する。
	// 今回の呼び出しで使用済みにした場合はtrueを返す。
	MarkUsed(ctx context.Context, token string, usedAt time.Time) (bool, error)
}

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByUserID はユーザーのプロフィールを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)
	// EnsureExists はプロフィールが無ければデフォルト値で作成する。既存の場合は何もしない。
	EnsureExists(ctx context.Context, userID string) error
	// ApplyPatch はプロフィールを部分更新する。行が無い場合は作成する。
	ApplyPatch(ctx context.Context, userID string, patch model.ProfilePatch) error
}

// EntitlementRepository はuniverseロック解除記録の永続化インターフェース。
type EntitlementRepository interface {
	// ListByUserID はユーザーの解除記録を返す。
	ListByUserID(ctx context.Context, userID string) ([]model.Entitlement, error)

	// UnlockWithAward は解除記録を挿入し、挿入できた場合のみ報酬エントリを追記して
	// プロフィールのキャッシュ合計を更新する。全て同一トランザクションで行う。
	// 既に解除済みの場合は何も書き込まずfalseを返す。
	UnlockWithAward(ctx context.Context, userID, key string, reward int64) (bool, error)

	// ListMissingAwards は報酬エントリが欠落している解除記録を最大limit件返す。
	ListMissingAwards(ctx context.Context, limit int) ([]model.MissingAward, error)
}

// LedgerRepository はLeaf XP台帳の永続化インターフェース。
type LedgerRepository interface {
	// SumByUserID はユーザーの台帳合計とエントリ数を返す。
	SumByUserID(ctx context.Context, userID string) (total int64, entries int, err error)

	// AppendAward は報酬エントリを冪等に追記しキャッシュ合計を更新する。
	// (user_id, reason) が既に存在する場合はfalseを返す。
	AppendAward(ctx context.Context, entry *model.LedgerEntry) (bool, error)

	// RefreshDivergedTotals は台帳合計とずれているプロフィールのキャッシュを再計算し、
	// 更新した件数を返す。
	RefreshDivergedTotals(ctx context.Context) (int64, error)
}

// HandoffTokenRepository はハンドオフトークンの永続化インターフェース。
// トークンの発行は上流システムが行うため、作成メソッドは持たない。
type HandoffTokenRepository interface {
	// FindByID はトークンを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.HandoffToken, error)

	// MarkConsumed はconsumed_atがNULLの場合のみ、消費時刻と適用したsourceを設定する。
	// 今回の呼び出しで消費済みにした場合はtrueを返す。
	MarkConsumed(ctx context.Context, id string, consumedAt time.Time, source string) (bool, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
