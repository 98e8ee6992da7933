package model

import "time"

// HandoffToken はサブドメイン間の単回使用ハンドオフトークンを表す。
// 発行は上流システムが行い、本サービスは消費のみ行う。
// 監査とリプレイ検知のため削除しない。
type HandoffToken struct {
	ID           string
	ProfileID    *string // 対象ユーザーID（メールのみのトークンではnil）
	Email        *string
	Source       string
	LeafSnapshot int64 // 発行時点のLeaf XP合計（縮退表示用）
	ExpiresAt    time.Time
	ConsumedAt   *time.Time

	// ConsumedSource は初回の引き換えで適用したsource。再引き換えの付与はこれに固定する。
	ConsumedSource string
	CreatedAt    time.Time
}

// IsConsumed はトークンが消費済みかどうかを返す。
func (t *HandoffToken) IsConsumed() bool {
	return t.ConsumedAt != nil
}

// IsExpired はnow時点で有効期限を過ぎているかどうかを返す。
// 期限切れは検証時に計算し、事前の掃除は行わない。
func (t *HandoffToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
