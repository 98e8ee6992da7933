package model

import "time"

// Universe はロック解除可能な機能領域（Market、Fund等）を表す。
type Universe struct {
	Key       string
	Reward    int64 // 初回ロック解除時に付与するLeaf XP
	SelfServe bool  // 認証済みユーザーが直接ロック解除できるか
}

// Entitlement は (ユーザー, universe) の解除記録を表す。
// 組は一意であり、削除されない。
type Entitlement struct {
	UserID     string
	Key        string
	UnlockedAt time.Time
}

// LedgerEntry はLeaf XP台帳の1エントリを表す。
// 台帳は追記専用で、合計値の唯一の正とする。
type LedgerEntry struct {
	ID        string
	UserID    string
	Delta     int64
	Reason    string
	CreatedAt time.Time
}

// UnlockReason はuniverseロック解除報酬の台帳reasonを返す。
// (user_id, reason) の一意制約により二重付与を防ぐ。
func UnlockReason(key string) string {
	return "unlock:" + key
}

// MissingAward は報酬エントリが欠落しているロック解除記録を表す。
type MissingAward struct {
	UserID string
	Key    string
}
