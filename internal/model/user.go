// Package model はドメインモデルを定義する。
package model

import "time"

// User はクレデンシャルストアが所有するユーザーを表す。
// PasswordHashはパスワード未設定（マジックリンク/OAuthのみ）の場合は空文字列。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExternalIdentity は外部IdPとの紐付け情報を表す。
type ExternalIdentity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Identity は認証済みリクエストの主体を表す。
// セッションCookieの検証結果から導出され、永続化はされない。
type Identity struct {
	UserID    string
	Email     string
	SessionID string
}

// Session はユーザーのログインセッションを表す。
// IDはリフレッシュクレデンシャルとしてCookieに載る。
// AccessTokenは署名済みの短命クレデンシャルで、DBには保存しない。
type Session struct {
	ID              string
	UserID          string
	Email           string
	AccessToken     string
	AccessExpiresAt time.Time
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// MagicLink はパスワードレスサインイン用の単回使用トークンを表す。
type MagicLink struct {
	Token     string
	UserID    string
	Email     string
	NextURL   string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// IsUsed はマジックリンクが使用済みかどうかを返す。
func (m *MagicLink) IsUsed() bool {
	return m.UsedAt != nil
}
