package model

import (
	"fmt"
	"time"
)

// DefaultPlanetHue はプロフィール未作成時や未設定時に使う色相。
const DefaultPlanetHue = 210

// Profile はユーザーごとのプロフィールレコード（1:1）を表す。
// AvatarPathはストレージ上のパスであり、公開URLは読み取り時に解決する。
type Profile struct {
	UserID      string
	DisplayName *string
	Handle      *string
	PublicEmail *string
	AvatarPath  *string
	PlanetHue   int
	Country     *string
	Timezone    *string
	IsPublic    bool
	LeafTotal   int64 // leaf_ledgerから導出されるキャッシュ
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProfilePatch はプロフィールの部分更新を表す。
// nilのフィールドは変更しない。
type ProfilePatch struct {
	DisplayName *string
	Handle      *string
	PublicEmail *string
	AvatarPath  *string
	PlanetHue   *int
	Country     *string
	Timezone    *string
	IsPublic    *bool
}

// IsEmpty は更新対象のフィールドが1つもないかどうかを返す。
func (p ProfilePatch) IsEmpty() bool {
	return p.DisplayName == nil && p.Handle == nil && p.PublicEmail == nil &&
		p.AvatarPath == nil && p.PlanetHue == nil && p.Country == nil &&
		p.Timezone == nil && p.IsPublic == nil
}

// PlanetColor は色相からCSSカラー文字列を生成する。
func PlanetColor(hue int) string {
	return fmt.Sprintf("hsl(%d, 70%%, 55%%)", hue)
}
