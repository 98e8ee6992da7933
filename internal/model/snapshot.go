package model

// Snapshot はクライアントに返すプロフィール・解除状態・ポイントの統合読み取りモデル。
type Snapshot struct {
	ProfileID   *string         `json:"profileId"`
	Email       string          `json:"email"`
	DisplayName *string         `json:"displayName"`
	Handle      *string         `json:"handle"`
	LeafTotal   int64           `json:"leafTotal"`
	Unlocked    map[string]bool `json:"unlocked"`
	AvatarURL   *string         `json:"avatarUrl"`
	PlanetHue   int             `json:"planetHue"`
	PlanetColor string          `json:"planetColor"`
	IsPublic    bool            `json:"isPublic"`
}
