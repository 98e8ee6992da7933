// Package entitlement はuniverseのロック解除記録とLeaf XP台帳を扱う。
package entitlement

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hitoshi/accounthub/internal/model"
)

// 既定のuniverseキー
const (
	UniverseFund   = "fund"
	UniverseMarket = "market"
)

// DefaultReward は既定のロック解除報酬（Leaf XP）。
const DefaultReward = 10

// Catalog はロック解除可能なuniverseの一覧。起動時に構築し、以後は読み取り専用。
type Catalog struct {
	universes []model.Universe
	byKey     map[string]model.Universe
}

// NewCatalog はCatalogを生成する。キーの重複や負の報酬はエラーとする。
func NewCatalog(universes ...model.Universe) (*Catalog, error) {
	c := &Catalog{byKey: make(map[string]model.Universe, len(universes))}
	for _, u := range universes {
		key := strings.TrimSpace(u.Key)
		if key == "" {
			return nil, fmt.Errorf("universe key is required")
		}
		if _, dup := c.byKey[key]; dup {
			return nil, fmt.Errorf("duplicate universe key: %s", key)
		}
		if u.Reward < 0 {
			return nil, fmt.Errorf("universe %s has a negative reward", key)
		}
		u.Key = key
		c.universes = append(c.universes, u)
		c.byKey[key] = u
	}
	sort.Slice(c.universes, func(i, j int) bool { return c.universes[i].Key < c.universes[j].Key })
	return c, nil
}

// DefaultCatalog は既定のCatalogを返す。
// fundはハンドオフでのみ解除され、marketは利用者が直接解除できる。
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		model.Universe{Key: UniverseFund, Reward: DefaultReward, SelfServe: false},
		model.Universe{Key: UniverseMarket, Reward: DefaultReward, SelfServe: true},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup はキーに対応するuniverseを返す。
func (c *Catalog) Lookup(key string) (model.Universe, bool) {
	u, ok := c.byKey[key]
	return u, ok
}

// Keys はキーの一覧をソート順で返す。
func (c *Catalog) Keys() []string {
	keys := make([]string, len(c.universes))
	for i, u := range c.universes {
		keys[i] = u.Key
	}
	return keys
}

// Project は解除済みキーの集合を全universeのフラグに射影する。
// カタログに無いキーは無視し、カタログの全キーを必ず含める。
func (c *Catalog) Project(unlocked []string) map[string]bool {
	flags := make(map[string]bool, len(c.universes))
	for _, u := range c.universes {
		flags[u.Key] = false
	}
	for _, key := range unlocked {
		if _, ok := flags[key]; ok {
			flags[key] = true
		}
	}
	return flags
}
