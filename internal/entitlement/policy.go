package entitlement

import (
	"fmt"
	"strings"
)

// Policy はハンドオフ成功時に付与するuniverseを決める表。
// Primaryはsourceに関係なく常に付与し、BySourceはsourceタグごとの追加付与を表す。
// 新しいsource/universeの組は表への追加だけで対応する。
type Policy struct {
	Primary  []string
	BySource map[string][]string
}

// DefaultPolicy は既定のPolicyを返す。
// どのハンドオフでもfundを付与し、src=marketの場合のみmarketを追加で付与する。
func DefaultPolicy() Policy {
	return Policy{
		Primary: []string{UniverseFund},
		BySource: map[string][]string{
			UniverseMarket: {UniverseMarket},
		},
	}
}

// Grants はsourceタグに対して付与するuniverseキーを重複なく返す。
// Primaryを先に、source固有のものを後に並べる。
func (p Policy) Grants(source string) []string {
	source = NormalizeSource(source)

	seen := make(map[string]bool)
	var out []string
	add := func(keys []string) {
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	add(p.Primary)
	if source != "" {
		add(p.BySource[source])
	}
	return out
}

// Validate は表に現れる全キーがカタログに存在するかを検証する。
func (p Policy) Validate(c *Catalog) error {
	check := func(k string) error {
		if _, ok := c.Lookup(k); !ok {
			return fmt.Errorf("policy references unknown universe: %s", k)
		}
		return nil
	}
	for _, k := range p.Primary {
		if err := check(k); err != nil {
			return err
		}
	}
	for _, keys := range p.BySource {
		for _, k := range keys {
			if err := check(k); err != nil {
				return err
			}
		}
	}
	return nil
}

// NormalizeSource はsourceタグを小文字化し前後の空白を除く。
func NormalizeSource(source string) string {
	return strings.ToLower(strings.TrimSpace(source))
}
