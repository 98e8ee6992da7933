// Package profile は利用者自身によるプロフィール更新を扱う。
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"
	"unicode/utf8"

	"github.com/hitoshi/accounthub/internal/model"
	"github.com/hitoshi/accounthub/internal/repository"
)

const (
	maxDisplayNameLength = 64
	maxPublicEmailLength = 254
	maxAvatarPathLength  = 512
)

var (
	handlePattern  = regexp.MustCompile(`^[a-z0-9_]{3,30}$`)
	countryPattern = regexp.MustCompile(`^[A-Z]{2}$`)
)

// Sanitizer はプレーンテキストからHTMLを除去する。security.TextSanitizerが満たす。
type Sanitizer interface {
	Clean(raw string) string
}

// Service はプロフィール更新のビジネスロジックを提供する。
type Service struct {
	profiles  repository.ProfileRepository
	sanitizer Sanitizer
}

// NewService はServiceを生成する。
func NewService(profiles repository.ProfileRepository, sanitizer Sanitizer) *Service {
	return &Service{profiles: profiles, sanitizer: sanitizer}
}

// Update はプロフィールを部分更新する。nilのフィールドは変更せず、空文字列は値を消去する。
// 行が無い場合は作成する。ストアのエラー文字列はクライアントに返さない。
func (s *Service) Update(ctx context.Context, userID string, patch model.ProfilePatch) error {
	if userID == "" {
		return model.NewUnauthorizedError()
	}
	normalized, err := s.normalize(userID, patch)
	if err != nil {
		return err
	}
	if normalized.IsEmpty() {
		return model.NewValidationError("更新する項目がありません")
	}

	if err := s.profiles.ApplyPatch(ctx, userID, normalized); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return model.NewValidationError("このハンドルは既に使われています")
		}
		slog.Error("failed to update profile",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return model.NewProfileUpdateFailedError()
	}
	return nil
}

// normalize は各フィールドを正規化・検証する。
func (s *Service) normalize(userID string, p model.ProfilePatch) (model.ProfilePatch, error) {
	var out model.ProfilePatch

	if p.DisplayName != nil {
		v := s.sanitizer.Clean(*p.DisplayName)
		if utf8.RuneCountInString(v) > maxDisplayNameLength {
			return out, model.NewValidationError(fmt.Sprintf("表示名は%d文字以内で入力してください", maxDisplayNameLength))
		}
		out.DisplayName = &v
	}

	if p.Handle != nil {
		v := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(*p.Handle), "@")))
		if v != "" && !handlePattern.MatchString(v) {
			return out, model.NewValidationError("ハンドルは3〜30文字の英小文字・数字・アンダースコアで入力してください")
		}
		out.Handle = &v
	}

	if p.PublicEmail != nil {
		v := strings.TrimSpace(*p.PublicEmail)
		if v != "" {
			addr, err := mail.ParseAddress(v)
			if err != nil || addr.Name != "" || len(addr.Address) > maxPublicEmailLength {
				return out, model.NewValidationError("公開メールアドレスの形式が正しくありません")
			}
			v = addr.Address
		}
		out.PublicEmail = &v
	}

	if p.AvatarPath != nil {
		v := strings.TrimSpace(*p.AvatarPath)
		if v != "" {
			if err := validateAvatarPath(userID, v); err != nil {
				return out, err
			}
		}
		out.AvatarPath = &v
	}

	if p.PlanetHue != nil {
		if *p.PlanetHue < 0 || *p.PlanetHue > 359 {
			return out, model.NewValidationError("色相は0〜359で指定してください")
		}
		hue := *p.PlanetHue
		out.PlanetHue = &hue
	}

	if p.Country != nil {
		v := strings.ToUpper(strings.TrimSpace(*p.Country))
		if v != "" && !countryPattern.MatchString(v) {
			return out, model.NewValidationError("国コードはISO 3166-1 alpha-2で指定してください")
		}
		out.Country = &v
	}

	if p.Timezone != nil {
		v := strings.TrimSpace(*p.Timezone)
		if v != "" {
			if _, err := time.LoadLocation(v); err != nil || v == "Local" {
				return out, model.NewValidationError("タイムゾーンが正しくありません")
			}
		}
		out.Timezone = &v
	}

	if p.IsPublic != nil {
		v := *p.IsPublic
		out.IsPublic = &v
	}

	return out, nil
}

// validateAvatarPath はアバターのストレージパスを検証する。
// 相対パスで、利用者自身のディレクトリ配下にあるものだけを許可する。
func validateAvatarPath(userID, path string) error {
	invalid := model.NewValidationError("アバターのパスが正しくありません")
	switch {
	case len(path) > maxAvatarPathLength:
		return invalid
	case strings.Contains(path, "://"), strings.HasPrefix(path, "/"), strings.Contains(path, "\\"):
		return invalid
	case strings.ContainsAny(path, "\x00\r\n\t?#"):
		return invalid
	case !strings.HasPrefix(path, userID+"/"):
		return invalid
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return invalid
		}
	}
	return nil
}
