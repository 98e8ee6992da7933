package profile

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hitoshi/accounthub/internal/model"
	"github.com/hitoshi/accounthub/internal/repository"
	"github.com/hitoshi/accounthub/internal/security"
)

type mockProfileRepository struct {
	applyPatchFn func(ctx context.Context, userID string, patch model.ProfilePatch) error
}

func (m *mockProfileRepository) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	return nil, nil
}
func (m *mockProfileRepository) EnsureExists(ctx context.Context, userID string) error { return nil }
func (m *mockProfileRepository) ApplyPatch(ctx context.Context, userID string, patch model.ProfilePatch) error {
	if m.applyPatchFn != nil {
		return m.applyPatchFn(ctx, userID, patch)
	}
	return nil
}

var _ repository.ProfileRepository = (*mockProfileRepository)(nil)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func boolPtr(b bool) *bool    { return &b }

func newTestService(repo *mockProfileRepository) *Service {
	return NewService(repo, security.NewTextSanitizer())
}

func assertValidationError(t *testing.T, err error) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
		t.Errorf("error = %v, want validation error", err)
	}
}

func TestUpdate_NormalizesFields(t *testing.T) {
	var got model.ProfilePatch
	repo := &mockProfileRepository{
		applyPatchFn: func(ctx context.Context, userID string, patch model.ProfilePatch) error {
			if userID != "user-1" {
				t.Errorf("userID = %q", userID)
			}
			got = patch
			return nil
		},
	}

	err := newTestService(repo).Update(context.Background(), "user-1", model.ProfilePatch{
		DisplayName: strPtr("  <b>Ada</b> Lovelace "),
		Handle:      strPtr("@Ada_L"),
		PublicEmail: strPtr(" ada@example.org "),
		AvatarPath:  strPtr("user-1/avatar.png"),
		PlanetHue:   intPtr(359),
		Country:     strPtr("gb"),
		Timezone:    strPtr("Europe/London"),
		IsPublic:    boolPtr(true),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	checks := map[string][2]string{
		"DisplayName": {*got.DisplayName, "Ada Lovelace"},
		"Handle":      {*got.Handle, "ada_l"},
		"PublicEmail": {*got.PublicEmail, "ada@example.org"},
		"Country":     {*got.Country, "GB"},
		"Timezone":    {*got.Timezone, "Europe/London"},
	}
	for field, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s = %q, want %q", field, c[0], c[1])
		}
	}
	if *got.PlanetHue != 359 || !*got.IsPublic {
		t.Errorf("hue/public = %d/%v", *got.PlanetHue, *got.IsPublic)
	}
}

func TestUpdate_EmptyStringClearsField(t *testing.T) {
	var got model.ProfilePatch
	repo := &mockProfileRepository{
		applyPatchFn: func(ctx context.Context, userID string, patch model.ProfilePatch) error {
			got = patch
			return nil
		},
	}

	if err := newTestService(repo).Update(context.Background(), "user-1", model.ProfilePatch{Handle: strPtr(""), AvatarPath: strPtr("")}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Handle == nil || *got.Handle != "" || got.AvatarPath == nil || *got.AvatarPath != "" {
		t.Errorf("patch = %+v", got)
	}
	if got.DisplayName != nil {
		t.Error("untouched fields must stay nil")
	}
}

func TestUpdate_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		patch model.ProfilePatch
	}{
		{"empty patch", model.ProfilePatch{}},
		{"long display name", model.ProfilePatch{DisplayName: strPtr(strings.Repeat("あ", 65))}},
		{"short handle", model.ProfilePatch{Handle: strPtr("ab")}},
		{"handle with dash", model.ProfilePatch{Handle: strPtr("ada-l")}},
		{"bad email", model.ProfilePatch{PublicEmail: strPtr("not-an-email")}},
		{"named email", model.ProfilePatch{PublicEmail: strPtr("Ada <ada@example.org>")}},
		{"hue too large", model.ProfilePatch{PlanetHue: intPtr(360)}},
		{"hue negative", model.ProfilePatch{PlanetHue: intPtr(-1)}},
		{"country", model.ProfilePatch{Country: strPtr("GBR")}},
		{"timezone", model.ProfilePatch{Timezone: strPtr("Mars/Olympus")}},
		{"avatar absolute url", model.ProfilePatch{AvatarPath: strPtr("https://evil.example/a.png")}},
		{"avatar other user", model.ProfilePatch{AvatarPath: strPtr("user-2/a.png")}},
		{"avatar traversal", model.ProfilePatch{AvatarPath: strPtr("user-1/../user-2/a.png")}},
		{"avatar leading slash", model.ProfilePatch{AvatarPath: strPtr("/user-1/a.png")}},
		{"avatar directory only", model.ProfilePatch{AvatarPath: strPtr("user-1/")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockProfileRepository{
				applyPatchFn: func(ctx context.Context, userID string, patch model.ProfilePatch) error {
					t.Error("store should not be called for invalid input")
					return nil
				},
			}
			assertValidationError(t, newTestService(repo).Update(context.Background(), "user-1", tt.patch))
		})
	}
}

func TestUpdate_DuplicateHandle(t *testing.T) {
	repo := &mockProfileRepository{
		applyPatchFn: func(ctx context.Context, userID string, patch model.ProfilePatch) error {
			return repository.ErrDuplicate
		},
	}

	assertValidationError(t, newTestService(repo).Update(context.Background(), "user-1", model.ProfilePatch{Handle: strPtr("taken")}))
}

func TestUpdate_StoreErrorIsNotForwarded(t *testing.T) {
	repo := &mockProfileRepository{
		applyPatchFn: func(ctx context.Context, userID string, patch model.ProfilePatch) error {
			return errors.New(`pq: new row violates row-level security policy for table "profiles"`)
		},
	}

	err := newTestService(repo).Update(context.Background(), "user-1", model.ProfilePatch{IsPublic: boolPtr(false)})
	assertValidationError(t, err)
	if strings.Contains(err.Error(), "profiles") {
		t.Errorf("store error leaked: %v", err)
	}
}

func TestUpdate_RequiresUser(t *testing.T) {
	err := newTestService(&mockProfileRepository{}).Update(context.Background(), "", model.ProfilePatch{IsPublic: boolPtr(true)})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUnauthorized {
		t.Errorf("error = %v, want unauthorized", err)
	}
}
