package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/accounthub/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByUserID はユーザーのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	p := &model.Profile{}
	var displayName, handle, publicEmail, avatarPath, country, timezone sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, display_name, handle, public_email, avatar_path, planet_hue,
		        country, timezone, is_public, leaf_total, created_at, updated_at
		 FROM profiles
		 WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &displayName, &handle, &publicEmail, &avatarPath, &p.PlanetHue,
		&country, &timezone, &p.IsPublic, &p.LeafTotal, &p.CreatedAt, &p.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}

	p.DisplayName = nullStringPtr(displayName)
	p.Handle = nullStringPtr(handle)
	p.PublicEmail = nullStringPtr(publicEmail)
	p.AvatarPath = nullStringPtr(avatarPath)
	p.Country = nullStringPtr(country)
	p.Timezone = nullStringPtr(timezone)

	return p, nil
}

// EnsureExists はプロフィールが無ければデフォルト値で作成する。
func (r *PostgresProfileRepo) EnsureExists(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, planet_hue) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, model.DefaultPlanetHue,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure profile: %w", err)
	}
	return nil
}

// ApplyPatch はプロフィールを部分更新する。行が無い場合は作成する。
// 空文字列はNULLとして保存する。ハンドル重複時はErrDuplicateを返す。
func (r *PostgresProfileRepo) ApplyPatch(ctx context.Context, userID string, patch model.ProfilePatch) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO profiles (user_id, planet_hue) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, model.DefaultPlanetHue,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure profile: %w", err)
	}

	query, args := buildProfileUpdate(userID, patch)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to update profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// buildProfileUpdate はnilでないフィールドのみを更新するUPDATE文を組み立てる。
func buildProfileUpdate(userID string, patch model.ProfilePatch) (string, []any) {
	args := []any{userID}
	var sets []string

	addText := func(column string, v *string) {
		if v == nil {
			return
		}
		args = append(args, *v)
		sets = append(sets, fmt.Sprintf("%s = NULLIF($%d, '')", column, len(args)))
	}
	addText("display_name", patch.DisplayName)
	addText("handle", patch.Handle)
	addText("public_email", patch.PublicEmail)
	addText("avatar_path", patch.AvatarPath)
	addText("country", patch.Country)
	addText("timezone", patch.Timezone)

	if patch.PlanetHue != nil {
		args = append(args, *patch.PlanetHue)
		sets = append(sets, fmt.Sprintf("planet_hue = $%d", len(args)))
	}
	if patch.IsPublic != nil {
		args = append(args, *patch.IsPublic)
		sets = append(sets, fmt.Sprintf("is_public = $%d", len(args)))
	}

	sets = append(sets, "updated_at = now()")
	return "UPDATE profiles SET " + strings.Join(sets, ", ") + " WHERE user_id = $1", args
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
