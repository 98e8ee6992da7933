// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"

	"github.com/hitoshi/accounthub/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに認証済みIdentityを格納するためのキー。
var identityContextKey = contextKey("identity")

// identityHolder は外側のロギングミドルウェアが下流で確定したユーザーIDを受け取るための入れ物。
type identityHolder struct {
	userID string
}

var identityHolderKey = contextKey("identity_holder")

// ContextWithIdentity はコンテキストに認証済みIdentityを注入する。
func ContextWithIdentity(ctx context.Context, identity *model.Identity) context.Context {
	if h, ok := ctx.Value(identityHolderKey).(*identityHolder); ok && identity != nil {
		h.userID = identity.UserID
	}
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext はリクエストコンテキストから認証済みIdentityを取得する。
// 認証ガードを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (*model.Identity, error) {
	identity, ok := ctx.Value(identityContextKey).(*model.Identity)
	if !ok || identity == nil || identity.UserID == "" {
		return nil, fmt.Errorf("identity not found in context")
	}
	return identity, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	identity, err := IdentityFromContext(ctx)
	if err != nil {
		return "", err
	}
	return identity.UserID, nil
}

// ContextWithUserID はユーザーIDのみのIdentityをコンテキストに注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return ContextWithIdentity(ctx, &model.Identity{UserID: userID})
}

func withIdentityHolder(ctx context.Context, h *identityHolder) context.Context {
	return context.WithValue(ctx, identityHolderKey, h)
}
