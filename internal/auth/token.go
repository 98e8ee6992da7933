package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hitoshi/accounthub/internal/model"
)

const tokenIssuer = "accounthub"

var (
	// ErrInvalidCredential は署名不正・形式不正のアクセスクレデンシャルを表す。
	ErrInvalidCredential = errors.New("invalid access credential")
	// ErrCredentialExpired は期限切れのアクセスクレデンシャルを表す。
	ErrCredentialExpired = errors.New("access credential expired")
)

// accessClaims はアクセスクレデンシャルに載せるクレーム。
type accessClaims struct {
	Email     string `json:"email"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenIssuer はHS256で署名された短命のアクセスクレデンシャルを発行・検証する。
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。署名鍵が空、またはTTLが0以下の場合はエラーを返す。
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("signing secret is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("access token ttl must be positive")
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue はセッションに紐づくアクセスクレデンシャルを発行する。
func (i *TokenIssuer) Issue(userID, email, sessionID string) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := &accessClaims{
		Email:     email,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify はアクセスクレデンシャルを検証しIdentityを返す。
func (i *TokenIssuer) Verify(token string) (*model.Identity, error) {
	if token == "" {
		return nil, ErrInvalidCredential
	}

	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrCredentialExpired
		}
		return nil, ErrInvalidCredential
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, ErrInvalidCredential
	}

	return &model.Identity{
		UserID:    claims.Subject,
		Email:     claims.Email,
		SessionID: claims.SessionID,
	}, nil
}
