// Package auth はクレデンシャルストア（パスワード、マジックリンク、OAuth）と
// セッション発行を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/accounthub/internal/model"
	"github.com/hitoshi/accounthub/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	// bcryptは72バイトを超える入力を扱えない
	maxPasswordLength = 72
)

// ErrOAuthDisabled はOAuthプロバイダー未設定時に返される。
var ErrOAuthDisabled = errors.New("oauth provider is not configured")

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Provider       string // "google" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// Repositories は認証サービスが使うリポジトリ群。
type Repositories struct {
	Users      repository.UserRepository
	Identities repository.IdentityRepository
	Sessions   repository.SessionRepository
	MagicLinks repository.MagicLinkRepository
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int           // セッション有効期間（秒）
	MagicLinkTTL  time.Duration // マジックリンク有効期間
	CallbackURL   string        // マジックリンクの着地URL（?token= が付与される）
	BcryptCost    int           // 0の場合はbcrypt.DefaultCost
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	repos  Repositories
	tokens *TokenIssuer
	oauth  OAuthProvider
	sender LinkSender
	config ServiceConfig
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

// NewService はServiceを生成する。oauthはnilでもよい（OAuth無効）。
func NewService(repos Repositories, tokens *TokenIssuer, oauth OAuthProvider, sender LinkSender, config ServiceConfig) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	if config.MagicLinkTTL <= 0 {
		config.MagicLinkTTL = 15 * time.Minute
	}
	return &Service{
		repos:  repos,
		tokens: tokens,
		oauth:  oauth,
		sender: sender,
		config: config,
		now:    time.Now,
	}
}

// OAuthEnabled はOAuthプロバイダーが設定されているかを返す。
func (s *Service) OAuthEnabled() bool {
	return s.oauth != nil
}

// SignUp はメールアドレスとパスワードでユーザーを登録し、セッションを発行する。
func (s *Service) SignUp(ctx context.Context, email, password string) (*model.Session, error) {
	addr, err := normalizeEmail(email)
	if err != nil {
		return nil, model.NewValidationError("メールアドレスの形式が正しくありません")
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        addr,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repos.Users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user signed up", slog.String("user_id", user.ID), slog.String("method", "password"))
	return s.createSession(ctx, user.ID, user.Email)
}

// SignInWithPassword はパスワードでサインインする。
// 未登録のメールアドレスと誤ったパスワードは同じエラーを返す。
func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	addr, err := normalizeEmail(email)
	if err != nil {
		return nil, model.NewInvalidCredentialsError()
	}

	user, err := s.repos.Users.FindByEmail(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || user.PasswordHash == "" {
		// 応答時間からアカウントの有無を推測されないよう比較を1回行う
		_ = bcrypt.CompareHashAndPassword(s.dummyPasswordHash(), []byte(password))
		return nil, model.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, model.NewInvalidCredentialsError()
	}

	return s.createSession(ctx, user.ID, user.Email)
}

// RequestMagicLink は単回使用のサインインリンクを発行し送信する。
// ユーザーが存在しない場合はパスワードなしで作成する。
// nextは呼び出し側で検証済みの戻り先URL。
func (s *Service) RequestMagicLink(ctx context.Context, email, next string) error {
	addr, err := normalizeEmail(email)
	if err != nil {
		return model.NewValidationError("メールアドレスの形式が正しくありません")
	}

	user, err := s.findOrCreateUser(ctx, addr)
	if err != nil {
		return err
	}

	token, err := generateToken()
	if err != nil {
		return fmt.Errorf("failed to generate magic link token: %w", err)
	}

	now := s.now()
	link := &model.MagicLink{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		NextURL:   next,
		ExpiresAt: now.Add(s.config.MagicLinkTTL),
		CreatedAt: now,
	}
	if err := s.repos.MagicLinks.Create(ctx, link); err != nil {
		return fmt.Errorf("failed to save magic link: %w", err)
	}

	linkURL := s.config.CallbackURL + "?token=" + url.QueryEscape(token)
	if err := s.sender.Send(ctx, user.Email, linkURL); err != nil {
		return fmt.Errorf("failed to send magic link: %w", err)
	}
	return nil
}

// ConsumeMagicLink はマジックリンクを検証・使用済みにしてセッションを発行する。
// 発行時に保存した戻り先URLを返す。
func (s *Service) ConsumeMagicLink(ctx context.Context, token string) (*model.Session, string, error) {
	if token == "" {
		return nil, "", model.NewMagicLinkNotFoundError()
	}

	link, err := s.repos.MagicLinks.FindByToken(ctx, token)
	if err != nil {
		return nil, "", fmt.Errorf("failed to find magic link: %w", err)
	}
	if link == nil {
		return nil, "", model.NewMagicLinkNotFoundError()
	}
	if link.IsUsed() {
		return nil, "", model.NewMagicLinkUsedError()
	}

	now := s.now()
	if now.After(link.ExpiresAt) {
		return nil, "", model.NewMagicLinkExpiredError()
	}

	marked, err := s.repos.MagicLinks.MarkUsed(ctx, token, now)
	if err != nil {
		return nil, "", fmt.Errorf("failed to mark magic link used: %w", err)
	}
	if !marked {
		// 同時に別のリクエストが使用した
		return nil, "", model.NewMagicLinkUsedError()
	}

	session, err := s.createSession(ctx, link.UserID, link.Email)
	if err != nil {
		return nil, "", err
	}
	slog.Info("magic link consumed", slog.String("user_id", link.UserID))
	return session, link.NextURL, nil
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) (string, error) {
	if s.oauth == nil {
		return "", ErrOAuthDisabled
	}
	return s.oauth.GetLoginURL(state), nil
}

// HandleOAuthCallback はOAuthコールバックを処理し、セッションを発行する。
// identitiesで既存ユーザーを特定し、無ければ同じメールアドレスのユーザーに
// 紐付ける（IdP側で確認済みの場合のみ）か、ユーザーとidentityを同時に作成する。
func (s *Service) HandleOAuthCallback(ctx context.Context, code string) (*model.Session, error) {
	if s.oauth == nil {
		return nil, ErrOAuthDisabled
	}

	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	identity, err := s.repos.Identities.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity != nil {
		user, err := s.repos.Users.FindByID(ctx, identity.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user: %w", err)
		}
		if user == nil {
			return nil, fmt.Errorf("user %s for identity not found", identity.UserID)
		}
		return s.createSession(ctx, user.ID, user.Email)
	}

	addr, err := normalizeEmail(info.Email)
	if err != nil {
		return nil, fmt.Errorf("invalid email from oauth provider: %w", err)
	}

	now := s.now()
	newIdentity := &model.ExternalIdentity{
		ID:             uuid.New().String(),
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}

	existing, err := s.repos.Users.FindByEmail(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		if !info.EmailVerified {
			return nil, model.NewEmailTakenError()
		}
		newIdentity.UserID = existing.ID
		if err := s.repos.Identities.Create(ctx, newIdentity); err != nil && !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("failed to link identity: %w", err)
		}
		slog.Info("identity linked to existing user",
			slog.String("user_id", existing.ID),
			slog.String("provider", info.Provider),
		)
		return s.createSession(ctx, existing.ID, existing.Email)
	}

	user := &model.User{
		ID:        uuid.New().String(),
		Email:     addr,
		CreatedAt: now,
		UpdatedAt: now,
	}
	newIdentity.UserID = user.ID
	if err := s.repos.Users.CreateWithIdentity(ctx, user, newIdentity); err != nil {
		return nil, fmt.Errorf("failed to create user and identity: %w", err)
	}

	slog.Info("user signed up",
		slog.String("user_id", user.ID),
		slog.String("method", info.Provider),
	)
	return s.createSession(ctx, user.ID, user.Email)
}

// Refresh はリフレッシュクレデンシャル（セッションID）から新しいアクセスクレデンシャルを発行する。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*model.Session, error) {
	if refreshToken == "" {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.repos.Sessions.FindByID(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewUnauthorizedError()
	}

	if err := s.issueAccess(session); err != nil {
		return nil, err
	}
	return session, nil
}

// Authenticate はアクセスクレデンシャルを検証してIdentityを返す。
// サインアウト済み・失効済みのセッションに紐づくクレデンシャルはErrInvalidCredentialになる。
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*model.Identity, error) {
	identity, err := s.tokens.Verify(accessToken)
	if err != nil {
		return nil, err
	}
	session, err := s.repos.Sessions.FindByID(ctx, identity.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.UserID != identity.UserID {
		return nil, ErrInvalidCredential
	}
	return identity, nil
}

// SignOut はセッションを破棄する。空のトークンは何もしない。
func (s *Service) SignOut(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.repos.Sessions.DeleteByID(ctx, refreshToken); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// createSession はセッションを作成・永続化し、アクセスクレデンシャルを付与する。
func (s *Service) createSession(ctx context.Context, userID, email string) (*model.Session, error) {
	sessionID, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		Email:     email,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}
	if err := s.repos.Sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	if err := s.issueAccess(session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) issueAccess(session *model.Session) error {
	token, expiresAt, err := s.tokens.Issue(session.UserID, session.Email, session.ID)
	if err != nil {
		return fmt.Errorf("failed to issue access token: %w", err)
	}
	session.AccessToken = token
	session.AccessExpiresAt = expiresAt
	return nil
}

// findOrCreateUser はメールアドレスでユーザーを探し、無ければ作成する。
func (s *Service) findOrCreateUser(ctx context.Context, email string) (*model.User, error) {
	user, err := s.repos.Users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user != nil {
		return user, nil
	}

	now := s.now()
	user = &model.User{
		ID:        uuid.New().String(),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.repos.Users.Create(ctx, user)
	if errors.Is(err, repository.ErrDuplicate) {
		// 同時リクエストが先に作成した
		user, err = s.repos.Users.FindByEmail(ctx, email)
		if err != nil || user == nil {
			return nil, fmt.Errorf("failed to reload user after conflict: %w", err)
		}
		return user, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (s *Service) dummyPasswordHash() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("accounthub-dummy-password"), s.config.BcryptCost)
	})
	return s.dummyHash
}

// normalizeEmail は表示名なしの単一アドレスのみ受け付け、小文字化して返す。
func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return "", err
	}
	if addr.Address != raw {
		return "", fmt.Errorf("unexpected display name in address")
	}
	return strings.ToLower(addr.Address), nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return model.NewValidationError(fmt.Sprintf("パスワードは%d文字以上にしてください", minPasswordLength))
	}
	if len(password) > maxPasswordLength {
		return model.NewValidationError(fmt.Sprintf("パスワードは%dバイト以下にしてください", maxPasswordLength))
	}
	return nil
}

// generateToken は暗号的に安全な32バイトのランダム値を16進文字列で返す。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
