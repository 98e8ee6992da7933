package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/accounthub/internal/entitlement"
	"github.com/hitoshi/accounthub/internal/guard"
	"github.com/hitoshi/accounthub/internal/handoff"
	"github.com/hitoshi/accounthub/internal/metrics"
	"github.com/hitoshi/accounthub/internal/middleware"
	"github.com/hitoshi/accounthub/internal/model"
	"github.com/hitoshi/accounthub/internal/security"
	"github.com/hitoshi/accounthub/internal/session"
)

const (
	testHub      = "https://auth.example.org/login"
	testFallback = "https://account.example.org/nebula"
)

// --- モック定義 ---

type mockSessions struct {
	resolveFn func(w http.ResponseWriter, r *http.Request) (*model.Identity, error)

	written []*model.Session
	cleared int
}

func (m *mockSessions) Resolve(w http.ResponseWriter, r *http.Request) (*model.Identity, error) {
	if m.resolveFn != nil {
		return m.resolveFn(w, r)
	}
	return nil, session.ErrNoSession
}

func (m *mockSessions) RefreshToken(r *http.Request) string {
	if c, err := r.Cookie(session.RefreshCookieName); err == nil {
		return c.Value
	}
	return ""
}

func (m *mockSessions) Write(w http.ResponseWriter, sess *model.Session) {
	m.written = append(m.written, sess)
	http.SetCookie(w, &http.Cookie{Name: session.AccessCookieName, Value: sess.AccessToken, Path: "/"})
}

func (m *mockSessions) Clear(w http.ResponseWriter) {
	m.cleared++
	http.SetCookie(w, &http.Cookie{Name: session.AccessCookieName, Value: "", Path: "/", MaxAge: -1})
}

var _ SessionManager = (*mockSessions)(nil)

// sessionsWithUser は指定のアクセスCookieを持つリクエストだけを認証済みとする。
func sessionsWithUser(token string, identity *model.Identity) *mockSessions {
	return &mockSessions{
		resolveFn: func(w http.ResponseWriter, r *http.Request) (*model.Identity, error) {
			c, err := r.Cookie(session.AccessCookieName)
			if err != nil || c.Value != token {
				return nil, session.ErrNoSession
			}
			return identity, nil
		},
	}
}

type mockSnapshots struct {
	assembleFn func(ctx context.Context, identity *model.Identity) (*model.Snapshot, error)
}

func (m *mockSnapshots) Assemble(ctx context.Context, identity *model.Identity) (*model.Snapshot, error) {
	if m.assembleFn != nil {
		return m.assembleFn(ctx, identity)
	}
	return &model.Snapshot{Email: identity.Email, Unlocked: map[string]bool{}}, nil
}

type mockProfiles struct {
	updateFn func(ctx context.Context, userID string, patch model.ProfilePatch) error
}

func (m *mockProfiles) Update(ctx context.Context, userID string, patch model.ProfilePatch) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, patch)
	}
	return nil
}

type mockRedeemer struct {
	redeemFn func(ctx context.Context, tokenID, sourceTag string) (*handoff.RedeemResult, error)
}

func (m *mockRedeemer) Redeem(ctx context.Context, tokenID, sourceTag string) (*handoff.RedeemResult, error) {
	if m.redeemFn != nil {
		return m.redeemFn(ctx, tokenID, sourceTag)
	}
	return &handoff.RedeemResult{OK: true}, nil
}

type mockUnlocker struct {
	unlockFn func(ctx context.Context, userID, key string) (*entitlement.UnlockResult, error)
}

func (m *mockUnlocker) SelfServeUnlock(ctx context.Context, userID, key string) (*entitlement.UnlockResult, error) {
	if m.unlockFn != nil {
		return m.unlockFn(ctx, userID, key)
	}
	return &entitlement.UnlockResult{Key: key, NewlyUnlocked: true}, nil
}

type mockAuthService struct {
	signUpFn           func(ctx context.Context, email, password string) (*model.Session, error)
	signInFn           func(ctx context.Context, email, password string) (*model.Session, error)
	requestMagicLinkFn func(ctx context.Context, email, next string) error
	consumeMagicLinkFn func(ctx context.Context, token string) (*model.Session, string, error)
	getLoginURLFn      func(state string) (string, error)
	oauthCallbackFn    func(ctx context.Context, code string) (*model.Session, error)
	signOutFn          func(ctx context.Context, refreshToken string) error
}

func (m *mockAuthService) SignUp(ctx context.Context, email, password string) (*model.Session, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password)
	}
	return &model.Session{ID: "sess-new", AccessToken: "access-new"}, nil
}

func (m *mockAuthService) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return &model.Session{ID: "sess-1", AccessToken: "access-1"}, nil
}

func (m *mockAuthService) RequestMagicLink(ctx context.Context, email, next string) error {
	if m.requestMagicLinkFn != nil {
		return m.requestMagicLinkFn(ctx, email, next)
	}
	return nil
}

func (m *mockAuthService) ConsumeMagicLink(ctx context.Context, token string) (*model.Session, string, error) {
	if m.consumeMagicLinkFn != nil {
		return m.consumeMagicLinkFn(ctx, token)
	}
	return &model.Session{ID: "sess-ml", AccessToken: "access-ml"}, "", nil
}

func (m *mockAuthService) GetLoginURL(state string) (string, error) {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "https://accounts.google.com/o/oauth2/auth?state=" + state, nil
}

func (m *mockAuthService) HandleOAuthCallback(ctx context.Context, code string) (*model.Session, error) {
	if m.oauthCallbackFn != nil {
		return m.oauthCallbackFn(ctx, code)
	}
	return &model.Session{ID: "sess-oauth", AccessToken: "access-oauth"}, nil
}

func (m *mockAuthService) SignOut(ctx context.Context, refreshToken string) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, refreshToken)
	}
	return nil
}

var _ AuthServiceInterface = (*mockAuthService)(nil)

type mockSignInMetrics struct {
	metrics.Nop
	signIns []string
}

func (m *mockSignInMetrics) RecordSignIn(method, result string) {
	m.signIns = append(m.signIns, method+":"+result)
}

// --- ヘルパー ---

func newTestGuard(t *testing.T, resolver guard.SessionResolver) *guard.Guard {
	t.Helper()
	redirects, err := security.NewRedirectGuard("example.org")
	if err != nil {
		t.Fatalf("NewRedirectGuard() error = %v", err)
	}
	g, err := guard.NewGuard(resolver, redirects, guard.Config{AuthHubURL: testHub, DefaultNextURL: testFallback})
	if err != nil {
		t.Fatalf("NewGuard() error = %v", err)
	}
	return g
}

func withIdentity(r *http.Request, userID, email string) *http.Request {
	ctx := middleware.ContextWithIdentity(r.Context(), &model.Identity{UserID: userID, Email: email, SessionID: "sess-1"})
	return r.WithContext(ctx)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response body %q: %v", w.Body.String(), err)
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	decodeBody(t, w, &body)
	return body
}
