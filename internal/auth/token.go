// Package auth produces valid bearer tokens for pool accounts, refreshing
// them against the Kiro social auth service or AWS IAM Identity Center
// depending on the credential's auth method.
package auth

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/kirogate/internal/accounts"
	"github.com/haasonsaas/kirogate/internal/backoff"
	"github.com/haasonsaas/kirogate/internal/kiro"
)

// DefaultRefreshMargin is how close to expiry a cached token may get before
// the manager refreshes it.
const DefaultRefreshMargin = 5 * time.Minute

// Token is one valid bearer token.
type Token struct {
	Access    string
	ExpiresAt time.Time
}

// Valid reports whether the token is still usable given the margin.
func (t Token) Valid(margin time.Duration) bool {
	if t.Access == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return time.Until(t.ExpiresAt) > margin
}

// Provider hands out a valid bearer token for an account.
type Provider interface {
	EnsureValidToken(ctx context.Context, acct accounts.Account) (Token, error)
}

// CredentialStore receives rotated credentials so they survive restarts.
// The account pool implements it.
type CredentialStore interface {
	SetCredential(id string, cred accounts.Credential)
}

// RefreshRecorder counts refresh outcomes, by auth method and status.
type RefreshRecorder interface {
	RecordTokenRefresh(method, status string)
}

// refresher is one auth-method backend. persistent failures mean the
// credential will not heal by retrying.
type refresher interface {
	Refresh(ctx context.Context, cred accounts.Credential) (Token, accounts.Credential, error)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	RefreshMargin time.Duration
	MaxAttempts   int
	Policy        backoff.Policy
}

// Manager caches tokens per account and refreshes them on demand. Refresh
// runs outside any pool lock; concurrent requests for the same account
// coalesce on a per-account flight lock so the auth service sees one
// refresh, not a stampede.
type Manager struct {
	social   *SocialClient
	idc      *IdCClient
	store    CredentialStore
	recorder RefreshRecorder
	logger   *slog.Logger

	margin      time.Duration
	maxAttempts int
	policy      backoff.Policy

	mu     sync.Mutex
	cache  map[string]Token
	flight map[string]*sync.Mutex
}

// NewManager creates a token manager. store may be nil, in which case
// rotated refresh tokens are kept in memory only.
func NewManager(social *SocialClient, idc *IdCClient, store CredentialStore, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = DefaultRefreshMargin
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Policy == (backoff.Policy{}) {
		cfg.Policy = backoff.RefreshPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		social:      social,
		idc:         idc,
		store:       store,
		logger:      logger,
		margin:      cfg.RefreshMargin,
		maxAttempts: cfg.MaxAttempts,
		policy:      cfg.Policy,
		cache:       make(map[string]Token),
		flight:      make(map[string]*sync.Mutex),
	}
}

// EnsureValidToken returns a bearer token for the account, refreshing if the
// cached one is missing or within the refresh margin of expiry. Transient
// refresh failures are retried with backoff; persistent ones come back as a
// token error marked persistent, which the dispatcher turns into an invalid
// account.
func (m *Manager) EnsureValidToken(ctx context.Context, acct accounts.Account) (Token, error) {
	if tok, ok := m.cached(acct.ID); ok {
		return tok, nil
	}

	lock := m.flightLock(acct.ID)
	lock.Lock()
	defer lock.Unlock()

	// Another request may have refreshed while we waited.
	if tok, ok := m.cached(acct.ID); ok {
		return tok, nil
	}

	// The stored access token may still be fresh enough; no refresh needed.
	if tok := tokenFromCredential(acct.Credential); tok.Valid(m.margin) {
		m.setCached(acct.ID, tok)
		return tok, nil
	}

	ref, err := m.refresherFor(acct.Credential)
	if err != nil {
		return Token{}, err
	}

	type refreshed struct {
		tok  Token
		cred accounts.Credential
	}
	result, err := backoff.Retry(ctx, m.policy, m.maxAttempts, isPersistentTokenError,
		func(attempt int) (refreshed, error) {
			if attempt > 1 {
				m.logger.Debug("retrying token refresh", "account", acct.ID, "attempt", attempt)
			}
			tok, cred, err := ref.Refresh(ctx, acct.Credential)
			return refreshed{tok, cred}, err
		})
	if err != nil {
		m.recordRefresh(acct.Credential.AuthMethod, "failure")
		if ge, ok := kiro.AsGatewayError(err); ok {
			return Token{}, ge.WithAccount(acct.ID)
		}
		return Token{}, kiro.NewError(kiro.ErrTokenError, "token refresh failed").
			WithAccount(acct.ID).WithCause(err)
	}

	m.recordRefresh(acct.Credential.AuthMethod, "success")
	m.setCached(acct.ID, result.tok)
	if m.store != nil {
		m.store.SetCredential(acct.ID, result.cred)
	}
	m.logger.Info("token refreshed",
		"account", acct.ID,
		"method", acct.Credential.AuthMethod,
		"expires_at", result.tok.ExpiresAt.Format(time.RFC3339),
	)
	return result.tok, nil
}

// SetRecorder attaches a refresh-outcome counter. Must be called before the
// manager serves requests.
func (m *Manager) SetRecorder(rec RefreshRecorder) {
	m.recorder = rec
}

func (m *Manager) recordRefresh(method, status string) {
	if m.recorder == nil {
		return
	}
	if method == "" {
		method = accounts.AuthSocial
	}
	m.recorder.RecordTokenRefresh(method, status)
}

// Invalidate drops the cached token for an account, forcing a refresh on
// the next request.
func (m *Manager) Invalidate(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, id)
}

func (m *Manager) refresherFor(cred accounts.Credential) (refresher, error) {
	switch strings.ToLower(cred.AuthMethod) {
	case accounts.AuthIdC:
		if m.idc == nil {
			return nil, kiro.NewError(kiro.ErrTokenError, "idc refresh not configured").AsPersistent()
		}
		return m.idc, nil
	default:
		if m.social == nil {
			return nil, kiro.NewError(kiro.ErrTokenError, "social refresh not configured").AsPersistent()
		}
		return m.social, nil
	}
}

func (m *Manager) cached(id string) (Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.cache[id]
	if !ok || !tok.Valid(m.margin) {
		return Token{}, false
	}
	return tok, true
}

func (m *Manager) setCached(id string, tok Token) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[id] = tok
}

func (m *Manager) flightLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.flight[id]
	if !ok {
		lock = &sync.Mutex{}
		m.flight[id] = lock
	}
	return lock
}

// tokenFromCredential builds a token from a credential's stored access
// token, recovering a missing expiry from the JWT exp claim.
func tokenFromCredential(cred accounts.Credential) Token {
	if cred.AccessToken == "" {
		return Token{}
	}
	tok := Token{Access: cred.AccessToken}
	if cred.ExpiresAt != nil {
		tok.ExpiresAt = *cred.ExpiresAt
	} else if exp, ok := jwtExpiry(cred.AccessToken); ok {
		tok.ExpiresAt = exp
	}
	return tok
}

func isPersistentTokenError(err error) bool {
	if ge, ok := kiro.AsGatewayError(err); ok {
		return ge.Persistent
	}
	return false
}
