package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/kirogate/internal/accounts"
	"github.com/haasonsaas/kirogate/internal/backoff"
	"github.com/haasonsaas/kirogate/internal/kiro"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func fastManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxAttempts: 3,
		Policy:      backoff.Policy{InitialMs: 1, MaxMs: 2, Factor: 1, Jitter: 0},
	}
}

// unsignedJWT builds a structurally valid JWT with the given exp claim.
func unsignedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	enc := func(v any) string {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal jwt part: %v", err)
		}
		return base64.RawURLEncoding.EncodeToString(data)
	}
	header := enc(map[string]string{"alg": "none", "typ": "JWT"})
	claims := enc(map[string]any{"exp": exp.Unix(), "sub": "test"})
	return header + "." + claims + ".sig"
}

func TestJWTExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, ok := jwtExpiry(unsignedJWT(t, exp))
	if !ok {
		t.Fatal("jwtExpiry() failed on valid token")
	}
	if !got.Equal(exp) {
		t.Errorf("exp = %v, want %v", got, exp)
	}

	if _, ok := jwtExpiry("not-a-jwt"); ok {
		t.Error("jwtExpiry() succeeded on garbage")
	}
}

func TestSocialRefresh(t *testing.T) {
	var gotBody socialRefreshRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(socialRefreshResponse{
			AccessToken:  "fresh-access",
			RefreshToken: "rotated-refresh",
			ExpiresIn:    3600,
		})
	}))
	defer server.Close()

	client := NewSocialClient(server.Client())
	client.baseURL = server.URL

	tok, cred, err := client.Refresh(context.Background(), accounts.Credential{RefreshToken: "old-refresh"})
	if err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	if gotBody.RefreshToken != "old-refresh" {
		t.Errorf("request carried refreshToken %q, want old-refresh", gotBody.RefreshToken)
	}
	if tok.Access != "fresh-access" {
		t.Errorf("access token = %q", tok.Access)
	}
	if tok.ExpiresAt.Before(time.Now().Add(55 * time.Minute)) {
		t.Errorf("expiry %v not derived from expiresIn", tok.ExpiresAt)
	}
	if cred.RefreshToken != "rotated-refresh" {
		t.Errorf("rotated refresh token not kept: %q", cred.RefreshToken)
	}
	if cred.AccessToken != "fresh-access" || cred.ExpiresAt == nil {
		t.Errorf("credential not updated: %+v", cred)
	}
}

func TestSocialRefreshRejectedIsPersistent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewSocialClient(server.Client())
	client.baseURL = server.URL

	_, _, err := client.Refresh(context.Background(), accounts.Credential{RefreshToken: "revoked"})
	ge, ok := kiro.AsGatewayError(err)
	if !ok {
		t.Fatalf("error = %v, want GatewayError", err)
	}
	if ge.Kind != kiro.ErrTokenError {
		t.Errorf("kind = %q, want token_error", ge.Kind)
	}
	if !ge.Persistent {
		t.Error("4xx refresh rejection must be persistent")
	}
}

func TestManagerUsesStoredAccessToken(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	acct := accounts.Account{
		ID: "a",
		Credential: accounts.Credential{
			AccessToken:  "stored",
			RefreshToken: "rt",
			ExpiresAt:    &exp,
		},
	}
	// No backends configured: any refresh attempt would fail loudly.
	m := NewManager(nil, nil, nil, fastManagerConfig(), discardLogger())

	tok, err := m.EnsureValidToken(context.Background(), acct)
	if err != nil {
		t.Fatalf("EnsureValidToken() error: %v", err)
	}
	if tok.Access != "stored" {
		t.Errorf("access = %q, want the still-valid stored token", tok.Access)
	}
}

func TestManagerRefreshesAndCaches(t *testing.T) {
	var calls int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		json.NewEncoder(w).Encode(socialRefreshResponse{
			AccessToken: fmt.Sprintf("access-%d", n),
			ExpiresIn:   3600,
		})
	}))
	defer server.Close()

	social := NewSocialClient(server.Client())
	social.baseURL = server.URL

	store := &fakeStore{}
	m := NewManager(social, nil, store, fastManagerConfig(), discardLogger())

	acct := accounts.Account{ID: "a", Credential: accounts.Credential{RefreshToken: "rt"}}

	tok, err := m.EnsureValidToken(context.Background(), acct)
	if err != nil {
		t.Fatalf("EnsureValidToken() error: %v", err)
	}
	if tok.Access != "access-1" {
		t.Errorf("access = %q, want access-1", tok.Access)
	}

	// Second call must come from the cache.
	tok2, err := m.EnsureValidToken(context.Background(), acct)
	if err != nil {
		t.Fatalf("EnsureValidToken() second call error: %v", err)
	}
	if tok2.Access != "access-1" {
		t.Errorf("cached access = %q, want access-1", tok2.Access)
	}
	mu.Lock()
	if calls != 1 {
		t.Errorf("refresh calls = %d, want 1", calls)
	}
	mu.Unlock()

	if store.id != "a" || store.cred.AccessToken != "access-1" {
		t.Errorf("rotated credential not persisted: id=%q cred=%+v", store.id, store.cred)
	}
}

func TestManagerRetriesTransientFailures(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(socialRefreshResponse{AccessToken: "finally", ExpiresIn: 3600})
	}))
	defer server.Close()

	social := NewSocialClient(server.Client())
	social.baseURL = server.URL
	m := NewManager(social, nil, nil, fastManagerConfig(), discardLogger())

	tok, err := m.EnsureValidToken(context.Background(),
		accounts.Account{ID: "a", Credential: accounts.Credential{RefreshToken: "rt"}})
	if err != nil {
		t.Fatalf("EnsureValidToken() error: %v", err)
	}
	if tok.Access != "finally" {
		t.Errorf("access = %q", tok.Access)
	}
	if calls != 3 {
		t.Errorf("refresh calls = %d, want 3 (two transient failures retried)", calls)
	}
}

func TestManagerStopsOnPersistentFailure(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "invalid_grant", http.StatusBadRequest)
	}))
	defer server.Close()

	social := NewSocialClient(server.Client())
	social.baseURL = server.URL
	m := NewManager(social, nil, nil, fastManagerConfig(), discardLogger())

	_, err := m.EnsureValidToken(context.Background(),
		accounts.Account{ID: "a", Credential: accounts.Credential{RefreshToken: "rt"}})
	ge, ok := kiro.AsGatewayError(err)
	if !ok || !ge.Persistent {
		t.Fatalf("error = %v, want persistent token error", err)
	}
	if ge.AccountID != "a" {
		t.Errorf("AccountID = %q, want a", ge.AccountID)
	}
	if calls != 1 {
		t.Errorf("refresh calls = %d, want 1 (persistent failures must not retry)", calls)
	}
}

type fakeStore struct {
	mu   sync.Mutex
	id   string
	cred accounts.Credential
}

func (s *fakeStore) SetCredential(id string, cred accounts.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	s.cred = cred
}
