package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/kirogate/internal/accounts"
	"github.com/haasonsaas/kirogate/internal/kiro"
)

// DefaultRegion is used when a credential carries no region.
const DefaultRegion = "us-east-1"

const socialRefreshURLFormat = "https://prod.%s.auth.desktop.kiro.dev/refreshToken"

// SocialClient refreshes tokens issued by the Kiro desktop social login
// flow.
type SocialClient struct {
	httpClient *http.Client

	// baseURL overrides the per-region endpoint, for tests.
	baseURL string
}

// NewSocialClient creates a social refresh client. httpClient may be nil.
func NewSocialClient(httpClient *http.Client) *SocialClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &SocialClient{httpClient: httpClient}
}

type socialRefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type socialRefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// Refresh exchanges the credential's refresh token for a fresh access
// token. The auth service may rotate the refresh token; the returned
// credential carries whichever one is current.
func (c *SocialClient) Refresh(ctx context.Context, cred accounts.Credential) (Token, accounts.Credential, error) {
	if cred.RefreshToken == "" {
		return Token{}, cred, kiro.NewError(kiro.ErrTokenError, "credential has no refresh token").AsPersistent()
	}

	body, err := json.Marshal(socialRefreshRequest{RefreshToken: cred.RefreshToken})
	if err != nil {
		return Token{}, cred, fmt.Errorf("marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(cred), bytes.NewReader(body))
	if err != nil {
		return Token{}, cred, fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Token{}, cred, kiro.NewError(kiro.ErrTokenError, "social refresh request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		ge := kiro.Errorf(kiro.ErrTokenError, "social refresh rejected: %s",
			strings.TrimSpace(string(detail))).WithStatus(resp.StatusCode)
		// 4xx means the refresh token itself is bad; retrying cannot help.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			ge.AsPersistent()
		}
		return Token{}, cred, ge
	}

	var payload socialRefreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Token{}, cred, kiro.NewError(kiro.ErrTokenError, "decode social refresh response").WithCause(err)
	}
	if payload.AccessToken == "" {
		return Token{}, cred, kiro.NewError(kiro.ErrTokenError, "social refresh returned no access token").AsPersistent()
	}

	tok := Token{Access: payload.AccessToken}
	if payload.ExpiresIn > 0 {
		tok.ExpiresAt = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	} else if exp, ok := jwtExpiry(payload.AccessToken); ok {
		tok.ExpiresAt = exp
	}

	cred.AccessToken = payload.AccessToken
	if payload.RefreshToken != "" {
		cred.RefreshToken = payload.RefreshToken
	}
	if !tok.ExpiresAt.IsZero() {
		expires := tok.ExpiresAt
		cred.ExpiresAt = &expires
	}
	return tok, cred, nil
}

func (c *SocialClient) endpoint(cred accounts.Credential) string {
	if c.baseURL != "" {
		return c.baseURL
	}
	region := cred.Region
	if region == "" {
		region = DefaultRegion
	}
	return fmt.Sprintf(socialRefreshURLFormat, region)
}
