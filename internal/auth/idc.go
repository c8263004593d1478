package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssooidc"
	"github.com/aws/smithy-go"

	"github.com/haasonsaas/kirogate/internal/accounts"
	"github.com/haasonsaas/kirogate/internal/kiro"
)

// createTokenAPI is the slice of the SSO OIDC client the refresher uses.
type createTokenAPI interface {
	CreateToken(ctx context.Context, params *ssooidc.CreateTokenInput, optFns ...func(*ssooidc.Options)) (*ssooidc.CreateTokenOutput, error)
}

// IdCClient refreshes tokens issued through AWS IAM Identity Center using
// the SSO OIDC CreateToken API. The API is unsigned, so the client runs on
// anonymous credentials; only the region varies per credential.
type IdCClient struct {
	mu      sync.Mutex
	clients map[string]createTokenAPI

	// newClient builds the per-region API client, replaced in tests.
	newClient func(ctx context.Context, region string) (createTokenAPI, error)
}

// NewIdCClient creates an Identity Center refresh client.
func NewIdCClient() *IdCClient {
	c := &IdCClient{
		clients: make(map[string]createTokenAPI),
	}
	c.newClient = func(ctx context.Context, region string) (createTokenAPI, error) {
		cfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}),
		)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return ssooidc.NewFromConfig(cfg), nil
	}
	return c
}

// Refresh exchanges the credential's Identity Center refresh token for a
// fresh access token.
func (c *IdCClient) Refresh(ctx context.Context, cred accounts.Credential) (Token, accounts.Credential, error) {
	if cred.RefreshToken == "" || cred.ClientID == "" || cred.ClientSecret == "" {
		return Token{}, cred, kiro.NewError(kiro.ErrTokenError,
			"idc credential needs refreshToken, clientId and clientSecret").AsPersistent()
	}

	region := cred.Region
	if region == "" {
		region = DefaultRegion
	}
	client, err := c.clientFor(ctx, region)
	if err != nil {
		return Token{}, cred, kiro.NewError(kiro.ErrTokenError, "build sso oidc client").WithCause(err)
	}

	out, err := client.CreateToken(ctx, &ssooidc.CreateTokenInput{
		ClientId:     aws.String(cred.ClientID),
		ClientSecret: aws.String(cred.ClientSecret),
		GrantType:    aws.String("refresh_token"),
		RefreshToken: aws.String(cred.RefreshToken),
	})
	if err != nil {
		ge := kiro.NewError(kiro.ErrTokenError, "idc token refresh failed").WithCause(err)
		if isPersistentOIDCError(err) {
			ge.AsPersistent()
		}
		return Token{}, cred, ge
	}

	access := aws.ToString(out.AccessToken)
	if access == "" {
		return Token{}, cred, kiro.NewError(kiro.ErrTokenError, "idc refresh returned no access token").AsPersistent()
	}

	tok := Token{Access: access}
	if out.ExpiresIn > 0 {
		tok.ExpiresAt = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
	}

	cred.AccessToken = access
	if rotated := aws.ToString(out.RefreshToken); rotated != "" {
		cred.RefreshToken = rotated
	}
	if !tok.ExpiresAt.IsZero() {
		expires := tok.ExpiresAt
		cred.ExpiresAt = &expires
	}
	return tok, cred, nil
}

func (c *IdCClient) clientFor(ctx context.Context, region string) (createTokenAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[region]; ok {
		return client, nil
	}
	client, err := c.newClient(ctx, region)
	if err != nil {
		return nil, err
	}
	c.clients[region] = client
	return client, nil
}

// isPersistentOIDCError reports whether the OIDC failure will not heal by
// retrying: a bad grant or an expired/revoked client registration.
func isPersistentOIDCError(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "InvalidGrantException", "InvalidClientException", "ExpiredTokenException",
		"UnauthorizedClientException", "AccessDeniedException", "InvalidRequestException":
		return true
	}
	return false
}
