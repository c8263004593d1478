// Package usage probes the upstream quota endpoint and keeps the roster's
// usage snapshots fresh on a cron schedule.
package usage

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
)

const usageLimitsURLFormat = "https://q.%s.amazonaws.com/getUsageLimits"

// Snapshot is one quota reading for a token.
type Snapshot struct {
	UsageLimit       float64    `json:"usageLimit"`
	CurrentUsage     float64    `json:"currentUsage"`
	Available        bool       `json:"available"`
	UserEmail        string     `json:"userEmail,omitempty"`
	SubscriptionType string     `json:"subscriptionType,omitempty"`
	NextReset        *time.Time `json:"nextReset,omitempty"`
}

// Probe checks usage limits against the upstream quota endpoint.
type Probe struct {
	httpClient *http.Client
	region     string

	// baseURL overrides the per-region endpoint, for tests.
	baseURL string
}

// NewProbe creates a usage probe for the given region. httpClient may be
// nil; region defaults to us-east-1.
func NewProbe(httpClient *http.Client, region string) *Probe {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if region == "" {
		region = "us-east-1"
	}
	return &Probe{httpClient: httpClient, region: region}
}

type usageLimitsResponse struct {
	UsageLimit       float64 `json:"usageLimit"`
	CurrentUsage     float64 `json:"currentUsage"`
	Available        bool    `json:"available"`
	UserEmail        string  `json:"userEmail"`
	SubscriptionType string  `json:"subscriptionType"`
	NextReset        string  `json:"nextReset"`
}

// CheckUsageLimits fetches the quota snapshot for a bearer token.
func (p *Probe) CheckUsageLimits(ctx context.Context, token string) (*Snapshot, error) {
	body, err := json.Marshal(struct{}{})
	if err != nil {
		return nil, fmt.Errorf("marshal usage request: %w", err)
	}
	endpoint := p.baseURL
	if endpoint == "" {
		endpoint = fmt.Sprintf(usageLimitsURLFormat, p.region)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create usage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch usage limits: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("usage limits API error %d: %s",
			resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var payload usageLimitsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode usage limits: %w", err)
	}

	snap := &Snapshot{
		UsageLimit:       payload.UsageLimit,
		CurrentUsage:     payload.CurrentUsage,
		Available:        payload.Available,
		UserEmail:        payload.UserEmail,
		SubscriptionType: payload.SubscriptionType,
	}
	if payload.NextReset != "" {
		if reset, err := time.Parse(time.RFC3339, payload.NextReset); err == nil {
			snap.NextReset = &reset
		}
	}
	return snap, nil
}

// AccountSnapshot converts a probe snapshot to the roster's form.
func (s *Snapshot) AccountSnapshot() accounts.UsageSnapshot {
	return accounts.UsageSnapshot{
		UsageLimit:       s.UsageLimit,
		CurrentUsage:     s.CurrentUsage,
		Available:        s.Available,
		UserEmail:        s.UserEmail,
		SubscriptionType: s.SubscriptionType,
		NextReset:        s.NextReset,
		CheckedAt:        time.Now(),
	}
}
