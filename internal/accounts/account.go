// Package accounts maintains the roster of upstream Kiro credentials: the
// per-account status machine, the selection policies the dispatcher draws
// from, and the JSON-file persistence of the roster.
package accounts

import (
	"time"
)

// Status is the lifecycle state of one account.
type Status string

const (
	// StatusActive means the account is eligible for selection.
	StatusActive Status = "active"

	// StatusCooldown means the account was rate-limited and is parked until
	// the cooldown interval elapses.
	StatusCooldown Status = "cooldown"

	// StatusInvalid means the account's credentials failed persistently and
	// an admin must re-authenticate it. Never selected.
	StatusInvalid Status = "invalid"

	// StatusDisabled means an admin switched the account off.
	StatusDisabled Status = "disabled"
)

// Auth methods carried by a credential.
const (
	AuthSocial = "social"
	AuthIdC    = "idc"
)

// Credential is the opaque refresh material for one account. The token
// manager owns its interpretation; the pool only stores it.
type Credential struct {
	AccessToken  string     `json:"accessToken,omitempty"`
	RefreshToken string     `json:"refreshToken"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	AuthMethod   string     `json:"authMethod,omitempty"`
	Region       string     `json:"region,omitempty"`
	MachineID    string     `json:"machineId,omitempty"`
	ProfileArn   string     `json:"profileArn,omitempty"`
	ClientID     string     `json:"clientId,omitempty"`
	ClientSecret string     `json:"clientSecret,omitempty"`
}

// UsageSnapshot is the last quota reading the usage probe took for an
// account.
type UsageSnapshot struct {
	UsageLimit       float64    `json:"usageLimit"`
	CurrentUsage     float64    `json:"currentUsage"`
	Available        bool       `json:"available"`
	UserEmail        string     `json:"userEmail,omitempty"`
	SubscriptionType string     `json:"subscriptionType,omitempty"`
	NextReset        *time.Time `json:"nextReset,omitempty"`
	CheckedAt        time.Time  `json:"checkedAt"`
}

// Account is one upstream credential plus its pool bookkeeping. Mutated only
// by the pool; everything handed out of the pool is a copy.
type Account struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Credential   Credential     `json:"credentials"`
	Status       Status         `json:"status"`
	RequestCount int64          `json:"requestCount"`
	ErrorCount   int64          `json:"errorCount"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastUsedAt   *time.Time     `json:"lastUsedAt,omitempty"`
	Usage        *UsageSnapshot `json:"usage,omitempty"`
}

// Selectable reports whether the account may be handed to the dispatcher.
func (a *Account) Selectable() bool {
	return a.Status == StatusActive
}
