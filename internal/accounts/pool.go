package accounts

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/haasonsaas/kirogate/internal/kiro"
)

// SelectionPolicy picks which active account serves the next request.
type SelectionPolicy string

const (
	// PolicyRoundRobin advances a monotonic index over the active set.
	PolicyRoundRobin SelectionPolicy = "round-robin"

	// PolicyRandom samples the active set uniformly.
	PolicyRandom SelectionPolicy = "random"

	// PolicyLeastUsed picks the active account with the fewest requests.
	PolicyLeastUsed SelectionPolicy = "least-used"
)

// DefaultCooldown is how long a rate-limited account stays parked before the
// deferred transition back to active fires.
const DefaultCooldown = 5 * time.Minute

// Persister receives roster snapshots after every mutation. Implementations
// must not block; the pool calls it while holding its lock.
type Persister interface {
	ScheduleSave(accounts []Account)
}

// PoolConfig configures a pool.
type PoolConfig struct {
	Policy   SelectionPolicy
	Cooldown time.Duration
}

// Pool owns the mutable account state. Selection, counter bumps, and status
// transitions all happen under one mutex so no two selectors observe the
// same round-robin index and error-driven transitions never race selection.
// I/O (token refresh, the upstream call) happens strictly after the lock is
// released, carrying only the selected account copy forward.
type Pool struct {
	mu       sync.Mutex
	accounts []*Account
	rrIndex  int

	// generation per account guards the cooldown one-shot: a transition
	// fires only if the status is still cooldown AND no newer cooldown was
	// scheduled meanwhile.
	cooldownGen map[string]uint64

	policy    SelectionPolicy
	cooldown  time.Duration
	persister Persister
	logger    *slog.Logger

	// timer hook, replaced in tests
	afterFunc func(d time.Duration, fn func()) *time.Timer
}

// NewPool creates a pool over the given accounts. The slice is copied; the
// pool becomes the sole owner of account state from here on.
func NewPool(list []Account, cfg PoolConfig, persister Persister, logger *slog.Logger) *Pool {
	if cfg.Policy == "" {
		cfg.Policy = PolicyRoundRobin
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		accounts:    make([]*Account, 0, len(list)),
		cooldownGen: make(map[string]uint64),
		policy:      cfg.Policy,
		cooldown:    cfg.Cooldown,
		persister:   persister,
		logger:      logger,
		afterFunc:   time.AfterFunc,
	}
	for i := range list {
		a := list[i]
		p.accounts = append(p.accounts, &a)
	}
	// Accounts persisted mid-cooldown come back parked; restart their timers
	// so they do not stay parked forever.
	for _, a := range p.accounts {
		if a.Status == StatusCooldown {
			p.scheduleCooldownLocked(a)
		}
	}
	return p
}

// Select picks an active account per the pool's policy, bumps its request
// counter, stamps lastUsedAt, and returns a copy. Fails with a
// no-account-available error when the active set is empty.
func (p *Pool) Select() (Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	active := make([]*Account, 0, len(p.accounts))
	for _, a := range p.accounts {
		if a.Selectable() {
			active = append(active, a)
		}
	}
	if len(active) == 0 {
		return Account{}, kiro.NewError(kiro.ErrNoAccountAvailable, "no active account in pool")
	}

	var chosen *Account
	switch p.policy {
	case PolicyRandom:
		chosen = active[rand.Intn(len(active))] // #nosec G404 -- selection does not require cryptographic randomness
	case PolicyLeastUsed:
		chosen = active[0]
		for _, a := range active[1:] {
			if a.RequestCount < chosen.RequestCount {
				chosen = a
			}
		}
	default:
		chosen = active[p.rrIndex%len(active)]
		p.rrIndex++
	}

	chosen.RequestCount++
	now := time.Now()
	chosen.LastUsedAt = &now
	p.schedulePersistLocked()
	return *chosen, nil
}

// RecordSuccess notes a completed request. Counters were already bumped on
// selection, so this only persists the updated lastUsedAt state.
func (p *Pool) RecordSuccess(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.findLocked(id) == nil {
		return
	}
	p.schedulePersistLocked()
}

// RecordError reports a failed request against an account. A throttled
// failure parks an active account in cooldown and arms the deferred
// transition back; any other failure only bumps the error counter.
func (p *Pool) RecordError(id string, throttled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.findLocked(id)
	if a == nil {
		return
	}
	a.ErrorCount++
	if throttled && a.Status == StatusActive {
		a.Status = StatusCooldown
		p.scheduleCooldownLocked(a)
		p.logger.Warn("account entering cooldown",
			"account", a.ID, "cooldown", p.cooldown.String())
	}
	p.schedulePersistLocked()
}

// MarkInvalid takes an account out of rotation after a persistent auth
// failure. Only an admin action brings it back.
func (p *Pool) MarkInvalid(id string) {
	p.setStatus(id, StatusInvalid)
}

// Disable switches an account off by admin action.
func (p *Pool) Disable(id string) {
	p.setStatus(id, StatusDisabled)
}

// Enable returns a disabled or invalid account to the active set.
func (p *Pool) Enable(id string) {
	p.setStatus(id, StatusActive)
}

func (p *Pool) setStatus(id string, status Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.findLocked(id)
	if a == nil || a.Status == status {
		return
	}
	// Bumping the generation suppresses any in-flight cooldown timer.
	p.cooldownGen[id]++
	a.Status = status
	p.logger.Info("account status changed", "account", id, "status", string(status))
	p.schedulePersistLocked()
}

// Add appends a new account to the roster.
func (p *Pool) Add(a Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a.Status == "" {
		a.Status = StatusActive
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	p.accounts = append(p.accounts, &a)
	p.schedulePersistLocked()
}

// Remove deletes an account from the roster. Returns false when the id is
// unknown.
func (p *Pool) Remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, a := range p.accounts {
		if a.ID == id {
			p.cooldownGen[id]++
			p.accounts = append(p.accounts[:i], p.accounts[i+1:]...)
			p.schedulePersistLocked()
			return true
		}
	}
	return false
}

// Get returns a copy of one account.
func (p *Pool) Get(id string) (Account, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a := p.findLocked(id); a != nil {
		return *a, true
	}
	return Account{}, false
}

// SetUsage stores a fresh usage snapshot on an account.
func (p *Pool) SetUsage(id string, usage UsageSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.findLocked(id)
	if a == nil {
		return
	}
	a.Usage = &usage
	p.schedulePersistLocked()
}

// SetCredential replaces an account's credential, typically after the token
// manager rotated the refresh token.
func (p *Pool) SetCredential(id string, cred Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.findLocked(id)
	if a == nil {
		return
	}
	a.Credential = cred
	p.schedulePersistLocked()
}

// Snapshot returns a copy of the whole roster in iteration order.
func (p *Pool) Snapshot() []Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// ActiveCount reports how many accounts are currently selectable.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, a := range p.accounts {
		if a.Selectable() {
			n++
		}
	}
	return n
}

// Len reports the roster size.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

// Reload merges an externally edited roster into the pool. File state wins
// for identity, credentials, and status; in-memory counters survive for
// accounts that are still present so a concurrent edit does not zero the
// telemetry.
func (p *Pool) Reload(list []Account) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := make(map[string]*Account, len(p.accounts))
	for _, a := range p.accounts {
		prev[a.ID] = a
	}
	next := make([]*Account, 0, len(list))
	for i := range list {
		a := list[i]
		if old, ok := prev[a.ID]; ok {
			a.RequestCount = old.RequestCount
			a.ErrorCount = old.ErrorCount
			a.LastUsedAt = old.LastUsedAt
			if old.Status != a.Status {
				p.cooldownGen[a.ID]++
			}
		}
		next = append(next, &a)
	}
	p.accounts = next
	for _, a := range p.accounts {
		if a.Status == StatusCooldown {
			p.scheduleCooldownLocked(a)
		}
	}
	p.logger.Info("roster reloaded", "accounts", len(next))
}

func (p *Pool) findLocked(id string) *Account {
	for _, a := range p.accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (p *Pool) snapshotLocked() []Account {
	out := make([]Account, len(p.accounts))
	for i, a := range p.accounts {
		out[i] = *a
	}
	return out
}

func (p *Pool) schedulePersistLocked() {
	if p.persister == nil {
		return
	}
	p.persister.ScheduleSave(p.snapshotLocked())
}

// scheduleCooldownLocked arms the one-shot that returns the account to
// active. The (id, generation) key makes the timer a no-op if the status
// changed before it fired.
func (p *Pool) scheduleCooldownLocked(a *Account) {
	p.cooldownGen[a.ID]++
	gen := p.cooldownGen[a.ID]
	id := a.ID
	p.afterFunc(p.cooldown, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		acct := p.findLocked(id)
		if acct == nil || p.cooldownGen[id] != gen || acct.Status != StatusCooldown {
			return
		}
		acct.Status = StatusActive
		p.logger.Info("account cooldown elapsed", "account", id)
		p.schedulePersistLocked()
	})
}
