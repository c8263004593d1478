package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/kirogate/internal/accounts"
	"github.com/haasonsaas/kirogate/internal/auth"
)

// DefaultSchedule is the sweep cadence when the config leaves it unset.
const DefaultSchedule = "@every 6h"

// Sweeper refreshes the usage snapshot of every usable account on a cron
// schedule.
type Sweeper struct {
	probe  *Probe
	pool   *accounts.Pool
	tokens auth.Provider
	logger *slog.Logger
	cron   *cron.Cron
}

// NewSweeper creates a sweeper; call Start to arm the schedule.
func NewSweeper(probe *Probe, pool *accounts.Pool, tokens auth.Provider, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		probe:  probe,
		pool:   pool,
		tokens: tokens,
		logger: logger,
		cron:   cron.New(),
	}
}

// Start schedules the sweep. The schedule accepts the cron spec format,
// including @every descriptors.
func (s *Sweeper) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		s.SweepOnce(ctx)
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("usage sweep scheduled", "schedule", schedule)
	return nil
}

// Stop cancels the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// SweepOnce probes every account that is not invalid and stores the fresh
// snapshots in the pool. Failures are logged per account and do not stop
// the sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	for _, acct := range s.pool.Snapshot() {
		if acct.Status == accounts.StatusInvalid {
			continue
		}
		if err := s.sweepAccount(ctx, acct); err != nil {
			s.logger.Warn("usage probe failed", "account", acct.ID, "error", err)
		}
	}
}

func (s *Sweeper) sweepAccount(ctx context.Context, acct accounts.Account) error {
	tok, err := s.tokens.EnsureValidToken(ctx, acct)
	if err != nil {
		return err
	}
	snap, err := s.probe.CheckUsageLimits(ctx, tok.Access)
	if err != nil {
		return err
	}
	s.pool.SetUsage(acct.ID, snap.AccountSnapshot())
	s.logger.Debug("usage snapshot updated",
		"account", acct.ID,
		"current", snap.CurrentUsage,
		"limit", snap.UsageLimit,
		"available", snap.Available,
	)
	return nil
}
