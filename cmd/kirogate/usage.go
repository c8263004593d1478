package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/kirogate/internal/accounts"
	"github.com/haasonsaas/kirogate/internal/auth"
	"github.com/haasonsaas/kirogate/internal/usage"
)

// usageReport is one row of "kirogate usage" output.
type usageReport struct {
	AccountID   string          `json:"account_id"`
	AccountName string          `json:"account_name"`
	Status      accounts.Status `json:"status"`
	Error       string          `json:"error,omitempty"`
	Snapshot    *usage.Snapshot `json:"snapshot,omitempty"`
}

func runUsage(cmd *cobra.Command, configPath, accountID string, asJSON bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	list, err := accounts.LoadRoster(cfg.Accounts.Path)
	if err != nil {
		return err
	}

	quiet := slog.New(slog.DiscardHandler)
	tokens := auth.NewManager(
		auth.NewSocialClient(nil),
		auth.NewIdCClient(),
		nil,
		auth.ManagerConfig{
			RefreshMargin: cfg.Auth.RefreshMargin,
			MaxAttempts:   cfg.Auth.RetryAttempts,
		},
		quiet,
	)
	probe := usage.NewProbe(nil, cfg.Upstream.Region)

	var reports []usageReport
	for _, acct := range list {
		if accountID != "" && acct.ID != accountID && acct.Name != accountID {
			continue
		}
		rep := usageReport{AccountID: acct.ID, AccountName: acct.Name, Status: acct.Status}
		if acct.Status == accounts.StatusInvalid {
			rep.Error = "credentials marked invalid"
			reports = append(reports, rep)
			continue
		}
		tok, err := tokens.EnsureValidToken(cmd.Context(), acct)
		if err != nil {
			rep.Error = err.Error()
			reports = append(reports, rep)
			continue
		}
		snap, err := probe.CheckUsageLimits(cmd.Context(), tok.Access)
		if err != nil {
			rep.Error = err.Error()
		} else {
			rep.Snapshot = snap
		}
		reports = append(reports, rep)
	}
	if accountID != "" && len(reports) == 0 {
		return fmt.Errorf("account not found: %s", accountID)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}
	if len(reports) == 0 {
		fmt.Fprintln(out, "No accounts in the roster.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tSTATUS\tUSED\tLIMIT\tAVAILABLE\tRESET")
	for _, rep := range reports {
		if rep.Snapshot == nil {
			fmt.Fprintf(w, "%s\t%s\terror: %s\t\t\t\n", rep.AccountName, rep.Status, rep.Error)
			continue
		}
		reset := "-"
		if rep.Snapshot.NextReset != nil {
			reset = rep.Snapshot.NextReset.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%.0f\t%.0f\t%t\t%s\n",
			rep.AccountName, rep.Status,
			rep.Snapshot.CurrentUsage, rep.Snapshot.UsageLimit,
			rep.Snapshot.Available, reset)
	}
	return w.Flush()
}
