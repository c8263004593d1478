package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/kirogate/internal/accounts"
)

// promptSecret reads a value without echoing it. Falls back to a plain line
// read when stdin is not a terminal (pipes in CI).
func promptSecret(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}
	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func loadRosterForEdit(configPath string) (*accounts.Roster, []accounts.Account, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	list, err := accounts.LoadRoster(cfg.Accounts.Path)
	if err != nil {
		return nil, nil, err
	}
	return accounts.NewRoster(cfg.Accounts.Path, nil), list, nil
}

func runAccountsList(cmd *cobra.Command, configPath string, asJSON bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	list, err := accounts.LoadRoster(cfg.Accounts.Path)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(redactRoster(list))
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No accounts in the roster.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tAUTH\tREQUESTS\tERRORS\tLAST USED")
	for _, a := range list {
		lastUsed := "-"
		if a.LastUsedAt != nil {
			lastUsed = a.LastUsedAt.Format(time.RFC3339)
		}
		auth := a.Credential.AuthMethod
		if auth == "" {
			auth = accounts.AuthSocial
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			a.ID, a.Name, a.Status, auth, a.RequestCount, a.ErrorCount, lastUsed)
	}
	return w.Flush()
}

// redactRoster strips credential material from JSON output.
func redactRoster(list []accounts.Account) []accounts.Account {
	out := make([]accounts.Account, len(list))
	for i, a := range list {
		a.Credential.AccessToken = ""
		a.Credential.RefreshToken = "[redacted]"
		a.Credential.ClientSecret = ""
		out[i] = a
	}
	return out
}

func runAccountsAdd(cmd *cobra.Command, configPath, name, authMethod, region, profileArn string) error {
	switch authMethod {
	case accounts.AuthSocial, accounts.AuthIdC:
	default:
		return fmt.Errorf("auth method %q is not social or idc", authMethod)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if region == "" {
		region = cfg.Upstream.Region
	}

	refreshToken, err := promptSecret("Refresh token")
	if err != nil {
		return err
	}
	if refreshToken == "" {
		return fmt.Errorf("refresh token is required")
	}
	cred := accounts.Credential{
		RefreshToken: refreshToken,
		AuthMethod:   authMethod,
		Region:       region,
		ProfileArn:   profileArn,
	}
	if authMethod == accounts.AuthIdC {
		if cred.ClientID, err = promptSecret("Client id"); err != nil {
			return err
		}
		if cred.ClientSecret, err = promptSecret("Client secret"); err != nil {
			return err
		}
		if cred.ClientID == "" || cred.ClientSecret == "" {
			return fmt.Errorf("idc accounts require a client id and secret")
		}
	}

	roster, list, err := loadRosterForEdit(configPath)
	if err != nil {
		return err
	}
	defer roster.Close()

	acct := accounts.Account{
		ID:         uuid.NewString(),
		Name:       name,
		Credential: cred,
		Status:     accounts.StatusActive,
		CreatedAt:  time.Now().UTC(),
	}
	if acct.Name == "" {
		acct.Name = "account-" + acct.ID[:8]
	}
	list = append(list, acct)
	if err := roster.Save(list); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Account added: %s (%s)\n", acct.Name, acct.ID)
	return nil
}

func runAccountsSetStatus(cmd *cobra.Command, configPath, id, status string) error {
	roster, list, err := loadRosterForEdit(configPath)
	if err != nil {
		return err
	}
	defer roster.Close()

	found := false
	for i := range list {
		if list[i].ID == id || list[i].Name == id {
			list[i].Status = accounts.Status(status)
			id = list[i].ID
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("account not found: %s", id)
	}
	if err := roster.Save(list); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Account %s is now %s\n", id, status)
	return nil
}

func runAccountsRemove(cmd *cobra.Command, configPath, id string) error {
	roster, list, err := loadRosterForEdit(configPath)
	if err != nil {
		return err
	}
	defer roster.Close()

	kept := list[:0]
	removed := false
	for _, a := range list {
		if a.ID == id || a.Name == id {
			removed = true
			continue
		}
		kept = append(kept, a)
	}
	if !removed {
		return fmt.Errorf("account not found: %s", id)
	}
	if err := roster.Save(kept); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Account removed: %s\n", id)
	return nil
}
