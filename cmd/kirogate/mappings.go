package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/kirogate/internal/store"
)

func openStoreFromConfig(configPath string) (store.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return openStore(cfg)
}

func runMappingsList(cmd *cobra.Command, configPath string, asJSON bool) error {
	st, err := openStoreFromConfig(configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	rules, err := st.ListMappings(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rules)
	}
	if len(rules) == 0 {
		fmt.Fprintln(out, "No mapping rules; the built-in sonnet/opus/haiku fallback applies.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATTERN\tINTERNAL ID\tMATCH\tPRIORITY\tENABLED")
	for _, r := range rules {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\n",
			r.Pattern, r.InternalID, r.MatchType, r.Priority, r.Enabled)
	}
	return w.Flush()
}

func runMappingsAdd(cmd *cobra.Command, configPath, pattern, internalID, matchType string, priority int, enabled bool) error {
	st, err := openStoreFromConfig(configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	rule := store.Mapping{
		Pattern:    pattern,
		InternalID: internalID,
		MatchType:  matchType,
		Priority:   priority,
		Enabled:    enabled,
	}
	if err := st.PutMapping(cmd.Context(), rule); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Mapping rule saved: %s -> %s (%s, priority %d)\n",
		pattern, internalID, matchType, priority)
	return nil
}

func runMappingsRemove(cmd *cobra.Command, configPath, pattern string) error {
	st, err := openStoreFromConfig(configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.DeleteMapping(cmd.Context(), pattern); err != nil {
		if err == store.ErrNotFound {
			return fmt.Errorf("no mapping rule with pattern %q", pattern)
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Mapping rule removed: %s\n", pattern)
	return nil
}
