package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/voter-gate/internal/config"
	"github.com/kozaktomas/voter-gate/internal/identity"
)

var votersCmd = &cobra.Command{
	Use:   "voters",
	Short: "Inspect the voter registry",
}

var votersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled voters",
	Long: `List enrolled voters. Identifiers are redacted: identity keys are
shortened and secondary identifiers masked. Embeddings are never shown.`,
	RunE: runVotersList,
}

var votersKeyCmd = &cobra.Command{
	Use:   "key",
	Short: "Print the identity key of an identifier pair",
	Long: `Print the full identity key for an identifier pair. The key is what the
registry stores and what GET /api/v1/voters/{identity} expects. Only
IDENTITY_PEPPER is needed, no backend is contacted.

Example:
  voter-gate voters key --primary VOTER-123456 --secondary 12345678901`,
	RunE: runVotersKey,
}

func init() {
	rootCmd.AddCommand(votersCmd)
	votersCmd.AddCommand(votersListCmd)
	votersCmd.AddCommand(votersKeyCmd)

	votersListCmd.Flags().Bool("json", false, "Output as JSON")

	votersKeyCmd.Flags().String("primary", "", "Primary identifier (voter ID)")
	votersKeyCmd.Flags().String("secondary", "", "Secondary identifier (national ID)")
}

func runVotersList(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.registry.List(ctx)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(list)
	}
	if len(list) == 0 {
		fmt.Println("No voters enrolled.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tVOTER ID\tNATIONAL ID\tMODEL\tREFS\tREGISTERED")
	for _, v := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			v.IdentityKey, v.MaskedIdentifier, v.SecondaryIdentifier, v.Model,
			v.ReferenceCount, v.RegisteredAt.Format("2006-01-02 15:04"))
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing table: %w", err)
	}
	fmt.Printf("\n%d voters\n", len(list))
	return nil
}

func runVotersKey(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.Identity.Pepper == "" {
		return fmt.Errorf("IDENTITY_PEPPER is required")
	}
	key, err := identity.NewDeriver(cfg.Identity.Pepper).Key(mustGetString(cmd, "primary"), mustGetString(cmd, "secondary"))
	if err != nil {
		return err
	}
	fmt.Println(key)
	return nil
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}
