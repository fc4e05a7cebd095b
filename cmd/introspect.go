package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/lockplane/metamigrate/database"
	"github.com/lockplane/metamigrate/internal/instance"
	"github.com/lockplane/metamigrate/internal/migration"
	"github.com/lockplane/metamigrate/internal/storage"
)

var introspectDomain string

func init() {
	rootCmd.AddCommand(introspectCmd)
	introspectCmd.Flags().StringVar(&introspectDomain, "domain", "", "Storage domain: runs, event_logs or schedules (required)")
	_ = introspectCmd.MarkFlagRequired("domain")
}

var introspectCmd = &cobra.Command{
	Use:   "introspect",
	Short: "Print the live schema of one storage domain as JSON",
	Example: `  # Dump the run storage tables
  metamigrate introspect --domain runs > runs.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		domain, err := storage.ParseDomain(introspectDomain)
		if err != nil {
			return err
		}
		return withInstance(cmd, func(ctx context.Context, inst *instance.Instance) error {
			s := inst.Store(domain)
			schema, err := s.Introspect(ctx)
			if err != nil {
				return fmt.Errorf("failed to introspect %s storage: %w", domain, err)
			}
			schema = domainSchema(schema, s.Tables())

			jsonBytes, err := json.MarshalIndent(schema, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal schema to JSON: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(jsonBytes))
			return nil
		})
	},
}

// domainSchema keeps the tables a domain owns, plus the marker table.
// Databases shared between domains hold the others too.
func domainSchema(schema *database.Schema, owned []database.Table) *database.Schema {
	names := []string{migration.MarkerTable}
	for _, t := range owned {
		names = append(names, t.Name)
	}
	out := &database.Schema{Dialect: schema.Dialect, Tables: []database.Table{}}
	for _, t := range schema.Tables {
		if slices.Contains(names, t.Name) {
			out.Tables = append(out.Tables, t)
		}
	}
	return out
}
