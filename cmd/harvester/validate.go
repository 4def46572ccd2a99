// cmd/harvester/validate.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valpere/SiteHarvester/internal/site"
)

func newValidateCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and every site definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			cfg, err := global.loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			result := cfg.ValidateWithDetails()
			for _, w := range result.Warnings {
				fmt.Fprintf(out, "⚠ %s\n", w)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}
			fmt.Fprintln(out, "✓ Configuration is valid")

			defs, err := site.LoadDefinitions(cfg.SitesFile)
			if err != nil {
				return err
			}
			for _, def := range defs {
				if _, err := site.NewSelectorAdapter(def); err != nil {
					return fmt.Errorf("site %s: %w", def.ID, err)
				}
				fmt.Fprintf(out, "✓ Site %s: %s, pagination %s, login %t\n", def.ID, def.BaseURL, def.Pagination.Strategy, def.Login.URL != "")
			}
			fmt.Fprintf(out, "✓ %d site(s) in %s\n", len(defs), cfg.SitesFile)
			return nil
		},
	}
}
