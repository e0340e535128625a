package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spamguard/core/internal/config"
)

// configRootCmd implements the ops-debugging `config show`/`config set`
// surface of SPEC_FULL.md §10.4 — a thin cobra wrapper over ConfigStore,
// matching the teacher's own config subcommand (cmd/root.go's configCmd
// pattern) but scoped to this module's GuildConfig document instead of
// goclaw's agent config.
func configRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "config",
		Short: "Inspect or edit the moderation config document",
	}
	root.AddCommand(configShowCmd())
	root.AddCommand(configSetCmd())
	return root
}

func configShowCmd() *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the default document, or one tenant's resolved config",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := config.New(resolveConfigPath())
			if err := store.Load(); err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			var cfg config.GuildConfig
			if tenantID != "" {
				cfg = store.TenantConfig(tenantID)
			} else {
				cfg = store.Defaults()
			}

			out, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "guild", "", "guild (tenant) ID; default document if omitted")
	return cmd
}

func configSetCmd() *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a single GuildConfig field for one guild",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == "" {
				return fmt.Errorf("--guild is required")
			}
			store := config.New(resolveConfigPath())
			if err := store.Load(); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ok, err := store.SetTenantValue(tenantID, args[0], args[1])
			if err != nil {
				return fmt.Errorf("set %s: %w", args[0], err)
			}
			if !ok {
				return fmt.Errorf("unknown config key: %s", args[0])
			}
			fmt.Printf("%s.%s = %s\n", tenantID, args[0], args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "guild", "", "guild (tenant) ID")
	return cmd
}
