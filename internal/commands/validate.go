package commands

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gangplank-systems/gangplank/internal/config"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load gangplank.yaml and check every invariant",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(".")
			if err != nil {
				return err
			}
			color.Green("Configuration valid: %d stages, %d escalation rules, store=%s",
				len(cfg.Stages), len(cfg.Rules), cfg.Store)
			return nil
		},
	}
}
