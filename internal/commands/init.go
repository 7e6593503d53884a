package commands

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gangplank-systems/gangplank/internal/config"
)

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter gangplank.yaml into the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.WriteExample(".")
			if err != nil {
				return err
			}
			color.Green("Wrote %s", path)
			color.White("Edit the stage list and run 'gangplank serve' to start the core.")
			return nil
		},
	}
}
