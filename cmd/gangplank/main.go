package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gangplank-systems/gangplank/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "gangplank",
		Short: "Orchestration and resilience core for multi-stage onboarding workflows",
		Long: `Gangplank drives employee onboarding sessions through an ordered stage
pipeline. Every stage completion passes a quality gate before the session
advances; SLA timing, per-dependency circuit breakers, escalation rules and
a recovery orchestrator keep degraded sessions moving or fail them honestly.`,
		Version: version,
	}

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewValidateCmd(),
		commands.NewStatusCmd(),
		commands.NewServeCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
