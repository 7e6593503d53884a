package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gangplank-systems/gangplank/internal/config"
	"github.com/gangplank-systems/gangplank/pkg/types"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status [sessionID]",
		Short: "Show onboarding session status from the registry",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(".")
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			st, err := newStore(cfg)
			if err != nil {
				return err
			}
			ctx := context.Background()
			if err := st.Start(ctx); err != nil {
				return fmt.Errorf("starting store: %w", err)
			}
			defer func() { _ = st.Stop(ctx) }()

			if len(args) == 1 {
				return printSession(ctx, st, args[0])
			}
			return printSessions(ctx, st, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of sessions to list")
	return cmd
}

func printSessions(ctx context.Context, st sessionReader, limit int) error {
	sessions, err := st.ListSessions(ctx, limit)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(sessions) == 0 {
		color.White("No sessions found.")
		return nil
	}
	for _, s := range sessions {
		statusColor(s.Status).Printf("%-12s", s.Status)
		fmt.Printf(" %s  subject=%s  stage=%s  %.0f%%  started=%s\n",
			s.SessionID, s.SubjectID, s.CurrentStage, s.OverallProgress,
			s.StartedAt.Format(time.RFC3339))
	}
	return nil
}

func printSession(ctx context.Context, st sessionReader, sessionID string) error {
	s, err := st.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	statusColor(s.Status).Printf("%s\n", s.Status)
	fmt.Printf("Session:  %s\nSubject:  %s\nStage:    %s (%d)\nProgress: %.0f%%\n",
		s.SessionID, s.SubjectID, s.CurrentStage, s.CurrentIndex, s.OverallProgress)
	if s.Paused {
		color.Yellow("Session is paused pending operator action")
	}

	stages, err := st.ListStages(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("listing stages: %w", err)
	}
	fmt.Println("\nStages:")
	for _, stage := range stages {
		c := color.New(color.FgWhite)
		switch stage.Status {
		case types.StageCompleted:
			c = color.New(color.FgGreen)
		case types.StageProcessing:
			c = color.New(color.FgCyan)
		case types.StageFailed, types.StageTimeout:
			c = color.New(color.FgRed)
		case types.StageEscalated:
			c = color.New(color.FgYellow)
		}
		c.Printf("  %-12s", stage.Status)
		fmt.Printf(" %s  %.0f%%  errors=%d\n", stage.StageID, stage.Progress, stage.ErrorCount)
	}
	return nil
}

// sessionReader is the read-only store subset the status command needs.
type sessionReader interface {
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	ListSessions(ctx context.Context, limit int) ([]types.Session, error)
	ListStages(ctx context.Context, sessionID string) ([]types.Stage, error)
}

func statusColor(s types.SessionStatus) *color.Color {
	switch s {
	case types.SessionCompleted:
		return color.New(color.FgGreen)
	case types.SessionRunning, types.SessionInitiated, types.SessionFinalizing:
		return color.New(color.FgCyan)
	case types.SessionFailedRequiresRecovery:
		return color.New(color.FgRed)
	case types.SessionCancelled:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgWhite)
	}
}
