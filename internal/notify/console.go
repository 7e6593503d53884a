package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/gangplank-systems/gangplank/pkg/types"
)

// ConsoleSink writes notifications to the terminal with color.
type ConsoleSink struct{}

// NewConsoleSink creates a new console notification sink.
func NewConsoleSink() *ConsoleSink {
	return &ConsoleSink{}
}

// Name returns the sink identifier.
func (s *ConsoleSink) Name() string { return "console" }

// Send writes a notification to the terminal with color-coded severity.
func (s *ConsoleSink) Send(_ context.Context, msg Message) error {
	var prefix string
	switch msg.Level {
	case types.LevelEmergency:
		prefix = color.New(color.FgRed, color.Bold).Sprint("[EMERGENCY]")
	case types.LevelCritical:
		prefix = color.RedString("[CRITICAL]")
	case types.LevelWarning:
		prefix = color.YellowString("[WARNING]")
	default:
		prefix = color.CyanString("[INFO]")
	}

	if len(msg.Recipients) > 0 {
		fmt.Printf("%s -> %s: %s\n", prefix, strings.Join(msg.Recipients, ","), msg.Text)
	} else {
		fmt.Printf("%s %s\n", prefix, msg.Text)
	}
	return nil
}
