// Package pipeline implements the onboarding session state machine: it owns
// session and stage lifecycle, gates advancement on quality results, and
// routes failures to escalation and recovery.
package pipeline

import (
	"fmt"

	"github.com/gangplank-systems/gangplank/pkg/types"
)

// Session transition table: from -> allowed tos
var sessionTransitions = map[types.SessionStatus][]types.SessionStatus{
	types.SessionInitiated:  {types.SessionRunning, types.SessionCancelled},
	types.SessionRunning:    {types.SessionFinalizing, types.SessionFailedRequiresRecovery, types.SessionCancelled},
	types.SessionFinalizing: {types.SessionCompleted, types.SessionFailedRequiresRecovery, types.SessionCancelled},
	types.SessionCompleted:  {},
	types.SessionFailedRequiresRecovery: {},
	types.SessionCancelled:              {},
}

// Stage transition table. Forward moves only; the resets out of FAILED,
// TIMEOUT and ESCALATED are reserved for recovery actions.
var stageTransitions = map[types.StageStatus][]types.StageStatus{
	types.StageWaiting:    {types.StageProcessing},
	types.StageProcessing: {types.StageCompleted, types.StageFailed, types.StageTimeout, types.StageEscalated},
	types.StageCompleted:  {},
	types.StageFailed:     {types.StageProcessing, types.StageWaiting, types.StageEscalated},
	types.StageTimeout:    {types.StageProcessing, types.StageWaiting, types.StageEscalated},
	types.StageEscalated:  {types.StageProcessing, types.StageWaiting, types.StageFailed},
}

// CanTransitionSession checks if moving a session between the two statuses is valid.
func CanTransitionSession(from, to types.SessionStatus) bool {
	for _, s := range sessionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionSession validates a session transition, or returns an error.
func TransitionSession(from, to types.SessionStatus) error {
	if !CanTransitionSession(from, to) {
		return fmt.Errorf("invalid session transition from %s to %s", from, to)
	}
	return nil
}

// CanTransitionStage checks if moving a stage between the two statuses is valid.
func CanTransitionStage(from, to types.StageStatus) bool {
	for _, s := range stageTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionStage validates a stage transition, or returns an error.
func TransitionStage(from, to types.StageStatus) error {
	if !CanTransitionStage(from, to) {
		return fmt.Errorf("invalid stage transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalSession returns true if the session status is final.
func IsTerminalSession(status types.SessionStatus) bool {
	return status == types.SessionCompleted ||
		status == types.SessionFailedRequiresRecovery ||
		status == types.SessionCancelled
}

// IsTerminalStage returns true if the stage status is final.
func IsTerminalStage(status types.StageStatus) bool {
	return status == types.StageCompleted
}
