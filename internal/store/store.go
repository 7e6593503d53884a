// Package store defines the stage registry interface, the durable per-session
// record of stages, evaluation results, escalations, recovery attempts, and
// the append-only audit event log.
package store

import (
	"context"
	"errors"

	"github.com/gangplank-systems/gangplank/pkg/types"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store is the stage registry backend interface. The registry is partitioned
// per session; implementations need no cross-session locking.
type Store interface {
	// Sessions
	PutSession(ctx context.Context, s types.Session) error
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	ListSessions(ctx context.Context, limit int) ([]types.Session, error)

	// Stages
	PutStage(ctx context.Context, st types.Stage) error
	GetStage(ctx context.Context, sessionID, stageID string) (*types.Stage, error)
	ListStages(ctx context.Context, sessionID string) ([]types.Stage, error)

	// Quality gate results. Superseded per stage on re-evaluation; full
	// history retained in order.
	AppendQualityResult(ctx context.Context, r types.QualityGateResult) error
	ListQualityResults(ctx context.Context, sessionID string) ([]types.QualityGateResult, error)

	// SLA snapshots. Only the latest per stage is kept.
	PutSLAResult(ctx context.Context, r types.SLAResult) error
	ListSLAResults(ctx context.Context, sessionID string) ([]types.SLAResult, error)

	// Escalation events
	PutEscalation(ctx context.Context, e types.EscalationEvent) error
	GetEscalation(ctx context.Context, sessionID, eventID string) (*types.EscalationEvent, error)
	ListEscalations(ctx context.Context, sessionID string) ([]types.EscalationEvent, error)

	// Recovery ledger, append-only and ordered.
	AppendRecoveryAttempt(ctx context.Context, a types.RecoveryAttempt) error
	ListRecoveryAttempts(ctx context.Context, sessionID string) ([]types.RecoveryAttempt, error)

	// Event log, an append-only audit trail.
	AppendEvent(ctx context.Context, e types.Event) error
	ListEvents(ctx context.Context, sessionID string, limit int) ([]types.Event, error)

	// Lifecycle
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Ping(ctx context.Context) error
}
