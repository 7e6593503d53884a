package types

import "time"

// StageOutcome is the payload a worker stage reports back to the core. It is
// the only external write path into the stage registry.
type StageOutcome struct {
	SessionID string                 `json:"sessionId"`
	StageID   string                 `json:"stageId"`
	Status    StageStatus            `json:"status"`
	Progress  float64                `json:"progress,omitempty"`
	Output    map[string]interface{} `json:"output,omitempty"`
	Errors    []StageError           `json:"errors,omitempty"`
	// BypassAuthLevel, when > 0, authorizes a gate bypass for this outcome.
	BypassAuthLevel int       `json:"bypassAuthLevel,omitempty"`
	BypassReason    string    `json:"bypassReason,omitempty"`
	ReportedAt      time.Time `json:"reportedAt"`
}

// FailureContext describes a flagged failure handed to the recovery
// orchestrator.
type FailureContext struct {
	SessionID  string    `json:"sessionId"`
	StageID    string    `json:"stageId"`
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message,omitempty"`
	Service    string    `json:"service,omitempty"`
	ErrorCount int       `json:"errorCount"`
	// RetryCount is the stage's cumulative automatic recovery passes so far.
	RetryCount int       `json:"retryCount"`
	OccurredAt time.Time `json:"occurredAt"`
}

// RecoveryResult is the truthful outcome of one recovery pass. Partial is a
// terminal non-escalated outcome distinct from full success.
type RecoveryResult struct {
	SessionID string            `json:"sessionId"`
	StageID   string            `json:"stageId,omitempty"`
	Strategy  RecoveryStrategy  `json:"strategy"`
	Status    RecoveryStatus    `json:"status"`
	Attempts  []RecoveryAttempt `json:"attempts,omitempty"`
	Message   string            `json:"message,omitempty"`
	// ResumeFrom is set when the pipeline should resume from a prior stage.
	ResumeFrom string `json:"resumeFrom,omitempty"`
}

// SignalSet is the current signal snapshot the escalation rule engine
// evaluates against.
type SignalSet struct {
	SessionID      string
	QualityResults []QualityGateResult
	SLAResults     []SLAResult
	CircuitStates  []CircuitSnapshot
	StageErrors    map[string]int // stageID -> error count
}

// ExtensionRequest asks for one SLA extension on a stage. ExtensionID makes
// consumption idempotent per extension event.
type ExtensionRequest struct {
	SessionID   string `json:"sessionId"`
	StageID     string `json:"stageId"`
	ExtensionID string `json:"extensionId"`
	Reason      string `json:"reason,omitempty"`
	RequestedBy string `json:"requestedBy,omitempty"`
}
