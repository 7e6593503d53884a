package types

import "time"

// Session identifies one onboarding workflow instance. It is owned by the
// pipeline state machine: created at workflow start, mutated on every stage
// transition, archived at terminal state.
type Session struct {
	SessionID       string        `json:"sessionId"`
	SubjectID       string        `json:"subjectId"`
	Status          SessionStatus `json:"status"`
	CurrentStage    string        `json:"currentStage,omitempty"`
	CurrentIndex    int           `json:"currentIndex"`
	OverallProgress float64       `json:"overallProgress"`
	Paused          bool          `json:"paused,omitempty"`
	StartedAt       time.Time     `json:"startedAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	CompletedAt     *time.Time    `json:"completedAt,omitempty"`
}

// StageError records a single error reported against a stage.
type StageError struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	Service    string    `json:"service,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Stage is one named step of the bounded pipeline. Status transitions are
// monotonic forward except for explicit resets issued by recovery.
type Stage struct {
	SessionID      string                 `json:"sessionId"`
	StageID        string                 `json:"stageId"`
	Status         StageStatus            `json:"status"`
	Progress       float64                `json:"progress"`
	StartedAt      *time.Time             `json:"startedAt,omitempty"`
	CompletedAt    *time.Time             `json:"completedAt,omitempty"`
	ErrorCount     int                    `json:"errorCount"`
	RetryCount     int                    `json:"retryCount"`
	Errors         []StageError           `json:"errors,omitempty"`
	Output         map[string]interface{} `json:"output,omitempty"`
	ExtensionsUsed int                    `json:"extensionsUsed"`
	ExtensionIDs   []string               `json:"extensionIds,omitempty"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}

// QualityGateResult is the outcome of one gate evaluation. Created once per
// evaluation; never mutated, only superseded by a new evaluation on retry.
type QualityGateResult struct {
	SessionID      string     `json:"sessionId"`
	StageID        string     `json:"stageId"`
	Status         GateStatus `json:"status"`
	Passed         bool       `json:"passed"`
	Score          float64    `json:"score"`
	CriticalIssues []string   `json:"criticalIssues,omitempty"`
	Warnings       []string   `json:"warnings,omitempty"`
	BypassReason   string     `json:"bypassReason,omitempty"`
	EvaluatedAt    time.Time  `json:"evaluatedAt"`
}

// SLAResult is a live SLA measurement for one stage. Recomputed on every
// poll; only the latest snapshot is persisted.
type SLAResult struct {
	SessionID           string     `json:"sessionId"`
	StageID             string     `json:"stageId"`
	Status              SLAStatus  `json:"status"`
	ElapsedMinutes      float64    `json:"elapsedMinutes"`
	RemainingMinutes    float64    `json:"remainingMinutes"`
	PredictedCompletion *time.Time `json:"predictedCompletion,omitempty"`
	BreachProbability   float64    `json:"breachProbability"`
	ExtensionsUsed      int        `json:"extensionsUsed"`
	EvaluatedAt         time.Time  `json:"evaluatedAt"`
}

// CircuitSnapshot is a read-only view of one dependency's breaker state.
type CircuitSnapshot struct {
	ServiceName   string       `json:"serviceName"`
	State         CircuitState `json:"state"`
	FailureCount  int          `json:"failureCount"`
	LastFailureAt *time.Time   `json:"lastFailureAt,omitempty"`
	OpenedAt      *time.Time   `json:"openedAt,omitempty"`
}

// EscalationEvent is a fired instance of an escalation rule. Mutated only by
// acknowledgement/resolution actions from the owning operator.
type EscalationEvent struct {
	EventID         string            `json:"eventId"`
	SessionID       string            `json:"sessionId"`
	RuleID          string            `json:"ruleId"`
	Level           EscalationLevel   `json:"level"`
	TriggerReason   string            `json:"triggerReason"`
	Recipients      []string          `json:"recipients,omitempty"`
	ActionsExecuted []AutomaticAction `json:"actionsExecuted,omitempty"`
	RequiresAck     bool              `json:"requiresAck"`
	Acknowledged    bool              `json:"acknowledged"`
	AcknowledgedBy  string            `json:"acknowledgedBy,omitempty"`
	FiredAt         time.Time         `json:"firedAt"`
	ResolvedAt      *time.Time        `json:"resolvedAt,omitempty"`
}

// RecoveryAttempt is one execution of a recovery action. Immutable once
// completed; a session accumulates an ordered list.
type RecoveryAttempt struct {
	SessionID       string                 `json:"sessionId"`
	StageID         string                 `json:"stageId,omitempty"`
	Strategy        RecoveryStrategy       `json:"strategy"`
	Action          RecoveryActionKind     `json:"action"`
	AttemptNumber   int                    `json:"attemptNumber"`
	Status          RecoveryStatus         `json:"status"`
	DurationSeconds float64                `json:"durationSeconds"`
	Result          map[string]interface{} `json:"result,omitempty"`
	StartedAt       time.Time              `json:"startedAt"`
}

// Event is an append-only audit log entry recording what happened and when.
type Event struct {
	Kind      EventKind              `json:"kind"`
	SessionID string                 `json:"sessionId"`
	StageID   string                 `json:"stageId,omitempty"`
	Status    string                 `json:"status,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// SessionSnapshot is the read-only aggregate served to dashboards and health
// reports. It always reflects the true session state, including failures.
type SessionSnapshot struct {
	Session          Session             `json:"session"`
	Stages           []Stage             `json:"stages"`
	QualityResults   []QualityGateResult `json:"qualityResults,omitempty"`
	SLAResults       []SLAResult         `json:"slaResults,omitempty"`
	CircuitStates    []CircuitSnapshot   `json:"circuitStates,omitempty"`
	EscalationEvents []EscalationEvent   `json:"escalationEvents,omitempty"`
	RecoveryAttempts []RecoveryAttempt   `json:"recoveryAttempts,omitempty"`
	Events           []Event             `json:"events,omitempty"`
}

// IncidentContext carries what a ticketing collaborator needs to open an
// incident record.
type IncidentContext struct {
	SessionID string                 `json:"sessionId"`
	StageID   string                 `json:"stageId,omitempty"`
	RuleID    string                 `json:"ruleId,omitempty"`
	Level     EscalationLevel        `json:"level"`
	Summary   string                 `json:"summary"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}
