// Package types defines the public domain types for the Gangplank onboarding
// orchestration core.
package types

// SessionStatus represents the lifecycle state of an onboarding session.
type SessionStatus string

// SessionStatus values represent the lifecycle states of a session.
const (
	SessionInitiated  SessionStatus = "INITIATED"
	SessionRunning    SessionStatus = "RUNNING"
	SessionFinalizing SessionStatus = "FINALIZING"
	SessionCompleted  SessionStatus = "COMPLETED"
	// SessionFailedRequiresRecovery marks a session that exhausted automatic
	// recovery and stopped auto-advancing.
	SessionFailedRequiresRecovery SessionStatus = "FAILED_REQUIRES_RECOVERY"
	SessionCancelled              SessionStatus = "CANCELLED"
)

// StageStatus represents the state of a single pipeline stage.
type StageStatus string

// StageStatus values enumerate the per-stage states.
const (
	StageWaiting    StageStatus = "WAITING"
	StageProcessing StageStatus = "PROCESSING"
	StageCompleted  StageStatus = "COMPLETED"
	StageFailed     StageStatus = "FAILED"
	StageTimeout    StageStatus = "TIMEOUT"
	StageEscalated  StageStatus = "ESCALATED"
)

// GateStatus represents the outcome of a quality gate evaluation.
type GateStatus string

const (
	GatePassed       GateStatus = "PASSED"
	GateFailed       GateStatus = "FAILED"
	GateManualReview GateStatus = "MANUAL_REVIEW"
	GateBypass       GateStatus = "BYPASS"
)

// GateFailureAction defines what a failed gate does to pipeline progression.
type GateFailureAction string

const (
	FailureBlock    GateFailureAction = "block"
	FailureWarn     GateFailureAction = "warn"
	FailureEscalate GateFailureAction = "escalate"
)

// SLAStatus classifies a stage's elapsed time against its SLA thresholds.
type SLAStatus string

const (
	SLAOnTime   SLAStatus = "ON_TIME"
	SLAAtRisk   SLAStatus = "AT_RISK"
	SLABreached SLAStatus = "BREACHED"
	SLAExtended SLAStatus = "EXTENDED"
)

// CircuitState represents the state of a dependency circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// RecommendedAction is the breaker manager's advice after an outcome is recorded.
type RecommendedAction string

const (
	ActionNone               RecommendedAction = "none"
	ActionOpenCircuit        RecommendedAction = "openCircuit"
	ActionTransitionHalfOpen RecommendedAction = "transitionHalfOpen"
	ActionCloseCircuit       RecommendedAction = "closeCircuit"
	ActionReopenCircuit      RecommendedAction = "reopenCircuit"
)

// EscalationLevel ranks escalation severity.
type EscalationLevel string

const (
	LevelWarning   EscalationLevel = "WARNING"
	LevelCritical  EscalationLevel = "CRITICAL"
	LevelEmergency EscalationLevel = "EMERGENCY"
)

// RecoveryStrategy identifies one of the closed set of recovery strategies,
// evaluated top-down by the recovery orchestrator.
type RecoveryStrategy string

const (
	StrategyImmediateRetry     RecoveryStrategy = "IMMEDIATE_RETRY"
	StrategyBackoffRetry       RecoveryStrategy = "EXPONENTIAL_BACKOFF_RETRY"
	StrategyStateRestoration   RecoveryStrategy = "STATE_RESTORATION"
	StrategyWorkflowResumption RecoveryStrategy = "WORKFLOW_RESUMPTION"
	StrategyEscalateToHuman    RecoveryStrategy = "ESCALATE_TO_HUMAN"
)

// RecoveryActionKind classifies a single recorded recovery action.
type RecoveryActionKind string

const (
	RecoveryRetry          RecoveryActionKind = "RETRY"
	RecoveryStateRestore   RecoveryActionKind = "STATE_RESTORE"
	RecoveryCircuitReset   RecoveryActionKind = "CIRCUIT_RESET"
	RecoveryWorkflowResume RecoveryActionKind = "WORKFLOW_RESUME"
)

// RecoveryStatus reports the truthful outcome of a recovery pass.
// Partial means at least one remediation succeeded and the pipeline can
// resume with reduced guarantees; it is never upgraded to Success.
type RecoveryStatus string

const (
	RecoverySuccess RecoveryStatus = "SUCCESS"
	RecoveryPartial RecoveryStatus = "PARTIAL"
	RecoveryFailed  RecoveryStatus = "FAILED"
)

// ErrorKind classifies a stage failure for recovery strategy selection.
type ErrorKind string

const (
	ErrTransient             ErrorKind = "TRANSIENT"
	ErrQualityViolation      ErrorKind = "QUALITY_VIOLATION"
	ErrDependencyUnavailable ErrorKind = "DEPENDENCY_UNAVAILABLE"
	ErrStateInconsistency    ErrorKind = "STATE_INCONSISTENCY"
	ErrUnrecoverable         ErrorKind = "UNRECOVERABLE"
)

// RuleKind identifies a quality gate custom rule type. Unknown kinds pass
// by default (fail-open at rule level only).
type RuleKind string

const (
	RuleMinValue        RuleKind = "minValue"
	RuleMaxValue        RuleKind = "maxValue"
	RuleRequiredBoolean RuleKind = "requiredBoolean"
	RuleNonEmpty        RuleKind = "nonEmpty"
	RuleEquals          RuleKind = "equals"
)

// NotifierType defines the notification sink type.
type NotifierType string

const (
	NotifierConsole NotifierType = "console"
	NotifierWebhook NotifierType = "webhook"
	NotifierFile    NotifierType = "file"
	NotifierSNS     NotifierType = "sns"
)

// AutomaticAction names a bounded remediation an escalation rule may execute.
type AutomaticAction string

const (
	ActionPausePipeline     AutomaticAction = "pause-pipeline"
	ActionRestartDependency AutomaticAction = "restart-dependency"
	ActionCreateIncident    AutomaticAction = "create-incident"
)

// EventKind classifies the type of audit event.
type EventKind string

// EventKind values enumerate the categories of recorded events.
const (
	EventSessionStarted     EventKind = "SESSION_STARTED"
	EventSessionCompleted   EventKind = "SESSION_COMPLETED"
	EventSessionFailed      EventKind = "SESSION_FAILED"
	EventSessionCancelled   EventKind = "SESSION_CANCELLED"
	EventStageStarted       EventKind = "STAGE_STARTED"
	EventStageCompleted     EventKind = "STAGE_COMPLETED"
	EventStageFailed        EventKind = "STAGE_FAILED"
	EventOutcomeReported    EventKind = "OUTCOME_REPORTED"
	EventOutcomeDuplicate   EventKind = "OUTCOME_DUPLICATE"
	EventGateEvaluated      EventKind = "GATE_EVALUATED"
	EventGateBypassed       EventKind = "GATE_BYPASSED"
	EventSLAEvaluated       EventKind = "SLA_EVALUATED"
	EventSLABreached        EventKind = "SLA_BREACHED"
	EventSLAExtended        EventKind = "SLA_EXTENDED"
	EventCircuitOpened      EventKind = "CIRCUIT_OPENED"
	EventCircuitClosed      EventKind = "CIRCUIT_CLOSED"
	EventEscalationFired    EventKind = "ESCALATION_FIRED"
	EventEscalationAcked    EventKind = "ESCALATION_ACKNOWLEDGED"
	EventRecoveryStarted    EventKind = "RECOVERY_STARTED"
	EventRecoveryAttempted  EventKind = "RECOVERY_ATTEMPTED"
	EventRecoveryCompleted  EventKind = "RECOVERY_COMPLETED"
	EventPipelinePaused     EventKind = "PIPELINE_PAUSED"
	EventIncidentCreated    EventKind = "INCIDENT_CREATED"
	EventNotificationFailed EventKind = "NOTIFICATION_FAILED"
)
