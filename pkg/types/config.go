package types

// QualityRule is one custom rule inside a quality gate. The rule kinds form a
// small closed set; unknown kinds pass by default.
type QualityRule struct {
	Kind     RuleKind    `yaml:"kind" json:"kind"`
	Field    string      `yaml:"field" json:"field"`
	Value    interface{} `yaml:"value,omitempty" json:"value,omitempty"`
	Severity string      `yaml:"severity,omitempty" json:"severity,omitempty"` // "critical" or "warning"
}

// QualityGate is the immutable per-stage gate configuration, loaded at startup.
type QualityGate struct {
	RequiredFields  []string           `yaml:"requiredFields,omitempty" json:"requiredFields,omitempty"`
	Thresholds      map[string]float64 `yaml:"thresholds,omitempty" json:"thresholds,omitempty"`
	Rules           []QualityRule      `yaml:"rules,omitempty" json:"rules,omitempty"`
	Mandatory       bool               `yaml:"mandatory" json:"mandatory"`
	Bypassable      bool               `yaml:"bypassable" json:"bypassable"`
	BypassAuthLevel int                `yaml:"bypassAuthLevel,omitempty" json:"bypassAuthLevel,omitempty"`
	FailureAction   GateFailureAction  `yaml:"failureAction,omitempty" json:"failureAction,omitempty"`
}

// SLAConfig is the per-stage timing policy. Threshold ordering
// target < warning < critical < breach is a load-time invariant.
type SLAConfig struct {
	TargetMinutes            float64  `yaml:"targetMinutes" json:"targetMinutes"`
	WarningMinutes           float64  `yaml:"warningMinutes" json:"warningMinutes"`
	CriticalMinutes          float64  `yaml:"criticalMinutes" json:"criticalMinutes"`
	BreachMinutes            float64  `yaml:"breachMinutes" json:"breachMinutes"`
	BusinessHoursOnly        bool     `yaml:"businessHoursOnly,omitempty" json:"businessHoursOnly,omitempty"`
	Timezone                 string   `yaml:"timezone,omitempty" json:"timezone,omitempty"`
	EscalationContacts       []string `yaml:"escalationContacts,omitempty" json:"escalationContacts,omitempty"`
	ExtensionsAllowed        bool     `yaml:"extensionsAllowed,omitempty" json:"extensionsAllowed,omitempty"`
	MaxExtensions            int      `yaml:"maxExtensions,omitempty" json:"maxExtensions,omitempty"`
	ExtensionDurationMinutes float64  `yaml:"extensionDurationMinutes,omitempty" json:"extensionDurationMinutes,omitempty"`
}

// StageConfig defines one ordered stage of the onboarding pipeline.
type StageConfig struct {
	Name         string       `yaml:"name" json:"name"`
	DisplayName  string       `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	Criticality  string       `yaml:"criticality,omitempty" json:"criticality,omitempty"` // "low", "medium", "high"
	Dependencies []string     `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Gate         *QualityGate `yaml:"gate,omitempty" json:"gate,omitempty"`
	SLA          *SLAConfig   `yaml:"sla,omitempty" json:"sla,omitempty"`
}

// TriggerConditions is the closed set of signals an escalation rule matches
// against. All non-zero conditions must hold for the rule to fire.
type TriggerConditions struct {
	StageID          string         `yaml:"stageId,omitempty" json:"stageId,omitempty"`
	SLAStatusIn      []SLAStatus    `yaml:"slaStatusIn,omitempty" json:"slaStatusIn,omitempty"`
	GateStatusIn     []GateStatus   `yaml:"gateStatusIn,omitempty" json:"gateStatusIn,omitempty"`
	CircuitStateIn   []CircuitState `yaml:"circuitStateIn,omitempty" json:"circuitStateIn,omitempty"`
	StageCriticality string         `yaml:"stageCriticality,omitempty" json:"stageCriticality,omitempty"`
	MinStageErrors   int            `yaml:"minStageErrors,omitempty" json:"minStageErrors,omitempty"`
}

// EscalationRule is static escalation configuration.
type EscalationRule struct {
	ID               string            `yaml:"id" json:"id"`
	Level            EscalationLevel   `yaml:"level" json:"level"`
	Trigger          TriggerConditions `yaml:"trigger" json:"trigger"`
	Recipients       []string          `yaml:"recipients,omitempty" json:"recipients,omitempty"`
	AutomaticActions []AutomaticAction `yaml:"automaticActions,omitempty" json:"automaticActions,omitempty"`
	CooldownMinutes  int               `yaml:"cooldownMinutes,omitempty" json:"cooldownMinutes,omitempty"`
	MaxPerSession    int               `yaml:"maxPerSession,omitempty" json:"maxPerSession,omitempty"`
	RequiresAck      bool              `yaml:"requiresAck,omitempty" json:"requiresAck,omitempty"`
}

// BreakerConfig holds circuit breaker settings shared by all monitored services.
type BreakerConfig struct {
	FailureThreshold  int    `yaml:"failureThreshold,omitempty" json:"failureThreshold,omitempty"`
	SuccessThreshold  int    `yaml:"successThreshold,omitempty" json:"successThreshold,omitempty"`
	RecoveryTimeout   string `yaml:"recoveryTimeout,omitempty" json:"recoveryTimeout,omitempty"` // e.g. "30s"
	HalfOpenMaxProbes int    `yaml:"halfOpenMaxProbes,omitempty" json:"halfOpenMaxProbes,omitempty"`
}

// RecoveryConfig bounds the recovery orchestrator.
type RecoveryConfig struct {
	MaxRetryAttempts  int     `yaml:"maxRetryAttempts,omitempty" json:"maxRetryAttempts,omitempty"`
	ImmediateRetryMax int     `yaml:"immediateRetryMax,omitempty" json:"immediateRetryMax,omitempty"`
	BackoffSeconds    int     `yaml:"backoffSeconds,omitempty" json:"backoffSeconds,omitempty"`
	BackoffMultiplier float64 `yaml:"backoffMultiplier,omitempty" json:"backoffMultiplier,omitempty"`
	MaxBackoffSeconds int     `yaml:"maxBackoffSeconds,omitempty" json:"maxBackoffSeconds,omitempty"`
}

// NotifierConfig defines a notification sink.
type NotifierConfig struct {
	Type     NotifierType `yaml:"type" json:"type"`
	URL      string       `yaml:"url,omitempty" json:"url,omitempty"`
	Path     string       `yaml:"path,omitempty" json:"path,omitempty"`
	TopicARN string       `yaml:"topicArn,omitempty" json:"topicArn,omitempty"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	APIKey         string `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	MaxRequestBody int64  `yaml:"maxRequestBody,omitempty" json:"maxRequestBody,omitempty"`
}

// RedisConfig holds Redis/Valkey connection settings for the durable registry.
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password,omitempty"`
	DB           int    `yaml:"db,omitempty"`
	KeyPrefix    string `yaml:"keyPrefix"`
	RetentionTTL string `yaml:"retentionTtl,omitempty" json:"retentionTtl,omitempty"` // default "720h"
}

// MetricsConfig configures the OTLP metrics exporter used by serve.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Interval string `yaml:"interval,omitempty" json:"interval,omitempty"` // e.g. "30s"
}

// ProjectConfig represents the top-level gangplank.yaml configuration. It is
// static, versioned configuration loaded at process start; reload re-validates
// every invariant before swapping in.
type ProjectConfig struct {
	Version   string           `yaml:"version,omitempty"`
	Store     string           `yaml:"store"` // "memory" or "redis"
	Redis     *RedisConfig     `yaml:"redis,omitempty"`
	Server    *ServerConfig    `yaml:"server,omitempty"`
	Stages    []StageConfig    `yaml:"stages"`
	Breaker   *BreakerConfig   `yaml:"breaker,omitempty"`
	Recovery  *RecoveryConfig  `yaml:"recovery,omitempty"`
	Rules     []EscalationRule `yaml:"escalationRules,omitempty"`
	Notifiers []NotifierConfig `yaml:"notifiers,omitempty"`
	Metrics   *MetricsConfig   `yaml:"metrics,omitempty"`
}

// StageByName returns the stage config with the given name, or nil.
func (c *ProjectConfig) StageByName(name string) *StageConfig {
	for i := range c.Stages {
		if c.Stages[i].Name == name {
			return &c.Stages[i]
		}
	}
	return nil
}

// StageIndex returns the position of a stage in the configured order, or -1.
func (c *ProjectConfig) StageIndex(name string) int {
	for i := range c.Stages {
		if c.Stages[i].Name == name {
			return i
		}
	}
	return -1
}
