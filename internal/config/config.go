// Package config handles loading and validation of gangplank.yaml project
// configuration. Validation enforces every load-time invariant; a config
// that violates one fails loudly instead of being silently normalized.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gangplank-systems/gangplank/internal/sla"
	"github.com/gangplank-systems/gangplank/pkg/types"
)

// Load reads and parses gangplank.yaml from the given directory.
func Load(dir string) (*types.ProjectConfig, error) {
	path := filepath.Join(dir, "gangplank.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates raw configuration bytes. Reload paths go
// through Parse too, so a hot-swapped config is held to the same invariants.
func Parse(data []byte) (*types.ProjectConfig, error) {
	var cfg types.ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate checks every load-time invariant of the configuration.
func Validate(cfg *types.ProjectConfig) error {
	if cfg.Store == "" {
		cfg.Store = "memory"
	}
	switch cfg.Store {
	case "memory":
	case "redis":
		if cfg.Redis == nil {
			return fmt.Errorf("redis config is required when store is redis")
		}
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required")
		}
		if cfg.Redis.KeyPrefix == "" {
			cfg.Redis.KeyPrefix = "gangplank"
		}
		if cfg.Redis.RetentionTTL != "" {
			if _, err := time.ParseDuration(cfg.Redis.RetentionTTL); err != nil {
				return fmt.Errorf("redis.retentionTtl: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown store %q", cfg.Store)
	}

	if len(cfg.Stages) == 0 {
		return fmt.Errorf("at least one stage is required")
	}
	seen := make(map[string]bool, len(cfg.Stages))
	for i, sc := range cfg.Stages {
		if sc.Name == "" {
			return fmt.Errorf("stages[%d]: name is required", i)
		}
		if seen[sc.Name] {
			return fmt.Errorf("duplicate stage %q", sc.Name)
		}
		seen[sc.Name] = true
		switch sc.Criticality {
		case "", "low", "medium", "high":
		default:
			return fmt.Errorf("stage %q: unknown criticality %q", sc.Name, sc.Criticality)
		}
		if sc.Gate != nil {
			if err := validateGate(sc.Name, sc.Gate); err != nil {
				return err
			}
		}
		if sc.SLA != nil {
			if err := sla.Validate(sc.SLA); err != nil {
				return fmt.Errorf("stage %q: %w", sc.Name, err)
			}
		}
	}

	for _, r := range cfg.Rules {
		if r.ID == "" {
			return fmt.Errorf("escalation rule without id")
		}
		switch r.Level {
		case types.LevelWarning, types.LevelCritical, types.LevelEmergency:
		default:
			return fmt.Errorf("rule %q: unknown level %q", r.ID, r.Level)
		}
		if r.Trigger.StageID != "" && !seen[r.Trigger.StageID] {
			return fmt.Errorf("rule %q: unknown stage %q", r.ID, r.Trigger.StageID)
		}
		if r.CooldownMinutes < 0 {
			return fmt.Errorf("rule %q: cooldownMinutes must not be negative", r.ID)
		}
		for _, a := range r.AutomaticActions {
			switch a {
			case types.ActionPausePipeline, types.ActionRestartDependency, types.ActionCreateIncident:
			default:
				return fmt.Errorf("rule %q: unknown automatic action %q", r.ID, a)
			}
		}
	}

	if cfg.Breaker != nil && cfg.Breaker.RecoveryTimeout != "" {
		if _, err := time.ParseDuration(cfg.Breaker.RecoveryTimeout); err != nil {
			return fmt.Errorf("breaker.recoveryTimeout: %w", err)
		}
	}
	if cfg.Metrics != nil && cfg.Metrics.Interval != "" {
		if _, err := time.ParseDuration(cfg.Metrics.Interval); err != nil {
			return fmt.Errorf("metrics.interval: %w", err)
		}
	}
	for i, n := range cfg.Notifiers {
		switch n.Type {
		case types.NotifierConsole:
		case types.NotifierWebhook:
			if n.URL == "" {
				return fmt.Errorf("notifiers[%d]: webhook url is required", i)
			}
		case types.NotifierFile:
			if n.Path == "" {
				return fmt.Errorf("notifiers[%d]: file path is required", i)
			}
		case types.NotifierSNS:
			if n.TopicARN == "" {
				return fmt.Errorf("notifiers[%d]: sns topicArn is required", i)
			}
		default:
			return fmt.Errorf("notifiers[%d]: unknown type %q", i, n.Type)
		}
	}
	return nil
}

func validateGate(stage string, g *types.QualityGate) error {
	if g.Bypassable && g.BypassAuthLevel <= 0 {
		return fmt.Errorf("stage %q: bypassable gate needs bypassAuthLevel > 0", stage)
	}
	switch g.FailureAction {
	case "", types.FailureBlock, types.FailureWarn, types.FailureEscalate:
	default:
		return fmt.Errorf("stage %q: unknown failureAction %q", stage, g.FailureAction)
	}
	for i, r := range g.Rules {
		if r.Field == "" {
			return fmt.Errorf("stage %q: rules[%d] field is required", stage, i)
		}
		switch r.Severity {
		case "", "critical", "warning":
		default:
			return fmt.Errorf("stage %q: rules[%d] unknown severity %q", stage, i, r.Severity)
		}
	}
	return nil
}

// WriteExample writes a starter gangplank.yaml into dir.
func WriteExample(dir string) (string, error) {
	path := filepath.Join(dir, "gangplank.yaml")
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%s already exists", path)
	}
	if err := os.WriteFile(path, []byte(exampleYAML), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

const exampleYAML = `version: "1"
store: memory

server:
  addr: ":8080"

stages:
  - name: HR_PAPERWORK
    displayName: HR Paperwork
    criticality: medium
    gate:
      requiredFields: [contractSigned, taxFormsFiled]
      mandatory: true
      failureAction: block
    sla:
      targetMinutes: 60
      warningMinutes: 90
      criticalMinutes: 120
      breachMinutes: 180
  - name: IT_PROVISIONING
    displayName: IT Provisioning
    criticality: high
    dependencies: [database, identity-provider]
    gate:
      requiredFields: [credentialsCreated, equipmentAssigned]
      thresholds:
        securityCompliance: 95
      mandatory: true
      bypassable: true
      bypassAuthLevel: 5
      failureAction: block
    sla:
      targetMinutes: 10
      warningMinutes: 12
      criticalMinutes: 15
      breachMinutes: 20
      extensionsAllowed: true
      maxExtensions: 2
      extensionDurationMinutes: 10

escalationRules:
  - id: critical_sla_breach
    level: CRITICAL
    trigger:
      slaStatusIn: [BREACHED]
      stageCriticality: high
    recipients: [oncall@example.com]
    automaticActions: [create-incident]
    cooldownMinutes: 15
    requiresAck: true

notifiers:
  - type: console
`
