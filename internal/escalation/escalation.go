// Package escalation implements the rule engine that turns quality, SLA, and
// circuit signals into notifications and bounded automatic remediations.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gangplank-systems/gangplank/internal/store"
	"github.com/gangplank-systems/gangplank/pkg/types"
)

// Compound degradation detection: a dynamic escalation fired when multiple
// stages degrade at once, independent of any single static rule.
const (
	compoundRuleID      = "compound-degradation"
	compoundMinDegraded = 2
	compoundCooldown    = 10 * time.Minute
)

// Notifier delivers escalation notifications. Delivery is fire-and-forget:
// the engine never blocks pipeline progression on confirmation.
type Notifier interface {
	Notify(ctx context.Context, recipients []string, level types.EscalationLevel, message string, requiresAck bool) (string, error)
}

// Actions executes the bounded automatic remediations a rule may request.
// Implementations delegate to external collaborators.
type Actions interface {
	PausePipeline(ctx context.Context, sessionID string) error
	RestartDependency(ctx context.Context, service string) error
	CreateIncident(ctx context.Context, ic types.IncidentContext) (string, error)
}

// Engine evaluates static escalation rules plus the dynamic compound trigger.
type Engine struct {
	rules       []types.EscalationRule
	criticality map[string]string   // stageID -> criticality
	deps        map[string][]string // stageID -> dependency services
	contacts    map[string][]string // stageID -> SLA escalation contacts
	store       store.Store
	notifier    Notifier
	actions     Actions
	tracker     *cooldownTracker
	logger      *slog.Logger
	nowFn       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithNow overrides the engine clock (useful for testing).
func WithNow(fn func() time.Time) Option {
	return func(e *Engine) { e.nowFn = fn }
}

// New creates an escalation engine over a static rule table.
func New(rules []types.EscalationRule, stages []types.StageConfig, st store.Store, notifier Notifier, actions Actions, opts ...Option) *Engine {
	crit := make(map[string]string, len(stages))
	deps := make(map[string][]string, len(stages))
	contacts := make(map[string][]string)
	for _, sc := range stages {
		crit[sc.Name] = sc.Criticality
		deps[sc.Name] = sc.Dependencies
		if sc.SLA != nil && len(sc.SLA.EscalationContacts) > 0 {
			contacts[sc.Name] = sc.SLA.EscalationContacts
		}
	}
	e := &Engine{
		rules:       rules,
		criticality: crit,
		deps:        deps,
		contacts:    contacts,
		store:       st,
		notifier:    notifier,
		actions:     actions,
		tracker:     newCooldownTracker(),
		logger:      slog.Default(),
		nowFn:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Evaluate matches every static rule against the signal set, then checks the
// compound degradation trigger. Fired events are persisted and returned.
func (e *Engine) Evaluate(ctx context.Context, sig types.SignalSet) []types.EscalationEvent {
	now := e.nowFn()
	var fired []types.EscalationEvent

	for _, rule := range e.rules {
		reason, stageID, ok := e.matches(rule, sig)
		if !ok {
			continue
		}
		cooldown := time.Duration(rule.CooldownMinutes) * time.Minute
		if !e.tracker.TryFire(sig.SessionID, rule.ID, cooldown, rule.MaxPerSession, now) {
			continue
		}
		// SLA-triggered rules also reach the breached stage's configured
		// escalation contacts, not just the rule's static recipients.
		var extra []string
		if len(rule.Trigger.SLAStatusIn) > 0 {
			extra = e.contacts[stageID]
		}
		fired = append(fired, e.fire(ctx, sig.SessionID, rule, reason, extra, now))
	}

	if ev := e.checkCompound(ctx, sig, now); ev != nil {
		fired = append(fired, *ev)
	}

	return fired
}

// fire builds, delivers, and persists one escalation event. Extra recipients
// merge into the rule's static list, duplicates removed.
func (e *Engine) fire(ctx context.Context, sessionID string, rule types.EscalationRule, reason string, extra []string, now time.Time) types.EscalationEvent {
	recipients := mergeRecipients(rule.Recipients, extra)
	ev := types.EscalationEvent{
		EventID:       ulid.Make().String(),
		SessionID:     sessionID,
		RuleID:        rule.ID,
		Level:         rule.Level,
		TriggerReason: reason,
		Recipients:    recipients,
		RequiresAck:   rule.RequiresAck,
		FiredAt:       now,
	}

	if e.notifier != nil && len(recipients) > 0 {
		msg := fmt.Sprintf("[%s] session %s: %s", rule.Level, sessionID, reason)
		if _, err := e.notifier.Notify(ctx, recipients, rule.Level, msg, rule.RequiresAck); err != nil {
			e.logger.Error("escalation notify failed", "session", sessionID, "rule", rule.ID, "error", err)
			e.appendEvent(ctx, types.Event{
				Kind:      types.EventNotificationFailed,
				SessionID: sessionID,
				Message:   err.Error(),
				Timestamp: now,
			})
		}
	}

	ev.ActionsExecuted = e.execute(ctx, sessionID, rule, reason, now)

	if err := e.store.PutEscalation(ctx, ev); err != nil {
		e.logger.Error("persisting escalation failed", "session", sessionID, "rule", rule.ID, "error", err)
	}
	e.appendEvent(ctx, types.Event{
		Kind:      types.EventEscalationFired,
		SessionID: sessionID,
		Status:    string(rule.Level),
		Message:   reason,
		Details:   map[string]interface{}{"ruleId": rule.ID, "eventId": ev.EventID},
		Timestamp: now,
	})
	return ev
}

// execute runs the rule's automatic actions, returning those that succeeded.
func (e *Engine) execute(ctx context.Context, sessionID string, rule types.EscalationRule, reason string, now time.Time) []types.AutomaticAction {
	if e.actions == nil {
		return nil
	}
	var done []types.AutomaticAction
	for _, action := range rule.AutomaticActions {
		var err error
		switch action {
		case types.ActionPausePipeline:
			err = e.actions.PausePipeline(ctx, sessionID)
			if err == nil {
				e.appendEvent(ctx, types.Event{Kind: types.EventPipelinePaused, SessionID: sessionID, Timestamp: now})
			}
		case types.ActionRestartDependency:
			for _, service := range e.deps[rule.Trigger.StageID] {
				if restartErr := e.actions.RestartDependency(ctx, service); restartErr != nil {
					err = restartErr
				}
			}
		case types.ActionCreateIncident:
			var ticketID string
			ticketID, err = e.actions.CreateIncident(ctx, types.IncidentContext{
				SessionID: sessionID,
				RuleID:    rule.ID,
				Level:     rule.Level,
				Summary:   reason,
				CreatedAt: now,
			})
			if err == nil {
				e.appendEvent(ctx, types.Event{
					Kind:      types.EventIncidentCreated,
					SessionID: sessionID,
					Message:   ticketID,
					Timestamp: now,
				})
			}
		default:
			e.logger.Warn("unknown automatic action", "action", action, "rule", rule.ID)
			continue
		}
		if err != nil {
			e.logger.Error("automatic action failed", "action", action, "rule", rule.ID, "error", err)
			continue
		}
		done = append(done, action)
	}
	return done
}

// checkCompound fires the dynamic escalation when two or more stages are
// simultaneously at risk or breached, a compound degradation no single
// static rule anticipates.
func (e *Engine) checkCompound(ctx context.Context, sig types.SignalSet, now time.Time) *types.EscalationEvent {
	var degraded []string
	for _, r := range sig.SLAResults {
		if r.Status == types.SLAAtRisk || r.Status == types.SLABreached {
			degraded = append(degraded, r.StageID)
		}
	}
	if len(degraded) < compoundMinDegraded {
		return nil
	}
	if !e.tracker.TryFire(sig.SessionID, compoundRuleID, compoundCooldown, 0, now) {
		return nil
	}
	rule := types.EscalationRule{
		ID:          compoundRuleID,
		Level:       types.LevelCritical,
		RequiresAck: true,
	}
	var extra []string
	for _, stageID := range degraded {
		extra = append(extra, e.contacts[stageID]...)
	}
	reason := fmt.Sprintf("%d stages simultaneously degraded", len(degraded))
	ev := e.fire(ctx, sig.SessionID, rule, reason, extra, now)
	return &ev
}

// Acknowledge marks a pending escalation event as acknowledged by an operator.
func (e *Engine) Acknowledge(ctx context.Context, sessionID, eventID, operator string) error {
	ev, err := e.store.GetEscalation(ctx, sessionID, eventID)
	if err != nil {
		return err
	}
	if ev.Acknowledged {
		return nil
	}
	now := e.nowFn()
	ev.Acknowledged = true
	ev.AcknowledgedBy = operator
	ev.ResolvedAt = &now
	if err := e.store.PutEscalation(ctx, *ev); err != nil {
		return err
	}
	e.appendEvent(ctx, types.Event{
		Kind:      types.EventEscalationAcked,
		SessionID: sessionID,
		Message:   operator,
		Details:   map[string]interface{}{"eventId": eventID},
		Timestamp: now,
	})
	return nil
}

// ForgetSession releases cooldown counters once a session is terminal.
func (e *Engine) ForgetSession(sessionID string) {
	e.tracker.Forget(sessionID)
}

// mergeRecipients unions the static and contact lists, keeping first-seen
// order.
func mergeRecipients(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, r := range list {
			if r == "" || seen[r] {
				continue
			}
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) appendEvent(ctx context.Context, ev types.Event) {
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		e.logger.Error("appending event failed", "session", ev.SessionID, "kind", ev.Kind, "error", err)
	}
}
