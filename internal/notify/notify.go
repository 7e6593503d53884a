// Package notify implements notification and incident delivery to multiple
// sinks. Delivery is fire-and-forget: the core never blocks pipeline
// progression on confirmation.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gangplank-systems/gangplank/pkg/types"
)

// Message is one outbound notification.
type Message struct {
	NotificationID string                `json:"notificationId"`
	Recipients     []string              `json:"recipients,omitempty"`
	Level          types.EscalationLevel `json:"level"`
	Text           string                `json:"message"`
	RequiresAck    bool                  `json:"requiresAck"`
	Timestamp      time.Time             `json:"timestamp"`
}

// Sink is a notification destination.
type Sink interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Dispatcher routes notifications and incidents to configured sinks.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher from notifier configs.
func NewDispatcher(configs []types.NotifierConfig, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{logger: logger}
	for _, cfg := range configs {
		sink, err := newSink(cfg)
		if err != nil {
			return nil, fmt.Errorf("creating %s sink: %w", cfg.Type, err)
		}
		d.sinks = append(d.sinks, sink)
	}
	return d, nil
}

// Notify delivers a message to every sink and returns the notification ID.
// Per-sink failures are logged; the call errors only when every sink fails.
func (d *Dispatcher) Notify(ctx context.Context, recipients []string, level types.EscalationLevel, message string, requiresAck bool) (string, error) {
	msg := Message{
		NotificationID: ulid.Make().String(),
		Recipients:     recipients,
		Level:          level,
		Text:           message,
		RequiresAck:    requiresAck,
		Timestamp:      time.Now(),
	}
	if err := d.send(ctx, msg); err != nil {
		return msg.NotificationID, err
	}
	return msg.NotificationID, nil
}

// CreateIncident records an incident with the ticketing collaborator and
// returns the ticket ID.
func (d *Dispatcher) CreateIncident(ctx context.Context, ic types.IncidentContext) (string, error) {
	ticketID := "INC-" + ulid.Make().String()
	msg := Message{
		NotificationID: ticketID,
		Level:          ic.Level,
		Text:           fmt.Sprintf("incident %s (session %s): %s", ticketID, ic.SessionID, ic.Summary),
		Timestamp:      time.Now(),
	}
	if err := d.send(ctx, msg); err != nil {
		return ticketID, err
	}
	return ticketID, nil
}

func (d *Dispatcher) send(ctx context.Context, msg Message) error {
	if len(d.sinks) == 0 {
		return nil
	}
	failed := 0
	for _, sink := range d.sinks {
		if err := sink.Send(ctx, msg); err != nil {
			failed++
			d.logger.Error("notification delivery failed", "sink", sink.Name(), "error", err)
		}
	}
	if failed == len(d.sinks) {
		return fmt.Errorf("all %d sinks failed", failed)
	}
	return nil
}

func newSink(cfg types.NotifierConfig) (Sink, error) {
	switch cfg.Type {
	case types.NotifierConsole:
		return NewConsoleSink(), nil
	case types.NotifierWebhook:
		if cfg.URL == "" {
			return nil, fmt.Errorf("webhook URL required")
		}
		return NewWebhookSink(cfg.URL), nil
	case types.NotifierFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file path required")
		}
		return NewFileSink(cfg.Path)
	case types.NotifierSNS:
		return NewSNSSink(cfg.TopicARN)
	default:
		return nil, fmt.Errorf("unknown notifier type %q", cfg.Type)
	}
}
