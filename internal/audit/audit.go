package audit

import (
	"context"

	"guardian-monitor/internal/models"
)

// Recorder persists the audit trail: every state transition and every
// terminal alert event. Recording happens before the escalation engine
// discards an event, so the trail is complete even when delivery failed.
type Recorder interface {
	RecordTransition(ctx context.Context, event models.StateTransitionEvent) error
	RecordAlert(ctx context.Context, event models.AlertEvent) error
}

// Multi fans a record out to several recorders. A failure in one recorder
// does not stop the others; the first error is returned.
type Multi []Recorder

func (m Multi) RecordTransition(ctx context.Context, event models.StateTransitionEvent) error {
	var first error
	for _, r := range m {
		if err := r.RecordTransition(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) RecordAlert(ctx context.Context, event models.AlertEvent) error {
	var first error
	for _, r := range m {
		if err := r.RecordAlert(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Nop discards everything. Used in tests and when no audit sink is
// configured.
type Nop struct{}

func (Nop) RecordTransition(context.Context, models.StateTransitionEvent) error { return nil }
func (Nop) RecordAlert(context.Context, models.AlertEvent) error                { return nil }
