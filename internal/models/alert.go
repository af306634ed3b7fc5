package models

import "time"

// Escalation tiers, in ladder order.
const (
	TierLocal     = 0
	TierFamily    = 1
	TierEmergency = 2
)

// AlertOutcome is the lifecycle state of an AlertEvent.
type AlertOutcome string

const (
	OutcomePending   AlertOutcome = "pending"
	OutcomeSent      AlertOutcome = "sent"
	OutcomeFailed    AlertOutcome = "failed"
	OutcomeCancelled AlertOutcome = "cancelled"
	// OutcomeResolved marks the follow-up notice queued on channels that
	// were already notified when the episode ended.
	OutcomeResolved AlertOutcome = "resolved"
)

// StakeholderContact is one notification target, supplied by external
// configuration and read-only to this core.
type StakeholderContact struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Channel string `json:"channel" yaml:"channel"`
	Address string `json:"address" yaml:"address"`
}

// AlertEvent is one tier's dispatch within a danger episode. It is owned by
// the escalation engine until terminal, recorded to the audit log, then
// discarded.
type AlertEvent struct {
	EventID       string               `json:"event_id"`
	SessionID     string               `json:"session_id"`
	EpisodeID     string               `json:"episode_id"`
	CorrelationID string               `json:"correlation_id"` // triggering StateTransitionEvent
	Tier          int                  `json:"tier"`
	TierName      string               `json:"tier_name"`
	Contacts      []StakeholderContact `json:"contacts"`
	State         DriverState          `json:"state"`
	AlarmLevel    string               `json:"alarm_level"`
	Attempts      int                  `json:"attempts"`
	Outcome       AlertOutcome         `json:"outcome"`
	TriggeredAt   time.Time            `json:"triggered_at"`
	SentAt        *time.Time           `json:"sent_at,omitempty"`
}

// AlertSummary is the read-only view of an active AlertEvent exposed to the
// monitoring surface.
type AlertSummary struct {
	EventID     string       `json:"event_id"`
	Tier        int          `json:"tier"`
	TierName    string       `json:"tier_name"`
	Outcome     AlertOutcome `json:"outcome"`
	Attempts    int          `json:"attempts"`
	AlarmLevel  string       `json:"alarm_level"`
	TriggeredAt time.Time    `json:"triggered_at"`
}

// Snapshot is the read-only session view served to UI clients.
type Snapshot struct {
	SessionID    string         `json:"session_id"`
	State        DriverState    `json:"state"`
	Reading      WindowReading  `json:"reading"`
	ActiveAlerts []AlertSummary `json:"active_alerts"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
