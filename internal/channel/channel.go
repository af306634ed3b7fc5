package channel

import (
	"context"
	"time"

	"guardian-monitor/internal/models"
)

// Message is one notification to a stakeholder. The same message value is
// handed to every contact of a tier; Resolved marks the all-clear notice
// sent after a driver recovers.
type Message struct {
	SessionID   string             `json:"session_id"`
	EpisodeID   string             `json:"episode_id"`
	EventID     string             `json:"event_id"`
	Tier        int                `json:"tier"`
	State       models.DriverState `json:"state"`
	AlarmLevel  string             `json:"alarm_level"`
	Body        string             `json:"body"`
	TriggeredAt time.Time          `json:"triggered_at"`
	Resolved    bool               `json:"resolved"`
}

// Channel delivers messages over one transport. Send must be safe for
// concurrent use; delivery retries are the caller's responsibility.
type Channel interface {
	Name() string
	Send(ctx context.Context, contact models.StakeholderContact, msg Message) error
}

// Registry maps roster channel names to transports.
type Registry map[string]Channel

// Lookup returns the transport for a contact's channel name.
func (r Registry) Lookup(contact models.StakeholderContact) (Channel, bool) {
	ch, ok := r[contact.Channel]
	return ch, ok
}
