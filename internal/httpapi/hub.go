package httpapi

import (
	"sync"

	"guardian-monitor/internal/models"
)

// Hub fans session snapshots out to websocket subscribers. Publishing
// never blocks; a subscriber that cannot keep up loses intermediate
// snapshots, not the stream.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan models.Snapshot]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan models.Snapshot]struct{})}
}

// Publish delivers a snapshot to every subscriber of its session.
func (h *Hub) Publish(snapshot models.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[snapshot.SessionID] {
		select {
		case ch <- snapshot:
		default:
			// Slow consumer: drop this snapshot for them.
		}
	}
}

// Subscribe registers for a session's snapshots. The returned cancel
// function must be called to release the subscription.
func (h *Hub) Subscribe(sessionID string) (<-chan models.Snapshot, func()) {
	ch := make(chan models.Snapshot, 8)
	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan models.Snapshot]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs[sessionID], ch)
		if len(h.subs[sessionID]) == 0 {
			delete(h.subs, sessionID)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}
