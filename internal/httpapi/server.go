package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"guardian-monitor/internal/audit"
	"guardian-monitor/internal/models"
)

// SessionProvider is the pipeline-facing surface: frames in, snapshots out.
type SessionProvider interface {
	Offer(sessionID string, frame models.FrameSample) error
	Snapshot(ctx context.Context, sessionID string) (models.Snapshot, bool, error)
}

// History serves audit queries. Nil when no durable audit store is
// configured.
type History interface {
	ListTransitions(ctx context.Context, sessionID string, limit int) ([]audit.TransitionRecord, error)
	ListAlerts(ctx context.Context, sessionID string, limit int) ([]audit.AlertRecord, error)
}

// Server exposes the monitoring read surface and the frame ingest
// endpoint. The read surface never touches pipeline internals; it reads
// cached snapshots and audit rows only.
type Server struct {
	sessions SessionProvider
	history  History
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewServer(sessions SessionProvider, history History, hub *Hub, logger *zap.Logger) *Server {
	return &Server{
		sessions: sessions,
		history:  history,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sessions/{id}/frames", s.handleIngestFrame)
	mux.HandleFunc("GET /api/v1/sessions/{id}/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/v1/sessions/{id}/transitions", s.handleTransitions)
	mux.HandleFunc("GET /api/v1/sessions/{id}/alerts", s.handleAlerts)
	mux.HandleFunc("GET /ws/sessions/{id}", s.handleWebSocket)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

func (s *Server) handleIngestFrame(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var frame models.FrameSample
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid frame payload")
		return
	}
	if frame.Timestamp.IsZero() {
		s.writeError(w, http.StatusBadRequest, "frame timestamp is required")
		return
	}

	if err := s.sessions.Offer(sessionID, frame); err != nil {
		s.logger.Error("frame ingest failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to ingest frame")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	snapshot, found, err := s.sessions.Snapshot(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("snapshot lookup failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read snapshot")
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotImplemented, "audit store not configured")
		return
	}
	records, err := s.history.ListTransitions(r.Context(), r.PathValue("id"), parseLimit(r))
	if err != nil {
		s.logger.Error("transition history query failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to query transitions")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"transitions": records})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotImplemented, "audit store not configured")
		return
	}
	records, err := s.history.ListAlerts(r.Context(), r.PathValue("id"), parseLimit(r))
	if err != nil {
		s.logger.Error("alert history query failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to query alerts")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": records})
}

// handleWebSocket streams snapshots for one session. The current snapshot
// is sent on connect when available, then every refresh as it happens.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, cancel := s.hub.Subscribe(sessionID)
	defer cancel()

	if snapshot, found, err := s.sessions.Snapshot(r.Context(), sessionID); err == nil && found {
		if err := conn.WriteJSON(snapshot); err != nil {
			return
		}
	}

	// Reader goroutine detects the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case snapshot := <-updates:
			if err := conn.WriteJSON(snapshot); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return 0
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
