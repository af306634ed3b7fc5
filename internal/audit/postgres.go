package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"guardian-monitor/internal/models"
)

// PostgresRecorder writes the durable audit trail. Metric and contact
// payloads are stored as JSONB so reviews can query into them without
// schema churn.
type PostgresRecorder struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresRecorder(db *sql.DB, logger *zap.Logger) *PostgresRecorder {
	return &PostgresRecorder{db: db, logger: logger}
}

func (r *PostgresRecorder) RecordTransition(ctx context.Context, event models.StateTransitionEvent) error {
	metrics, err := json.Marshal(event.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal transition metrics: %w", err)
	}

	query := `
		INSERT INTO state_transitions (
			event_id,
			session_id,
			from_state,
			to_state,
			occurred_at,
			metrics
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.db.ExecContext(ctx, query,
		event.EventID,
		event.SessionID,
		string(event.From),
		string(event.To),
		event.Timestamp,
		string(metrics),
	)
	if err != nil {
		return fmt.Errorf("failed to insert state transition: %w", err)
	}

	r.logger.Debug("state transition recorded",
		zap.String("event_id", event.EventID),
		zap.String("to", string(event.To)))
	return nil
}

func (r *PostgresRecorder) RecordAlert(ctx context.Context, event models.AlertEvent) error {
	contacts, err := json.Marshal(event.Contacts)
	if err != nil {
		return fmt.Errorf("failed to marshal alert contacts: %w", err)
	}

	query := `
		INSERT INTO alert_outcomes (
			event_id,
			session_id,
			episode_id,
			correlation_id,
			tier,
			tier_name,
			contacts,
			state,
			alarm_level,
			attempts,
			outcome,
			triggered_at,
			sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.db.ExecContext(ctx, query,
		event.EventID,
		event.SessionID,
		event.EpisodeID,
		event.CorrelationID,
		event.Tier,
		event.TierName,
		string(contacts),
		string(event.State),
		event.AlarmLevel,
		event.Attempts,
		string(event.Outcome),
		event.TriggeredAt,
		event.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert outcome: %w", err)
	}

	r.logger.Debug("alert outcome recorded",
		zap.String("event_id", event.EventID),
		zap.String("outcome", string(event.Outcome)))
	return nil
}

// TransitionRecord is one audit row returned to review queries.
type TransitionRecord struct {
	EventID    string    `json:"event_id"`
	SessionID  string    `json:"session_id"`
	FromState  string    `json:"from_state"`
	ToState    string    `json:"to_state"`
	OccurredAt time.Time `json:"occurred_at"`
	Metrics    string    `json:"metrics"` // JSONB payload
}

// ListTransitions returns the most recent transitions for a session,
// newest first.
func (r *PostgresRecorder) ListTransitions(ctx context.Context, sessionID string, limit int) ([]TransitionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT event_id, session_id, from_state, to_state, occurred_at, metrics
		FROM state_transitions
		WHERE session_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query state transitions: %w", err)
	}
	defer rows.Close()

	var records []TransitionRecord
	for rows.Next() {
		var rec TransitionRecord
		if err := rows.Scan(&rec.EventID, &rec.SessionID, &rec.FromState, &rec.ToState, &rec.OccurredAt, &rec.Metrics); err != nil {
			return nil, fmt.Errorf("failed to scan state transition: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate state transitions: %w", err)
	}
	return records, nil
}

// AlertRecord is one alert outcome row returned to review queries.
type AlertRecord struct {
	EventID     string     `json:"event_id"`
	SessionID   string     `json:"session_id"`
	EpisodeID   string     `json:"episode_id"`
	Tier        int        `json:"tier"`
	TierName    string     `json:"tier_name"`
	State       string     `json:"state"`
	AlarmLevel  string     `json:"alarm_level"`
	Attempts    int        `json:"attempts"`
	Outcome     string     `json:"outcome"`
	TriggeredAt time.Time  `json:"triggered_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
}

// ListAlerts returns the most recent alert outcomes for a session,
// newest first.
func (r *PostgresRecorder) ListAlerts(ctx context.Context, sessionID string, limit int) ([]AlertRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT event_id, session_id, episode_id, tier, tier_name, state,
		       alarm_level, attempts, outcome, triggered_at, sent_at
		FROM alert_outcomes
		WHERE session_id = $1
		ORDER BY triggered_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert outcomes: %w", err)
	}
	defer rows.Close()

	var records []AlertRecord
	for rows.Next() {
		var rec AlertRecord
		if err := rows.Scan(&rec.EventID, &rec.SessionID, &rec.EpisodeID, &rec.Tier, &rec.TierName,
			&rec.State, &rec.AlarmLevel, &rec.Attempts, &rec.Outcome, &rec.TriggeredAt, &rec.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert outcome: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert outcomes: %w", err)
	}
	return records, nil
}
