package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"guardian-monitor/internal/models"
)

func TestRecordTransition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	recorder := NewPostgresRecorder(db, zap.NewNop())
	event := models.StateTransitionEvent{
		EventID:   "ev-1",
		SessionID: "sess-1",
		From:      models.StateAlert,
		To:        models.StateDrowsy,
		Timestamp: time.Now(),
		Metrics:   models.WindowReading{PERCLOS: 0.4, MeanEAR: 0.15},
	}

	mock.ExpectExec("INSERT INTO state_transitions").
		WithArgs(event.EventID, event.SessionID, "Alert", "Drowsy", event.Timestamp, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, recorder.RecordTransition(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordAlert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	recorder := NewPostgresRecorder(db, zap.NewNop())
	sentAt := time.Now()
	event := models.AlertEvent{
		EventID:       "al-1",
		SessionID:     "sess-1",
		EpisodeID:     "ep-1",
		CorrelationID: "ev-1",
		Tier:          models.TierFamily,
		TierName:      "family",
		Contacts:      []models.StakeholderContact{{ID: "spouse", Channel: "sms", Address: "+15550100"}},
		State:         models.StateDrowsy,
		AlarmLevel:    "WARNING",
		Attempts:      2,
		Outcome:       models.OutcomeSent,
		TriggeredAt:   sentAt.Add(-5 * time.Second),
		SentAt:        &sentAt,
	}

	mock.ExpectExec("INSERT INTO alert_outcomes").
		WithArgs(event.EventID, event.SessionID, event.EpisodeID, event.CorrelationID,
			event.Tier, event.TierName, sqlmock.AnyArg(), "Drowsy", "WARNING",
			event.Attempts, "sent", event.TriggeredAt, event.SentAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, recorder.RecordAlert(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTransitions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	recorder := NewPostgresRecorder(db, zap.NewNop())
	now := time.Now()

	rows := sqlmock.NewRows([]string{"event_id", "session_id", "from_state", "to_state", "occurred_at", "metrics"}).
		AddRow("ev-2", "sess-1", "Drowsy", "Asleep", now, `{"perclos":1}`).
		AddRow("ev-1", "sess-1", "Alert", "Drowsy", now.Add(-time.Second), `{"perclos":0.4}`)

	mock.ExpectQuery("SELECT event_id, session_id, from_state, to_state, occurred_at, metrics").
		WithArgs("sess-1", 10).
		WillReturnRows(rows)

	records, err := recorder.ListTransitions(context.Background(), "sess-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Asleep", records[0].ToState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAlertsDefaultLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	recorder := NewPostgresRecorder(db, zap.NewNop())

	rows := sqlmock.NewRows([]string{"event_id", "session_id", "episode_id", "tier", "tier_name",
		"state", "alarm_level", "attempts", "outcome", "triggered_at", "sent_at"}).
		AddRow("al-1", "sess-1", "ep-1", 2, "emergency", "Asleep", "CRIT", 1, "sent", time.Now(), nil)

	mock.ExpectQuery("SELECT event_id, session_id, episode_id, tier, tier_name").
		WithArgs("sess-1", 100).
		WillReturnRows(rows)

	records, err := recorder.ListAlerts(context.Background(), "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "emergency", records[0].TierName)
	assert.Nil(t, records[0].SentAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
