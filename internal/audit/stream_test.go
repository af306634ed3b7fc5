package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"guardian-monitor/internal/models"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestStreamRecorderTransition(t *testing.T) {
	_, client := newTestRedis(t)
	recorder := NewStreamRecorder(client, "guardian:transitions", "guardian:alerts", zap.NewNop())

	event := models.StateTransitionEvent{
		EventID:   "ev-1",
		SessionID: "sess-1",
		From:      models.StateAlert,
		To:        models.StateAsleep,
		Timestamp: time.Now(),
	}
	require.NoError(t, recorder.RecordTransition(context.Background(), event))

	msgs, err := client.XRange(context.Background(), "guardian:transitions", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ev-1", msgs[0].Values["event_id"])
	assert.Equal(t, "Asleep", msgs[0].Values["to"])

	var decoded models.StateTransitionEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["payload"].(string)), &decoded))
	assert.Equal(t, event.SessionID, decoded.SessionID)
}

func TestStreamRecorderAlert(t *testing.T) {
	_, client := newTestRedis(t)
	recorder := NewStreamRecorder(client, "guardian:transitions", "guardian:alerts", zap.NewNop())

	event := models.AlertEvent{
		EventID:   "al-1",
		SessionID: "sess-1",
		Tier:      models.TierEmergency,
		Outcome:   models.OutcomeFailed,
		State:     models.StateAsleep,
	}
	require.NoError(t, recorder.RecordAlert(context.Background(), event))

	msgs, err := client.XRange(context.Background(), "guardian:alerts", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "failed", msgs[0].Values["outcome"])
}

func TestStateCachePutGet(t *testing.T) {
	mr, client := newTestRedis(t)
	cache := NewStateCache(client, "guardian:session:", 30*time.Second, zap.NewNop())

	snapshot := models.Snapshot{
		SessionID: "sess-1",
		State:     models.StateDrowsy,
		ActiveAlerts: []models.AlertSummary{
			{EventID: "al-1", Tier: models.TierLocal, Outcome: models.OutcomeSent},
		},
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, cache.Put(context.Background(), snapshot))

	got, found, err := cache.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.StateDrowsy, got.State)
	require.Len(t, got.ActiveAlerts, 1)

	// Expiry makes the session unknown again.
	mr.FastForward(time.Minute)
	_, found, err = cache.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStateCacheMiss(t *testing.T) {
	_, client := newTestRedis(t)
	cache := NewStateCache(client, "guardian:session:", time.Minute, zap.NewNop())

	_, found, err := cache.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMultiRecorderContinuesOnError(t *testing.T) {
	_, client := newTestRedis(t)
	stream := NewStreamRecorder(client, "t", "a", zap.NewNop())

	failing := failingRecorder{}
	multi := Multi{failing, stream}

	err := multi.RecordTransition(context.Background(), models.StateTransitionEvent{EventID: "ev"})
	assert.Error(t, err)

	// The stream recorder still ran.
	msgs, rerr := client.XRange(context.Background(), "t", "-", "+").Result()
	require.NoError(t, rerr)
	assert.Len(t, msgs, 1)
}

type failingRecorder struct{}

func (failingRecorder) RecordTransition(context.Context, models.StateTransitionEvent) error {
	return assert.AnError
}

func (failingRecorder) RecordAlert(context.Context, models.AlertEvent) error {
	return assert.AnError
}
