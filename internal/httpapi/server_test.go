package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"guardian-monitor/internal/audit"
	"guardian-monitor/internal/models"
)

type fakeSessions struct {
	mu        sync.Mutex
	frames    map[string][]models.FrameSample
	snapshots map[string]models.Snapshot
	offerErr  error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		frames:    make(map[string][]models.FrameSample),
		snapshots: make(map[string]models.Snapshot),
	}
}

func (f *fakeSessions) Offer(sessionID string, frame models.FrameSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offerErr != nil {
		return f.offerErr
	}
	f.frames[sessionID] = append(f.frames[sessionID], frame)
	return nil
}

func (f *fakeSessions) Snapshot(_ context.Context, sessionID string) (models.Snapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snapshots[sessionID]
	return snap, ok, nil
}

type fakeHistory struct {
	transitions []audit.TransitionRecord
	alerts      []audit.AlertRecord
	gotLimit    int
}

func (f *fakeHistory) ListTransitions(_ context.Context, _ string, limit int) ([]audit.TransitionRecord, error) {
	f.gotLimit = limit
	return f.transitions, nil
}

func (f *fakeHistory) ListAlerts(_ context.Context, _ string, limit int) ([]audit.AlertRecord, error) {
	f.gotLimit = limit
	return f.alerts, nil
}

func newTestServer(t *testing.T) (*fakeSessions, *fakeHistory, *Hub, *httptest.Server) {
	t.Helper()
	sessions := newFakeSessions()
	history := &fakeHistory{}
	hub := NewHub()
	srv := httptest.NewServer(NewServer(sessions, history, hub, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return sessions, history, hub, srv
}

func TestIngestFrame(t *testing.T) {
	sessions, _, _, srv := newTestServer(t)

	frame := models.FrameSample{Timestamp: time.Now().UTC(), Confidence: 0.9}
	body, err := json.Marshal(frame)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/api/v1/sessions/sess-1/frames", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Len(t, sessions.frames["sess-1"], 1)
}

func TestIngestFrameValidation(t *testing.T) {
	_, _, _, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/sessions/s/frames", "application/json", strings.NewReader("not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Missing timestamp is rejected before it can poison window ordering.
	resp, err = http.Post(srv.URL+"/api/v1/sessions/s/frames", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSnapshot(t *testing.T) {
	sessions, _, _, srv := newTestServer(t)
	sessions.snapshots["sess-1"] = models.Snapshot{
		SessionID: "sess-1",
		State:     models.StateDrowsy,
		UpdatedAt: time.Now().UTC(),
	}

	resp, err := http.Get(srv.URL + "/api/v1/sessions/sess-1/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap models.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, models.StateDrowsy, snap.State)

	resp, err = http.Get(srv.URL + "/api/v1/sessions/unknown/snapshot")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTransitionHistory(t *testing.T) {
	_, history, _, srv := newTestServer(t)
	history.transitions = []audit.TransitionRecord{
		{EventID: "ev-1", FromState: "Alert", ToState: "Drowsy"},
	}

	resp, err := http.Get(srv.URL + "/api/v1/sessions/sess-1/transitions?limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, history.gotLimit)

	var body struct {
		Transitions []audit.TransitionRecord `json:"transitions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Transitions, 1)
	assert.Equal(t, "Drowsy", body.Transitions[0].ToState)
}

func TestAlertHistoryWithoutStore(t *testing.T) {
	sessions := newFakeSessions()
	srv := httptest.NewServer(NewServer(sessions, nil, NewHub(), zap.NewNop()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/sessions/s/alerts")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	_, _, _, srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketPush(t *testing.T) {
	sessions, _, hub, srv := newTestServer(t)
	sessions.snapshots["sess-1"] = models.Snapshot{SessionID: "sess-1", State: models.StateAlert}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/sess-1"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Initial snapshot on connect.
	var snap models.Snapshot
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, models.StateAlert, snap.State)

	// Live refresh.
	hub.Publish(models.Snapshot{SessionID: "sess-1", State: models.StateDrowsy})
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, models.StateDrowsy, snap.State)

	// Other sessions do not leak into this stream.
	hub.Publish(models.Snapshot{SessionID: "other", State: models.StateAsleep})
	hub.Publish(models.Snapshot{SessionID: "sess-1", State: models.StateAlert})
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, models.StateAlert, snap.State)
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe("s")
	defer cancel()

	// Fill the buffer and keep publishing; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish(models.Snapshot{SessionID: "s"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub publish blocked on a slow subscriber")
	}
}
