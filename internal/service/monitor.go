package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"guardian-monitor/internal/audit"
	"guardian-monitor/internal/channel"
	"guardian-monitor/internal/classifier"
	"guardian-monitor/internal/clock"
	"guardian-monitor/internal/config"
	"guardian-monitor/internal/escalation"
	"guardian-monitor/internal/metrics"
	"guardian-monitor/internal/models"
	"guardian-monitor/internal/pipeline"
)

// Deps are the external collaborators wired in by main.
type Deps struct {
	Channels channel.Registry
	Recorder audit.Recorder
	Cache    *audit.StateCache // optional
	Sink     pipeline.SnapshotSink
	Clock    clock.Clock
	Logger   *zap.Logger
}

// Monitor owns the driver sessions. Each session gets its own pipeline,
// classifier and escalation engine; sessions are created lazily on the
// first frame and torn down together on Close.
type Monitor struct {
	cfg  *config.Config
	deps Deps

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	sessions  map[string]*session
	snapshots map[string]models.Snapshot
	vehicle   *models.VehicleFlags
}

type session struct {
	pipe   *pipeline.Pipeline
	engine *escalation.Engine
}

func NewMonitor(cfg *config.Config, deps Deps) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		cfg:       cfg,
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*session),
		snapshots: make(map[string]models.Snapshot),
	}
	return m
}

// Offer routes one frame into its session, creating the session on first
// contact. Frames without vehicle data are annotated with the latest bus
// telemetry so corroboration stays current between bus messages.
func (m *Monitor) Offer(sessionID string, frame models.FrameSample) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return fmt.Errorf("monitor is shutting down")
	}
	sess, ok := m.sessions[sessionID]
	if !ok {
		sess = m.startSessionLocked(sessionID)
	}
	if frame.Vehicle == nil && m.vehicle != nil {
		flags := *m.vehicle
		frame.Vehicle = &flags
	}
	m.mu.Unlock()

	sess.pipe.Offer(frame)
	return nil
}

// SetVehicleFlags records the latest vehicle-bus telemetry.
func (m *Monitor) SetVehicleFlags(flags models.VehicleFlags) {
	m.mu.Lock()
	m.vehicle = &flags
	m.mu.Unlock()
}

// Snapshot serves the latest session view. The in-process copy is
// authoritative; the shared cache covers reads from other instances.
func (m *Monitor) Snapshot(ctx context.Context, sessionID string) (models.Snapshot, bool, error) {
	m.mu.Lock()
	snap, ok := m.snapshots[sessionID]
	m.mu.Unlock()
	if ok {
		return snap, true, nil
	}
	if m.deps.Cache != nil {
		return m.deps.Cache.Get(ctx, sessionID)
	}
	return models.Snapshot{}, false, nil
}

// Publish implements pipeline.SnapshotSink: keep the in-process copy,
// refresh the shared cache, and fan out to live subscribers.
func (m *Monitor) Publish(snapshot models.Snapshot) {
	m.mu.Lock()
	m.snapshots[snapshot.SessionID] = snapshot
	m.mu.Unlock()

	if m.deps.Cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.deps.Cache.Put(ctx, snapshot); err != nil {
			m.deps.Logger.Warn("failed to refresh snapshot cache",
				zap.String("session_id", snapshot.SessionID),
				zap.Error(err))
		}
		cancel()
	}
	if m.deps.Sink != nil {
		m.deps.Sink.Publish(snapshot)
	}
}

// Close stops all sessions and waits for in-flight dispatches.
func (m *Monitor) Close() {
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	engines := make([]*escalation.Engine, 0, len(m.sessions))
	for _, sess := range m.sessions {
		engines = append(engines, sess.engine)
	}
	m.mu.Unlock()
	for _, engine := range engines {
		engine.Wait()
	}
}

// startSessionLocked builds the session's full signal path. Caller holds
// the lock.
func (m *Monitor) startSessionLocked(sessionID string) *session {
	d := m.cfg.Detection

	cls := classifier.New(sessionID, classifier.Config{
		MinCoverage:       d.MinCoverage,
		PerclosThreshold:  d.PerclosThreshold,
		DrowsyDwell:       d.DrowsyDwell,
		ClosedEAR:         d.ClosedEAR,
		AsleepDwell:       d.AsleepDwell,
		RecoveryDwell:     d.RecoveryDwell,
		GracePeriod:       d.GracePeriod,
		IntoxPeriod:       d.IntoxPeriod,
		YawnMAR:           d.YawnMAR,
		YawnMinDuration:   d.YawnMinDuration,
		YawnCount:         d.YawnCount,
		YawVarianceLimit:  d.YawVarianceLimit,
		RollVarianceLimit: d.RollVarianceLimit,
	}, m.deps.Logger)

	engine := escalation.NewEngine(
		escalation.Config{
			RetryCap:    m.cfg.Escalation.RetryCap,
			BackoffBase: m.cfg.Escalation.BackoffBase,
		},
		m.tierPolicies(),
		m.deps.Channels,
		m.deps.Recorder,
		m.deps.Clock,
		m.deps.Logger,
	)

	pipe := pipeline.New(sessionID, pipeline.Config{
		EyeWindow:     d.EyeWindow,
		MouthWindow:   d.MouthWindow,
		PoseWindow:    d.PoseWindow,
		Tick:          d.Tick,
		GracePeriod:   d.GracePeriod,
		ClosedEAR:     d.ClosedEAR,
		MinConfidence: d.MinConfidence,
		QueueSize:     m.cfg.Escalation.QueueSize,
	}, metrics.NewCalculator(d.MinConfidence), cls, engine, m.deps.Recorder, m, m.deps.Clock, m.deps.Logger)

	sess := &session{pipe: pipe, engine: engine}
	m.sessions[sessionID] = sess

	// Snapshot refreshes on alert outcome changes, not just ticks.
	engine.OnChange = func() {
		m.mu.Lock()
		snap, ok := m.snapshots[sessionID]
		if ok {
			snap.ActiveAlerts = engine.ActiveAlerts()
			snap.UpdatedAt = m.deps.Clock.Now()
			m.snapshots[sessionID] = snap
		}
		m.mu.Unlock()
		if ok && m.deps.Sink != nil {
			m.deps.Sink.Publish(snap)
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		pipe.Run(m.ctx)
	}()

	m.deps.Logger.Info("session started", zap.String("session_id", sessionID))
	return sess
}

// tierPolicies maps the contact roster onto the ladder. Without a roster
// the local tier still drives the cabin alarm; remote tiers stay empty.
func (m *Monitor) tierPolicies() []escalation.TierPolicy {
	delays := []time.Duration{0, m.cfg.Escalation.Tier1Delay, m.cfg.Escalation.Tier2Delay}
	names := []string{"local", "family", "emergency"}

	policies := make([]escalation.TierPolicy, 3)
	for i := range policies {
		policies[i] = escalation.TierPolicy{Name: names[i], Delay: delays[i]}
		if i < len(m.cfg.Escalation.Tiers) {
			if m.cfg.Escalation.Tiers[i].Name != "" {
				policies[i].Name = m.cfg.Escalation.Tiers[i].Name
			}
			policies[i].Contacts = m.cfg.Escalation.Tiers[i].Contacts
		}
	}
	if len(m.cfg.Escalation.Tiers) == 0 {
		if _, ok := m.deps.Channels["local"]; ok {
			policies[0].Contacts = []models.StakeholderContact{{ID: "cabin", Name: "Cabin Alarm", Channel: "local"}}
		}
	}
	return policies
}
