package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"guardian-monitor/internal/audit"
	"guardian-monitor/internal/classifier"
	"guardian-monitor/internal/clock"
	"guardian-monitor/internal/escalation"
	"guardian-monitor/internal/metrics"
	"guardian-monitor/internal/models"
	"guardian-monitor/internal/window"
)

// Config holds the pipeline's windowing and cadence settings.
type Config struct {
	EyeWindow   time.Duration
	MouthWindow time.Duration
	PoseWindow  time.Duration
	Tick          time.Duration
	GracePeriod   time.Duration
	ClosedEAR     float64 // EAR cutoff counting a sample as eyes-closed for PERCLOS
	MinConfidence float64 // windowed mean below this marks the eye channel low-confidence
	QueueSize     int
}

// SnapshotSink receives the refreshed session snapshot after every
// classification tick.
type SnapshotSink interface {
	Publish(snapshot models.Snapshot)
}

// Pipeline owns one session's signal path: frames in, windows updated,
// classifier ticked, transitions audited and escalated. Frames are queued
// through a bounded buffer that drops the oldest on overflow; under
// pressure a fresh frame always beats a stale one.
//
// Classification cadence follows frame timestamps so recorded sessions
// replay identically. A wall-clock watchdog covers total signal loss,
// where no frame ever arrives to drive a tick.
type Pipeline struct {
	sessionID string
	cfg       Config

	calc     *metrics.Calculator
	eyes     *window.Scalar
	eyeConf  *window.Scalar
	mouth    *window.Scalar
	pitch    *window.Scalar
	yaw      *window.Scalar
	roll     *window.Scalar
	cls      *classifier.Classifier
	engine   *escalation.Engine
	recorder audit.Recorder
	sink     SnapshotSink
	clk      clock.Clock
	logger   *zap.Logger

	queue    chan models.FrameSample
	dropped  atomic.Int64
	watchdog clock.Timer

	lastSampleAt time.Time
	lastTickAt   time.Time
	lastMetric   models.MetricSample
	lastVehicle  *models.VehicleFlags
}

func New(sessionID string, cfg Config, calc *metrics.Calculator, cls *classifier.Classifier,
	engine *escalation.Engine, recorder audit.Recorder, sink SnapshotSink,
	clk clock.Clock, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		sessionID: sessionID,
		cfg:       cfg,
		calc:      calc,
		eyes:      window.NewScalar(cfg.EyeWindow),
		eyeConf:   window.NewScalar(cfg.EyeWindow),
		mouth:     window.NewScalar(cfg.MouthWindow),
		pitch:     window.NewScalar(cfg.PoseWindow),
		yaw:       window.NewScalar(cfg.PoseWindow),
		roll:      window.NewScalar(cfg.PoseWindow),
		cls:       cls,
		engine:    engine,
		recorder:  recorder,
		sink:      sink,
		clk:       clk,
		logger:    logger,
		queue:     make(chan models.FrameSample, cfg.QueueSize),
	}
}

// Offer enqueues a frame without blocking. When the queue is full the
// oldest frame is discarded to make room.
func (p *Pipeline) Offer(sample models.FrameSample) {
	for {
		select {
		case p.queue <- sample:
			return
		default:
		}
		select {
		case stale := <-p.queue:
			p.dropped.Add(1)
			p.logger.Debug("dropped stale frame",
				zap.String("session_id", p.sessionID),
				zap.Time("frame_at", stale.Timestamp))
		default:
		}
	}
}

// Dropped reports how many frames have been discarded under pressure.
func (p *Pipeline) Dropped() int64 {
	return p.dropped.Load()
}

// Run consumes queued frames until the context ends. Frames are processed
// serially; all classifier and window state is confined to this goroutine.
func (p *Pipeline) Run(ctx context.Context) {
	p.armWatchdog()
	defer func() {
		if p.watchdog != nil {
			p.watchdog.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case sample := <-p.queue:
			p.process(sample)
		}
	}
}

func (p *Pipeline) process(sample models.FrameSample) {
	if !p.lastSampleAt.IsZero() && sample.Timestamp.Before(p.lastSampleAt) {
		p.logger.Warn("discarding out-of-order frame",
			zap.String("session_id", p.sessionID),
			zap.Time("frame_at", sample.Timestamp),
			zap.Time("previous_at", p.lastSampleAt))
		return
	}

	if !p.lastSampleAt.IsZero() && sample.Timestamp.Sub(p.lastSampleAt) >= p.cfg.GracePeriod {
		p.logger.Info("signal gap, resetting windows",
			zap.String("session_id", p.sessionID),
			zap.Duration("gap", sample.Timestamp.Sub(p.lastSampleAt)))
		p.resetWindows()
	}

	m := p.calc.Compute(sample)
	p.eyes.Push(m.Timestamp, m.EAR, m.EyesValid)
	p.eyeConf.Push(m.Timestamp, m.Confidence, m.EyesValid)
	p.mouth.Push(m.Timestamp, m.MAR, m.MouthValid)
	p.pitch.Push(m.Timestamp, m.Pitch, m.PoseValid)
	p.yaw.Push(m.Timestamp, m.Yaw, m.PoseValid)
	p.roll.Push(m.Timestamp, m.Roll, m.PoseValid)

	p.lastSampleAt = sample.Timestamp
	p.lastMetric = m
	if sample.Vehicle != nil {
		p.lastVehicle = sample.Vehicle
	}

	if p.lastTickAt.IsZero() || sample.Timestamp.Sub(p.lastTickAt) >= p.cfg.Tick {
		p.tick(sample.Timestamp)
	}
	p.armWatchdog()
}

func (p *Pipeline) resetWindows() {
	p.eyes.Reset()
	p.eyeConf.Reset()
	p.mouth.Reset()
	p.pitch.Reset()
	p.yaw.Reset()
	p.roll.Reset()
	p.lastMetric = models.MetricSample{}
	p.lastVehicle = nil
}

func (p *Pipeline) tick(at time.Time) {
	p.lastTickAt = at
	reading := p.reading(at)

	if event := p.cls.Observe(reading); event != nil {
		if err := p.recorder.RecordTransition(context.Background(), *event); err != nil {
			p.logger.Error("failed to record state transition",
				zap.String("event_id", event.EventID),
				zap.Error(err))
		}
		p.engine.HandleTransition(*event)
	}

	p.publish(reading)
}

func (p *Pipeline) reading(at time.Time) models.WindowReading {
	reading := models.WindowReading{
		Timestamp:   at,
		EyeCoverage: p.eyes.Coverage(),
		FaceVisible: p.lastMetric.EyesValid,
		Vehicle:     p.lastVehicle,
	}
	if mean, ok := p.eyes.Mean(); ok {
		reading.MeanEAR = mean
	}
	if frac, ok := p.eyes.FracBelow(p.cfg.ClosedEAR); ok {
		reading.PERCLOS = frac
	}
	if mean, ok := p.eyeConf.Mean(); ok {
		reading.EyeLowConfidence = mean < p.cfg.MinConfidence
	}

	reading.MouthCoverage = p.mouth.Coverage()
	if latest, ok := p.mouth.Latest(); ok {
		reading.MAR = latest
	}
	if mean, ok := p.mouth.Mean(); ok {
		reading.MeanMAR = mean
	}

	reading.PoseCoverage = p.yaw.Coverage()
	if mean, ok := p.pitch.Mean(); ok {
		reading.MeanPitch = mean
	}
	if mean, ok := p.yaw.Mean(); ok {
		reading.MeanYaw = mean
	}
	if mean, ok := p.roll.Mean(); ok {
		reading.MeanRoll = mean
	}
	if v, ok := p.yaw.Variance(); ok {
		reading.YawVariance = v
	}
	if v, ok := p.roll.Variance(); ok {
		reading.RollVariance = v
	}
	return reading
}

func (p *Pipeline) publish(reading models.WindowReading) {
	if p.sink == nil {
		return
	}
	p.sink.Publish(models.Snapshot{
		SessionID:    p.sessionID,
		State:        p.cls.State(),
		Reading:      reading,
		ActiveAlerts: p.engine.ActiveAlerts(),
		UpdatedAt:    p.clk.Now(),
	})
}

// armWatchdog schedules a synthetic tick one grace period out. A camera
// that stops delivering frames entirely would otherwise never drive the
// classifier into Unknown.
func (p *Pipeline) armWatchdog() {
	if p.watchdog != nil {
		p.watchdog.Stop()
	}
	p.watchdog = p.clk.AfterFunc(p.cfg.GracePeriod+p.cfg.Tick, func() {
		p.Offer(models.FrameSample{Timestamp: p.clk.Now()})
	})
}
