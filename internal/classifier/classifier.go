package classifier

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"guardian-monitor/internal/models"
)

// Config holds the classification thresholds. All dwell comparisons are
// inclusive, so a condition held for exactly its dwell duration fires.
type Config struct {
	MinCoverage      float64
	PerclosThreshold float64
	DrowsyDwell      time.Duration
	ClosedEAR        float64
	AsleepDwell      time.Duration
	RecoveryDwell    time.Duration
	GracePeriod      time.Duration

	IntoxPeriod       time.Duration
	YawnMAR           float64
	YawnMinDuration   time.Duration
	YawnCount         int
	YawVarianceLimit  float64
	RollVarianceLimit float64
}

// Classifier runs the hysteretic state machine for one driver session.
// It is driven purely by reading timestamps, never by the wall clock, so
// replayed sessions classify identically to live ones.
//
// Two tracks run independently: the eye track (Alert/Drowsy/Asleep) and the
// intoxication track. The published state is the more severe of the two,
// except that a face lost beyond the grace period publishes Unknown.
//
// Not safe for concurrent use; the pipeline serializes ticks per session.
type Classifier struct {
	cfg       Config
	logger    *zap.Logger
	sessionID string

	state    models.DriverState
	eyeLevel models.DriverState

	drowsySince   time.Time
	closedSince   time.Time
	recoverySince time.Time

	lastFaceAt     time.Time
	lastObservedAt time.Time
	observed       bool

	yawnStart   time.Time
	yawnCounted bool
	yawns       []time.Time
	intoxActive bool
}

// New builds a classifier for one session. Sessions start Alert.
func New(sessionID string, cfg Config, logger *zap.Logger) *Classifier {
	return &Classifier{
		cfg:       cfg,
		logger:    logger,
		sessionID: sessionID,
		state:     models.StateAlert,
		eyeLevel:  models.StateAlert,
	}
}

// State returns the currently published state.
func (c *Classifier) State() models.DriverState {
	return c.state
}

// Observe processes one classification tick. It returns a transition event
// when the published state changed, nil otherwise.
func (c *Classifier) Observe(reading models.WindowReading) *models.StateTransitionEvent {
	now := reading.Timestamp

	if !c.observed {
		c.observed = true
		c.lastFaceAt = now
	} else if now.Sub(c.lastObservedAt) >= c.cfg.GracePeriod {
		// A tick gap this long means the signal dropped out. Dwell
		// evidence must not bridge the discontinuity.
		c.resetEyeTimers()
		c.yawnStart = time.Time{}
		c.yawnCounted = false
	}
	c.lastObservedAt = now
	if reading.FaceVisible {
		c.lastFaceAt = now
	}

	c.updateEyeTrack(reading, now)
	c.updateIntoxTrack(reading, now)

	next := c.combined(now)
	if next == c.state {
		return nil
	}

	event := &models.StateTransitionEvent{
		EventID:   uuid.New().String(),
		SessionID: c.sessionID,
		From:      c.state,
		To:        next,
		Timestamp: now,
		Metrics:   reading,
	}
	c.logger.Info("driver state transition",
		zap.String("session_id", c.sessionID),
		zap.String("from", string(event.From)),
		zap.String("to", string(event.To)),
		zap.Float64("perclos", reading.PERCLOS),
		zap.Float64("mean_ear", reading.MeanEAR))
	c.state = next
	return event
}

// combined publishes Unknown once the face has been lost beyond the grace
// period; otherwise the more severe of the two tracks wins.
func (c *Classifier) combined(now time.Time) models.DriverState {
	if now.Sub(c.lastFaceAt) > c.cfg.GracePeriod {
		return models.StateUnknown
	}
	next := c.eyeLevel
	if c.intoxActive && models.StateIntoxicationSuspected.Severity() > next.Severity() {
		next = models.StateIntoxicationSuspected
	}
	return next
}

func (c *Classifier) updateEyeTrack(reading models.WindowReading, now time.Time) {
	// Insufficient evidence freezes the track: dwell timers reset so a
	// coverage gap can neither promote nor recover a level.
	if reading.EyeCoverage < c.cfg.MinCoverage || reading.EyeLowConfidence {
		c.drowsySince = time.Time{}
		c.closedSince = time.Time{}
		c.recoverySince = time.Time{}
		return
	}

	// Re-run the machine after a level change so dwell timers for the new
	// level anchor at this tick, not the next one.
	for {
		prev := c.eyeLevel
		c.stepEyeLevel(reading, now)
		if c.eyeLevel == prev {
			return
		}
	}
}

func (c *Classifier) stepEyeLevel(reading models.WindowReading, now time.Time) {
	switch c.eyeLevel {
	case models.StateAlert:
		if reading.PERCLOS > c.cfg.PerclosThreshold {
			if c.drowsySince.IsZero() {
				c.drowsySince = now
			}
			if now.Sub(c.drowsySince) >= c.cfg.DrowsyDwell {
				c.eyeLevel = models.StateDrowsy
				c.resetEyeTimers()
			}
		} else {
			c.drowsySince = time.Time{}
		}

	case models.StateDrowsy:
		if reading.MeanEAR < c.cfg.ClosedEAR {
			if c.closedSince.IsZero() {
				c.closedSince = now
			}
			if now.Sub(c.closedSince) >= c.cfg.AsleepDwell {
				c.eyeLevel = models.StateAsleep
				c.resetEyeTimers()
				return
			}
		} else {
			c.closedSince = time.Time{}
		}

		if reading.PERCLOS <= c.cfg.PerclosThreshold {
			if c.recoverySince.IsZero() {
				c.recoverySince = now
			}
			if now.Sub(c.recoverySince) >= c.cfg.RecoveryDwell {
				c.eyeLevel = models.StateAlert
				c.resetEyeTimers()
			}
		} else {
			c.recoverySince = time.Time{}
		}

	case models.StateAsleep:
		if reading.MeanEAR >= c.cfg.ClosedEAR {
			if c.recoverySince.IsZero() {
				c.recoverySince = now
			}
			if now.Sub(c.recoverySince) >= c.cfg.RecoveryDwell {
				c.eyeLevel = models.StateAlert
				c.resetEyeTimers()
			}
		} else {
			c.recoverySince = time.Time{}
		}
	}
}

func (c *Classifier) resetEyeTimers() {
	c.drowsySince = time.Time{}
	c.closedSince = time.Time{}
	c.recoverySince = time.Time{}
}

// updateIntoxTrack maintains the rolling yawn count and evaluates it
// together with pose instability. Both legs must hold: frequent yawning
// alone is fatigue, head sway alone is a rough road. An erratic-steering
// flag from the vehicle bus satisfies the instability leg on its own.
func (c *Classifier) updateIntoxTrack(reading models.WindowReading, now time.Time) {
	mouthOK := reading.MouthCoverage >= c.cfg.MinCoverage
	poseOK := reading.PoseCoverage >= c.cfg.MinCoverage

	if mouthOK {
		c.trackYawn(reading.MAR, now)
	} else {
		c.yawnStart = time.Time{}
		c.yawnCounted = false
	}

	cutoff := now.Add(-c.cfg.IntoxPeriod)
	kept := c.yawns[:0]
	for _, at := range c.yawns {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	c.yawns = kept

	if !mouthOK || !poseOK {
		// Hold the current verdict rather than silently clearing it.
		return
	}

	unstable := reading.YawVariance > c.cfg.YawVarianceLimit ||
		reading.RollVariance > c.cfg.RollVarianceLimit
	if reading.Vehicle != nil && reading.Vehicle.ErraticSteering {
		unstable = true
	}

	c.intoxActive = len(c.yawns) >= c.cfg.YawnCount && unstable
}

// trackYawn detects yawn events on the instantaneous MAR: a stretch above
// the yawn threshold lasting at least the minimum duration counts once,
// stamped at its onset.
func (c *Classifier) trackYawn(mar float64, now time.Time) {
	if mar > c.cfg.YawnMAR {
		if c.yawnStart.IsZero() {
			c.yawnStart = now
			c.yawnCounted = false
		}
		if !c.yawnCounted && now.Sub(c.yawnStart) >= c.cfg.YawnMinDuration {
			c.yawns = append(c.yawns, c.yawnStart)
			c.yawnCounted = true
		}
		return
	}
	c.yawnStart = time.Time{}
	c.yawnCounted = false
}
