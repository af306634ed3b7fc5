package models

import "time"

// DriverState is the classified state of a driver session.
type DriverState string

const (
	StateAlert                 DriverState = "Alert"
	StateDrowsy                DriverState = "Drowsy"
	StateAsleep                DriverState = "Asleep"
	StateIntoxicationSuspected DriverState = "IntoxicationSuspected"
	StateUnknown               DriverState = "Unknown"
)

// Severity ranks states for combining the independent classifier tracks.
// Higher is more severe. Unknown ranks above Alert so a lost face is never
// reported as a healthy driver, but below every danger state.
func (s DriverState) Severity() int {
	switch s {
	case StateAsleep:
		return 4
	case StateIntoxicationSuspected:
		return 3
	case StateDrowsy:
		return 2
	case StateUnknown:
		return 1
	default:
		return 0
	}
}

// IsDanger reports whether the state drives the escalation ladder.
func (s DriverState) IsDanger() bool {
	switch s {
	case StateDrowsy, StateAsleep, StateIntoxicationSuspected:
		return true
	}
	return false
}

// AlarmLevel maps a danger state to the label carried on alert messages.
func (s DriverState) AlarmLevel() string {
	switch s {
	case StateAsleep:
		return "CRIT"
	case StateIntoxicationSuspected:
		return "ALERT"
	case StateDrowsy:
		return "WARNING"
	default:
		return "INFO"
	}
}

// WindowReading is the aggregated view over the per-channel signal windows
// at one classification tick.
type WindowReading struct {
	Timestamp time.Time `json:"timestamp"`

	// Eye channel. EyeLowConfidence marks a window whose valid samples
	// averaged below the minimum confidence, typically from asymmetric
	// landmark fits.
	MeanEAR          float64 `json:"mean_ear"`
	PERCLOS          float64 `json:"perclos"`
	EyeCoverage      float64 `json:"eye_coverage"`
	EyeLowConfidence bool    `json:"eye_low_confidence"`

	// Mouth channel
	MAR           float64 `json:"mar"`
	MeanMAR       float64 `json:"mean_mar"`
	MouthCoverage float64 `json:"mouth_coverage"`

	// Pose channel
	MeanPitch    float64 `json:"mean_pitch"`
	MeanYaw      float64 `json:"mean_yaw"`
	MeanRoll     float64 `json:"mean_roll"`
	YawVariance  float64 `json:"yaw_variance"`
	RollVariance float64 `json:"roll_variance"`
	PoseCoverage float64 `json:"pose_coverage"`

	// FaceVisible is true when the most recent frame carried valid
	// eye landmarks.
	FaceVisible bool `json:"face_visible"`

	Vehicle *VehicleFlags `json:"vehicle,omitempty"`
}

// StateTransitionEvent is emitted on every classifier transition. Immutable.
type StateTransitionEvent struct {
	EventID   string        `json:"event_id"`
	SessionID string        `json:"session_id"`
	From      DriverState   `json:"from"`
	To        DriverState   `json:"to"`
	Timestamp time.Time     `json:"timestamp"`
	Metrics   WindowReading `json:"metrics"`
}
