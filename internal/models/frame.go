package models

import "time"

// Point is a 2D landmark coordinate in pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PoseAngles are head-pose rotations in degrees as reported by the extractor.
type PoseAngles struct {
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	Roll  float64 `json:"roll"`
}

// VehicleFlags are optional vehicle-bus signals attached to a frame.
type VehicleFlags struct {
	ErraticSteering bool    `json:"erratic_steering"`
	SpeedKMH        float64 `json:"speed_kmh"`
}

// FrameSample is one capture tick from the external signal extractor.
// Landmark sets are nil when the face (or the feature) was not found.
// Eye sets carry 6 points in EAR order: outer corner, top-outer, top-inner,
// inner corner, bottom-inner, bottom-outer. The mouth set carries 4 points:
// inner-lip top, inner-lip bottom, left corner, right corner.
type FrameSample struct {
	Timestamp time.Time     `json:"timestamp"`
	LeftEye   []Point       `json:"left_eye,omitempty"`
	RightEye  []Point       `json:"right_eye,omitempty"`
	Mouth     []Point       `json:"mouth,omitempty"`
	Pose      *PoseAngles   `json:"pose,omitempty"`
	Vehicle   *VehicleFlags `json:"vehicle,omitempty"`

	// Confidence is the upstream detector's per-frame landmark confidence
	// in [0, 1]. Low-confidence frames still count toward coverage but
	// their metrics are discarded.
	Confidence float64 `json:"confidence"`
}

// MetricSample holds the scalar metrics derived from one FrameSample.
// Validity flags are false when the corresponding landmarks were missing;
// an invalid metric is zero-valued and must not feed thresholds.
type MetricSample struct {
	Timestamp  time.Time     `json:"timestamp"`
	LeftEAR    float64       `json:"left_ear"`
	RightEAR   float64       `json:"right_ear"`
	EAR        float64       `json:"ear"`
	EyesValid  bool          `json:"eyes_valid"`
	MAR        float64       `json:"mar"`
	MouthValid bool          `json:"mouth_valid"`
	Pitch      float64       `json:"pitch"`
	Yaw        float64       `json:"yaw"`
	Roll       float64       `json:"roll"`
	PoseValid  bool          `json:"pose_valid"`
	Confidence float64       `json:"confidence"`
	Vehicle    *VehicleFlags `json:"vehicle,omitempty"`
}
