package metrics

import (
	"math"

	"guardian-monitor/internal/models"
)

// Landmark counts expected per feature. Eyes use the six-point contour
// (outer corner, two upper-lid points, inner corner, two lower-lid points);
// the mouth uses four points (top inner lip, bottom inner lip, two corners).
const (
	EyePointCount   = 6
	MouthPointCount = 4
)

// maxEyeAsymmetry is the left/right EAR difference at which the
// symmetry-derived confidence bottoms out at zero.
const maxEyeAsymmetry = 0.1

// Calculator turns raw landmark frames into metric samples. It is stateless;
// rolling aggregation happens in the window package.
type Calculator struct {
	minConfidence float64
}

// NewCalculator builds a calculator that marks channels invalid when the
// frame confidence falls below minConfidence.
func NewCalculator(minConfidence float64) *Calculator {
	return &Calculator{minConfidence: minConfidence}
}

// EAR computes the eye aspect ratio for a six-point eye contour:
// (|p1-p5| + |p2-p4|) / (2 * |p0-p3|). Returns false when the contour
// is malformed or degenerate (horizontal span at or near zero).
func EAR(eye []models.Point) (float64, bool) {
	if len(eye) != EyePointCount {
		return 0, false
	}
	v1 := distance(eye[1], eye[5])
	v2 := distance(eye[2], eye[4])
	h := distance(eye[0], eye[3])
	if h < 1e-9 {
		return 0, false
	}
	return (v1 + v2) / (2 * h), true
}

// MAR computes the mouth aspect ratio for a four-point mouth contour:
// |top-bottom| / |left-right|. Returns false on malformed or degenerate input.
func MAR(mouth []models.Point) (float64, bool) {
	if len(mouth) != MouthPointCount {
		return 0, false
	}
	v := distance(mouth[0], mouth[1])
	h := distance(mouth[2], mouth[3])
	if h < 1e-9 {
		return 0, false
	}
	return v / h, true
}

// Compute derives a MetricSample from a raw frame. Channels that cannot be
// computed (missing landmarks, degenerate geometry, low confidence) are
// flagged invalid instead of being zero-filled, so downstream coverage
// accounting can tell absence from a true zero.
func (c *Calculator) Compute(frame models.FrameSample) models.MetricSample {
	sample := models.MetricSample{
		Timestamp:  frame.Timestamp,
		Confidence: frame.Confidence,
		Vehicle:    frame.Vehicle,
	}

	confident := frame.Confidence >= c.minConfidence

	leftEAR, leftOK := EAR(frame.LeftEye)
	rightEAR, rightOK := EAR(frame.RightEye)
	if confident && leftOK && rightOK {
		sample.LeftEAR = leftEAR
		sample.RightEAR = rightEAR
		sample.EAR = (leftEAR + rightEAR) / 2
		sample.EyesValid = true
		// Asymmetric eyes usually mean a bad landmark fit on one
		// side; fold that into the carried confidence.
		symmetry := math.Max(0, 1-math.Abs(leftEAR-rightEAR)/maxEyeAsymmetry)
		sample.Confidence = math.Min(sample.Confidence, symmetry)
	}

	if mar, ok := MAR(frame.Mouth); confident && ok {
		sample.MAR = mar
		sample.MouthValid = true
	}

	if confident && frame.Pose != nil {
		sample.Pitch = frame.Pose.Pitch
		sample.Yaw = frame.Pose.Yaw
		sample.Roll = frame.Pose.Roll
		sample.PoseValid = true
	}

	return sample
}

func distance(a, b models.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
