package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian-monitor/internal/models"
)

// openEye is a symmetric six-point contour with EAR = 0.25:
// vertical gaps 1.0 each, horizontal span 4.0.
func openEye() []models.Point {
	return []models.Point{
		{X: 0, Y: 0},
		{X: 1, Y: 0.5},
		{X: 3, Y: 0.5},
		{X: 4, Y: 0},
		{X: 3, Y: -0.5},
		{X: 1, Y: -0.5},
	}
}

func closedEye() []models.Point {
	return []models.Point{
		{X: 0, Y: 0},
		{X: 1, Y: 0.02},
		{X: 3, Y: 0.02},
		{X: 4, Y: 0},
		{X: 3, Y: -0.02},
		{X: 1, Y: -0.02},
	}
}

func TestEAR(t *testing.T) {
	ear, ok := EAR(openEye())
	require.True(t, ok)
	assert.InDelta(t, 0.25, ear, 1e-9)

	ear, ok = EAR(closedEye())
	require.True(t, ok)
	assert.InDelta(t, 0.01, ear, 1e-9)
}

func TestEARMalformed(t *testing.T) {
	_, ok := EAR(nil)
	assert.False(t, ok)

	_, ok = EAR(openEye()[:4])
	assert.False(t, ok)

	// Degenerate: all six points coincide, horizontal span is zero.
	same := make([]models.Point, 6)
	_, ok = EAR(same)
	assert.False(t, ok)
}

func TestMAR(t *testing.T) {
	mouth := []models.Point{
		{X: 2, Y: 1.2},  // top inner lip
		{X: 2, Y: -1.2}, // bottom inner lip
		{X: 0, Y: 0},    // left corner
		{X: 4, Y: 0},    // right corner
	}
	mar, ok := MAR(mouth)
	require.True(t, ok)
	assert.InDelta(t, 0.6, mar, 1e-9)

	_, ok = MAR(mouth[:2])
	assert.False(t, ok)
}

func TestComputeFullFrame(t *testing.T) {
	c := NewCalculator(0.5)
	now := time.Now()
	frame := models.FrameSample{
		Timestamp:  now,
		LeftEye:    openEye(),
		RightEye:   closedEye(),
		Mouth:      []models.Point{{X: 2, Y: 0.5}, {X: 2, Y: -0.5}, {X: 0, Y: 0}, {X: 4, Y: 0}},
		Pose:       &models.PoseAngles{Pitch: 5, Yaw: -10, Roll: 2},
		Confidence: 0.9,
	}

	sample := c.Compute(frame)
	assert.Equal(t, now, sample.Timestamp)
	require.True(t, sample.EyesValid)
	assert.InDelta(t, 0.25, sample.LeftEAR, 1e-9)
	assert.InDelta(t, 0.01, sample.RightEAR, 1e-9)
	assert.InDelta(t, 0.13, sample.EAR, 1e-9)
	require.True(t, sample.MouthValid)
	assert.InDelta(t, 0.25, sample.MAR, 1e-9)
	require.True(t, sample.PoseValid)
	assert.Equal(t, -10.0, sample.Yaw)
	// One open and one closed eye is maximally asymmetric, so the
	// symmetry-derived confidence bottoms out.
	assert.Equal(t, 0.0, sample.Confidence)
}

func TestComputeSymmetryConfidence(t *testing.T) {
	c := NewCalculator(0.5)

	// narrowed has the open contour's lids pulled in to EAR = 0.21.
	narrowed := openEye()
	for i := range narrowed {
		narrowed[i].Y *= 0.84
	}

	frame := models.FrameSample{
		Timestamp:  time.Now(),
		LeftEye:    openEye(),
		RightEye:   openEye(),
		Confidence: 0.9,
	}
	sample := c.Compute(frame)
	require.True(t, sample.EyesValid)
	assert.InDelta(t, 0.9, sample.Confidence, 1e-9)

	// A 0.04 EAR gap costs 40% of the symmetry confidence, which then
	// undercuts the extractor's own score.
	frame.RightEye = narrowed
	sample = c.Compute(frame)
	require.True(t, sample.EyesValid)
	assert.InDelta(t, 0.6, sample.Confidence, 1e-9)
}

func TestComputePartialFrame(t *testing.T) {
	c := NewCalculator(0.5)
	frame := models.FrameSample{
		Timestamp:  time.Now(),
		LeftEye:    openEye(),
		Confidence: 0.9,
	}

	sample := c.Compute(frame)
	// One eye missing invalidates the eye channel; a single-eye EAR would
	// bias PERCLOS during partial occlusion.
	assert.False(t, sample.EyesValid)
	assert.False(t, sample.MouthValid)
	assert.False(t, sample.PoseValid)
}

func TestComputeLowConfidence(t *testing.T) {
	c := NewCalculator(0.5)
	frame := models.FrameSample{
		Timestamp:  time.Now(),
		LeftEye:    openEye(),
		RightEye:   openEye(),
		Pose:       &models.PoseAngles{},
		Confidence: 0.2,
	}

	sample := c.Compute(frame)
	assert.False(t, sample.EyesValid)
	assert.False(t, sample.PoseValid)
	assert.Equal(t, 0.2, sample.Confidence)
}
