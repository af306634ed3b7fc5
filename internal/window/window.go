package window

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

type sample struct {
	at    time.Time
	value float64
	valid bool
}

// Scalar is a rolling time window over one metric channel. Every frame is
// pushed, valid or not, so coverage can be computed as the fraction of
// valid samples among all samples in the span. Aggregates are computed
// over valid samples only.
//
// Not safe for concurrent use; the pipeline serializes access per session.
type Scalar struct {
	span    time.Duration
	samples []sample
}

// NewScalar builds a window retaining samples no older than span behind
// the most recently pushed timestamp.
func NewScalar(span time.Duration) *Scalar {
	return &Scalar{span: span}
}

// Push appends one sample and evicts everything older than the span.
// Samples must arrive in non-decreasing timestamp order.
func (w *Scalar) Push(at time.Time, value float64, valid bool) {
	w.samples = append(w.samples, sample{at: at, value: value, valid: valid})
	cutoff := at.Add(-w.span)
	i := 0
	for i < len(w.samples) && !w.samples[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}

// Reset discards all samples. Used after a session gap so stale metrics
// cannot bridge across the interruption.
func (w *Scalar) Reset() {
	w.samples = w.samples[:0]
}

// Len reports the number of retained samples, valid or not.
func (w *Scalar) Len() int {
	return len(w.samples)
}

// Coverage is the fraction of retained samples that are valid.
// An empty window has zero coverage.
func (w *Scalar) Coverage() float64 {
	if len(w.samples) == 0 {
		return 0
	}
	valid := 0
	for _, s := range w.samples {
		if s.valid {
			valid++
		}
	}
	return float64(valid) / float64(len(w.samples))
}

// Mean is the arithmetic mean over valid samples. ok is false when the
// window holds no valid samples.
func (w *Scalar) Mean() (float64, bool) {
	values := w.validValues()
	if len(values) == 0 {
		return 0, false
	}
	return stat.Mean(values, nil), true
}

// Variance is the sample variance over valid samples. A window with fewer
// than two valid samples has zero variance.
func (w *Scalar) Variance() (float64, bool) {
	values := w.validValues()
	if len(values) == 0 {
		return 0, false
	}
	if len(values) == 1 {
		return 0, true
	}
	return stat.Variance(values, nil), true
}

// FracBelow is the fraction of valid samples strictly below threshold.
// This is the PERCLOS primitive when applied to the EAR channel. ok is
// false when the window holds no valid samples.
func (w *Scalar) FracBelow(threshold float64) (float64, bool) {
	values := w.validValues()
	if len(values) == 0 {
		return 0, false
	}
	below := 0
	for _, v := range values {
		if v < threshold {
			below++
		}
	}
	return float64(below) / float64(len(values)), true
}

// Latest returns the newest valid sample's value.
func (w *Scalar) Latest() (float64, bool) {
	for i := len(w.samples) - 1; i >= 0; i-- {
		if w.samples[i].valid {
			return w.samples[i].value, true
		}
	}
	return 0, false
}

func (w *Scalar) validValues() []float64 {
	values := make([]float64, 0, len(w.samples))
	for _, s := range w.samples {
		if s.valid {
			values = append(values, s.value)
		}
	}
	return values
}
