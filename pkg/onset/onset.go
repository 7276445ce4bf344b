// Package onset turns spectrogram frames into a cleaned onset envelope: a
// per-frame, non-negative, roughly unit-scale measure of how likely a note
// attack is at that frame.
package onset

import (
	"math"
	"slices"

	"github.com/nzoschke/tempolab/pkg/dsp"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultPercentile and DefaultMarginRatio are the outlier compression
	// settings used by Clean.
	DefaultPercentile  = 0.99
	DefaultMarginRatio = 1.3

	// DetrendPole is the pole of the high-pass used by Detrend. At ~20 fps,
	// 0.9 removes too much low-frequency content and 0.99 too little.
	DetrendPole = 0.96

	logFloor = 1e-6
	eps      = 1e-10
)

// Envelope is an onset strength signal sampled at a fixed frame rate.
type Envelope struct {
	FrameRate float64   `json:"frame_rate"` // FrameRate is frames per second.
	Values    []float64 `json:"values"`     // Values holds one strength per frame.
}

// Len returns the number of frames.
func (e Envelope) Len() int {
	return len(e.Values)
}

// Duration returns the envelope length in seconds.
func (e Envelope) Duration() float64 {
	if e.FrameRate <= 0 {
		return 0
	}
	return float64(len(e.Values)) / e.FrameRate
}

// FrameTime converts a frame index to seconds.
func (e Envelope) FrameTime(frame int) float64 {
	return float64(frame) / e.FrameRate
}

// Flux computes the raw log-spectral flux of a magnitude spectrogram laid out
// as [frames][bins]. Each bin keeps an exponentially smoothed log reference
//
//	ref = ref*(1-a) + log(mag+1e-6)*a
//
// and a frame's flux is the sum of positive increases over that reference.
// The reference starts at log(1e-2) so the first frame does not spike.
// a must be in (0, 1]; larger values follow the signal more closely.
func Flux(spectrogram [][]float64, a float64) []float64 {
	out := make([]float64, len(spectrogram))
	if len(spectrogram) == 0 {
		return out
	}
	ra := 1 - a
	ref := make([]float64, len(spectrogram[0]))
	for j := range ref {
		ref[j] = math.Log(1e-2)
	}
	for i, frame := range spectrogram {
		var diff float64
		for j, mag := range frame {
			if j >= len(ref) {
				break
			}
			v := math.Log(mag + logFloor)
			if d := v - ref[j]; d > 0 {
				diff += d
			}
			ref[j] = ref[j]*ra + v*a
		}
		out[i] = diff
	}
	return out
}

// Extract computes Flux and cleans it with Clean.
func Extract(spectrogram [][]float64, a float64) []float64 {
	env := Flux(spectrogram, a)
	cleanInPlace(env)
	return env
}

// Clean returns a copy of raw with outliers compressed, slow trends removed
// and the result normalised. raw is not modified.
func Clean(raw []float64) []float64 {
	env := slices.Clone(raw)
	cleanInPlace(env)
	return env
}

func cleanInPlace(env []float64) {
	CompressOutliers(env, DefaultPercentile, DefaultMarginRatio)
	Detrend(env)
	Normalize(env)
}

// CompressOutliers softens values above the given percentile in place.
//
// If the maximum is within marginRatio of the percentile value nothing
// changes. Otherwise values above the percentile are remapped with a cubic
// that is continuous with unit slope at the percentile and lands the maximum
// exactly on percentile*marginRatio.
func CompressOutliers(env []float64, percentile, marginRatio float64) {
	n := len(env)
	if n == 0 {
		return
	}
	sorted := slices.Clone(env)
	slices.Sort(sorted)
	k := int(float64(n) * percentile)
	k = min(max(k, 0), n-1)
	margin := sorted[k]
	marginMax := margin * marginRatio
	actualMax := sorted[n-1]
	if actualMax <= marginMax {
		return
	}

	x0 := actualMax - margin
	y0 := marginMax - margin
	a := (x0 - 2*y0) / (x0 * x0 * x0)
	b := (3*y0 - 2*x0) / (x0 * x0)
	for i, v := range env {
		if v > margin {
			x := v - margin
			env[i] = x*(a*x*x+b*x+1) + margin
		}
	}
}

// Detrend removes slow drifts in place with a first-order high-pass run
// forward then backward, so onsets are not shifted in time.
func Detrend(env []float64) {
	f := dsp.Filter{B: []float64{1, -1}, A: []float64{1, -DetrendPole}}
	f.Filtfilt(env)
}

// Normalize subtracts the minimum and divides by the population standard
// deviation in place. A constant or silent envelope becomes all zeros.
func Normalize(env []float64) {
	if len(env) == 0 {
		return
	}
	_, std := stat.PopMeanStdDev(env, nil)
	minVal := floats.Min(env)
	if std < eps || math.IsNaN(std) {
		for i := range env {
			env[i] = 0
		}
		return
	}
	inv := 1 / std
	for i, v := range env {
		env[i] = (v - minVal) * inv
	}
}
