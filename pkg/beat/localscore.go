// Package beat places discrete beats on an onset envelope with the Ellis
// dynamic programming tracker.
package beat

import (
	"errors"
	"math"

	"github.com/nzoschke/tempolab/pkg/tempo"
)

var (
	// ErrCurveLength is returned when a per-frame tempo does not have one
	// value per envelope frame.
	ErrCurveLength = errors.New("tempo curve length does not match envelope")

	// ErrInvalidTempo is returned for a tempo that is not positive and finite.
	ErrInvalidTempo = errors.New("tempo must be positive and finite")
)

// kernel is a normalised Gaussian of width 2*half+1.
type kernel struct {
	w    []float64
	half int
}

// newKernel builds the smoothing window for a beat period of fpb frames. The
// half width is floor(fpb) and the scale 24/fpb, so faster tempos get a
// narrower peak. The window sums to 1, which keeps slow tempos from being
// favoured simply because their kernels are wider.
func newKernel(fpb float64) kernel {
	half := int(fpb)
	w := make([]float64, 2*half+1)
	scale := 24 / fpb
	var sum float64
	for i := range w {
		x := float64(i-half) * scale
		w[i] = math.Exp(-0.5 * x * x)
		sum += w[i]
	}
	for i := range w {
		w[i] /= sum
	}
	return kernel{w: w, half: half}
}

// at returns the kernel-weighted sum of env centered on frame i, treating
// samples past either edge as zero.
func (k kernel) at(env []float64, i int) float64 {
	lo := max(0, i-k.half)
	hi := min(len(env)-1, i+k.half)
	var sum float64
	for j := lo; j <= hi; j++ {
		sum += k.w[j-i+k.half] * env[j]
	}
	return sum
}

// LocalScore smooths env with a Gaussian matched to the beat period.
//
// fpb is frames per beat, either tempo.Constant or a tempo.Curve with one
// value per frame. With a curve the kernel is rebuilt only when the rounded
// period changes.
func LocalScore(env []float64, fpb tempo.Tempo) ([]float64, error) {
	if err := validate(fpb, len(env)); err != nil {
		return nil, err
	}
	out := make([]float64, len(env))

	switch fpb := fpb.(type) {
	case tempo.Constant:
		k := newKernel(float64(fpb))
		for i := range env {
			out[i] = k.at(env, i)
		}
	case tempo.Curve:
		var k kernel
		last := -1.0
		for i := range env {
			if p := math.Max(1, math.Round(fpb[i])); p != last {
				k = newKernel(p)
				last = p
			}
			out[i] = k.at(env, i)
		}
	}
	return out, nil
}

func validate(t tempo.Tempo, n int) error {
	switch t := t.(type) {
	case tempo.Constant:
		if !positive(float64(t)) {
			return ErrInvalidTempo
		}
	case tempo.Curve:
		if len(t) != n {
			return ErrCurveLength
		}
		for _, v := range t {
			if !positive(v) {
				return ErrInvalidTempo
			}
		}
	default:
		return ErrInvalidTempo
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
