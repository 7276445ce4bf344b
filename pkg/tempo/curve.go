package tempo

import (
	"fmt"
	"math"

	"github.com/nzoschke/tempolab/pkg/dsp"
)

// Options configures Estimate.
type Options struct {
	// MinBPM sets the longest autocorrelation lag.
	// Default: 40
	MinBPM float64

	// WindowSec is the analysis window length in seconds. It is rounded up
	// to a whole number of hops.
	// Default: 12.8
	WindowSec float64

	// HopSec is the distance between window starts in seconds.
	// Default: 1.6
	HopSec float64

	// CenterBPM is the initial tempo prior. Each valid window pulls it
	// toward its own estimate.
	// Default: 110
	CenterBPM float64

	// StdOctaves is the prior width in octaves.
	// Default: 0.5
	StdOctaves float64
}

// DefaultOptions returns the settings used by the editor's beat estimation.
func DefaultOptions() Options {
	return Options{
		MinBPM:     40,
		WindowSec:  12.8,
		HopSec:     1.6,
		CenterBPM:  110,
		StdOctaves: 0.5,
	}
}

// Result is a per-frame tempo curve and the window estimates it was built from.
type Result struct {
	Curve   Curve     // Curve has one BPM per envelope frame.
	Windows []float64 // Windows holds the per-window BPM after gap filling.
	Centers []int     // Centers holds the frame at the middle of each window.
	Unknown int       // Unknown counts windows that produced no estimate.
}

// Estimate computes a time-varying tempo curve.
//
// The envelope is cut into overlapping windows and each window's
// autocorrelation goes through CorrBPM. The prior center follows valid
// estimates causally (0.8*old + 0.2*new), windows without an estimate borrow
// the nearest valid neighbour, and the curve is linearly interpolated between
// window centers and held flat before the first and after the last.
//
// dsp.ErrInputTooShort is returned when the envelope cannot hold one window.
func Estimate(env []float64, frameRate float64, opts Options) (*Result, error) {
	hop := max(1, int(math.Round(frameRate*opts.HopSec)))
	hopInWin := max(1, int(math.Ceil(opts.WindowSec/opts.HopSec)))
	winLen := hopInWin * hop
	maxLag := int(math.Ceil(frameRate*60/opts.MinBPM)) + 1

	frames, err := dsp.AutoCorrSeg(env, maxLag, hopInWin, hop)
	if err != nil {
		return nil, fmt.Errorf("tempo windows (%d frames, window %d, lag %d): %w", len(env), winLen, maxLag, err)
	}

	res := &Result{
		Windows: make([]float64, len(frames)),
		Centers: make([]int, len(frames)),
	}
	center := opts.CenterBPM
	for i, frame := range frames {
		res.Centers[i] = winLen/2 + i*hop
		bpm := CorrBPM(frame, frameRate, opts.StdOctaves, center)
		res.Windows[i] = bpm
		if math.IsNaN(bpm) {
			res.Unknown++
			continue
		}
		center = centerSmoothing*center + (1-centerSmoothing)*bpm
	}
	fillNearest(res.Windows, opts.CenterBPM)
	res.Curve = interpolate(len(env), res.Centers, res.Windows)
	return res, nil
}

// fillNearest replaces NaN entries with the closest valid value, preferring
// the earlier one on ties. With no valid values at all, fallback is used.
func fillNearest(x []float64, fallback float64) {
	prev := make([]int, len(x))
	last := -1
	for i, v := range x {
		if !math.IsNaN(v) {
			last = i
		}
		prev[i] = last
	}
	next := -1
	for i := len(x) - 1; i >= 0; i-- {
		if !math.IsNaN(x[i]) {
			next = i
			continue
		}
		p := prev[i]
		switch {
		case p < 0 && next < 0:
			x[i] = fallback
		case p < 0:
			x[i] = x[next]
		case next < 0 || i-p <= next-i:
			x[i] = x[p]
		default:
			x[i] = x[next]
		}
	}
}

// interpolate expands window values at ascending centers into n frames.
func interpolate(n int, centers []int, values []float64) Curve {
	out := make(Curve, n)
	if len(values) == 0 {
		return out
	}
	first, last := centers[0], centers[len(centers)-1]
	for f := 0; f < n && f <= first; f++ {
		out[f] = values[0]
	}
	for f := max(last, 0); f < n; f++ {
		out[f] = values[len(values)-1]
	}
	for i := 1; i < len(centers); i++ {
		c0, c1 := centers[i-1], centers[i]
		v0, v1 := values[i-1], values[i]
		step := (v1 - v0) / float64(c1-c0)
		for f := c0; f < c1 && f < n; f++ {
			out[f] = v0 + step*float64(f-c0)
		}
	}
	return out
}
