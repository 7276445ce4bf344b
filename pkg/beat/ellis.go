package beat

import (
	"fmt"
	"math"

	"github.com/nzoschke/tempolab/pkg/tempo"
)

// Hint tells Ellis what is known about the tempo. It is one of Fixed,
// Preferred or Known.
type Hint interface {
	isHint()
}

// Fixed is a known constant tempo in BPM.
type Fixed float64

// Preferred is a BPM used only as the prior center while the tempo curve is
// estimated from the envelope.
type Preferred float64

// Known is a per-frame BPM curve with one value per envelope frame.
type Known tempo.Curve

func (Fixed) isHint()     {}
func (Preferred) isHint() {}
func (Known) isHint()     {}

// BPMRange limits the tempo a beat sequence may follow. The zero value means
// no limit.
type BPMRange struct {
	Min float64
	Max float64
}

// Frames converts the range to inter-beat distances at frameRate.
func (r BPMRange) Frames(frameRate float64) FrameRange {
	if r.Min <= 0 || r.Max <= 0 {
		return Unbounded
	}
	sr60 := 60 * frameRate
	return FrameRange{Min: sr60 / r.Max, Max: sr60 / r.Min}
}

// Options configures Ellis.
type Options struct {
	// Tightness weighs how strictly beats follow the tempo.
	// Default: 100
	Tightness float64

	// Range limits inter-beat distances. The zero value is unbounded.
	// Default: 40-200 BPM
	Range BPMRange

	// WindowSec and HopSec configure tempo estimation for Preferred hints.
	// Default: 16 and 1
	WindowSec float64
	HopSec    float64
}

// DefaultOptions returns the tracker defaults.
func DefaultOptions() Options {
	return Options{
		Tightness: 100,
		Range:     BPMRange{Min: 40, Max: 200},
		WindowSec: 16,
		HopSec:    1,
	}
}

// Result holds tracked beats and the tempo they were tracked against.
type Result struct {
	Beats []int       // Beats are ascending frame indices.
	BPM   tempo.Tempo // BPM is a tempo.Constant for Fixed hints, otherwise a tempo.Curve.
}

// Ellis tracks beats in env sampled at frameRate.
//
// A Fixed hint tracks a constant period. A Preferred hint first estimates a
// tempo curve with tempo.Estimate, searching down to Range.Min and centering
// the prior on the preferred BPM. A Known curve is used as is and must match
// the envelope length.
func Ellis(env []float64, frameRate float64, opts Options, hint Hint) (*Result, error) {
	var bpm tempo.Tempo
	switch h := hint.(type) {
	case Fixed:
		bpm = tempo.Constant(h)
	case Preferred:
		minBPM := opts.Range.Min
		if minBPM <= 0 {
			minBPM = tempo.DefaultOptions().MinBPM
		}
		est, err := tempo.Estimate(env, frameRate, tempo.Options{
			MinBPM:     minBPM,
			WindowSec:  opts.WindowSec,
			HopSec:     opts.HopSec,
			CenterBPM:  float64(h),
			StdOctaves: tempo.DefaultOptions().StdOctaves,
		})
		if err != nil {
			return nil, fmt.Errorf("estimate tempo: %w", err)
		}
		bpm = est.Curve
	case Known:
		if len(h) != len(env) {
			return nil, fmt.Errorf("%d tempo values for %d frames: %w", len(h), len(env), ErrCurveLength)
		}
		bpm = tempo.Curve(h)
	default:
		return nil, fmt.Errorf("unknown tempo hint %T", hint)
	}
	if err := validate(bpm, len(env)); err != nil {
		return nil, err
	}

	fpb := tempo.PeriodFrames(bpm, frameRate)
	score, err := LocalScore(env, fpb)
	if err != nil {
		return nil, err
	}
	return &Result{
		Beats: TrackDP(score, fpb, opts.Range.Frames(frameRate), opts.Tightness),
		BPM:   bpm,
	}, nil
}

// Intervals returns the distances between consecutive beats in frames.
func Intervals(beats []int) []float64 {
	if len(beats) < 2 {
		return nil
	}
	out := make([]float64, len(beats)-1)
	for i := 1; i < len(beats); i++ {
		out[i-1] = float64(beats[i] - beats[i-1])
	}
	return out
}

// IntervalBPM converts a beat spacing in frames to BPM, or NaN for a
// non-positive spacing.
func IntervalBPM(frames, frameRate float64) float64 {
	if frames <= 0 {
		return math.NaN()
	}
	return 60 * frameRate / frames
}
