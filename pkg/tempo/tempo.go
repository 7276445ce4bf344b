// Package tempo estimates tempo from an onset envelope, either as a single
// global BPM or as a per-frame curve built from windowed autocorrelation.
package tempo

import (
	"math"

	"github.com/nzoschke/tempolab/pkg/dsp"
)

const (
	// MinDetectableBPM bounds the lag range CorrBPM searches.
	MinDetectableBPM = 35.0

	// PeakProminence is the autocorrelation prominence a lag needs to count
	// as periodicity evidence.
	PeakProminence = 0.02

	// centerSmoothing is the weight of the previous prior when a new window
	// estimate updates it.
	centerSmoothing = 0.8
)

// Tempo is either a Constant or a Curve. The same union carries BPM values and,
// after PeriodFrames, frames-per-beat values.
type Tempo interface {
	// At returns the value in effect at frame.
	At(frame int) float64
	isTempo()
}

// Constant is a tempo that does not change over time.
type Constant float64

// Curve holds one tempo value per frame.
type Curve []float64

func (c Constant) At(int) float64 { return float64(c) }
func (Constant) isTempo()         {}

func (c Curve) At(frame int) float64 { return c[frame] }
func (Curve) isTempo()               {}

// PeriodFrames converts BPM values to beat periods in frames (and back, since
// the mapping 60*frameRate/x is its own inverse).
func PeriodFrames(t Tempo, frameRate float64) Tempo {
	sr60 := 60 * frameRate
	switch t := t.(type) {
	case Constant:
		return Constant(sr60 / float64(t))
	case Curve:
		out := make(Curve, len(t))
		for i, v := range t {
			out[i] = sr60 / v
		}
		return out
	default:
		panic("tempo: unknown Tempo implementation")
	}
}

// FloatGCD estimates the fundamental period shared by a sorted set of
// autocorrelation peak lags, tolerating peaks at multiples of the period.
//
// The smallest gap seeds the estimate; each lag is then assigned the nearest
// integer multiple while the seed is refined with the lag's own implied
// period, and the final period is the least-squares fit
// sum(n*lag)/sum(n*n). The multiples are returned alongside.
func FloatGCD(lags []float64) (period float64, multiples []int) {
	if len(lags) == 0 {
		return math.NaN(), nil
	}
	seed := lags[0]
	for i := 1; i < len(lags); i++ {
		if gap := lags[i] - lags[i-1]; gap < seed {
			seed = gap
		}
	}

	multiples = make([]int, len(lags))
	for i, lag := range lags {
		n := max(int(math.Round(lag/seed)), 1)
		multiples[i] = n
		// farther peaks pin the period down more precisely
		seed = (seed + lag/float64(n)) * 0.5
	}

	var nn, nl float64
	for i, lag := range lags {
		n := float64(multiples[i])
		nn += n * n
		nl += n * lag
	}
	return nl / nn, multiples
}

// CorrBPM picks a tempo from one autocorrelation frame.
//
// Lags slower than MinDetectableBPM are ignored. Prominent peaks are refined
// by parabolic interpolation, their common period is found with FloatGCD, and
// each peak proposes basePeriod/multiple as a candidate BPM. The candidate
// with the highest peak value weighted by a Gaussian in log2(BPM) around
// centerBPM (width stdOctaves) wins.
//
// NaN means there was not enough periodicity to decide; callers must check
// with math.IsNaN.
func CorrBPM(corr []float64, frameRate, stdOctaves, centerBPM float64) float64 {
	if len(corr) < 3 {
		return math.NaN()
	}
	if maxLag := int(math.Ceil(60*frameRate/MinDetectableBPM)) + 1; len(corr) > maxLag {
		corr = corr[:maxLag]
	}

	idx := dsp.FindPeaks(corr, PeakProminence)
	if len(idx) == 0 {
		return math.NaN()
	}
	peaks := dsp.RefinePeaks(corr, idx)
	lags := make([]float64, len(peaks))
	for i, p := range peaks {
		lags[i] = p.Index
	}

	period, multiples := FloatGCD(lags)
	baseBPM := 60 * frameRate / period
	logCenter := math.Log2(centerBPM)

	best, bestScore := baseBPM, -1.0
	for i, p := range peaks {
		bpm := baseBPM / float64(multiples[i])
		k := (math.Log2(bpm) - logCenter) / stdOctaves
		if score := p.Value * math.Exp(-0.5*k*k); score > bestScore {
			bestScore = score
			best = bpm
		}
	}
	return best
}

// Global estimates one tempo for the whole envelope from its full
// autocorrelation up to the lag of minBPM.
func Global(env []float64, frameRate, minBPM, stdOctaves, centerBPM float64) float64 {
	maxLag := int(math.Ceil(frameRate * 60 / minBPM))
	return CorrBPM(dsp.AutoCorr(env, maxLag), frameRate, stdOctaves, centerBPM)
}
