package dsp

import (
	"errors"

	"gonum.org/v1/gonum/floats"
)

// eps guards divisions by near-zero energies.
const eps = 1e-10

// ErrInputTooShort is returned by AutoCorrSeg when the signal cannot hold a
// single analysis window plus the requested lag range.
var ErrInputTooShort = errors.New("input too short for autocorrelation window")

// AutoCorr returns the amplitude-compensated autocorrelation of x for lags
// 0..points. Each lag is normalised by its overlap length and by the mean
// signal power, so result[0] is 1 and a perfectly periodic signal scores close
// to 1 at its period. A silent signal yields 1 followed by zeros.
func AutoCorr(x []float64, points int) []float64 {
	out := make([]float64, points+1)
	out[0] = 1
	n := len(x)
	energy := floats.Dot(x, x)
	if energy < eps {
		return out
	}
	scale := float64(n) / energy
	for tau := 1; tau <= points && tau < n; tau++ {
		ac := floats.Dot(x[:n-tau], x[tau:])
		out[tau] = ac * scale / float64(n-tau)
	}
	return out
}

// AutoCorrSeg computes framed autocorrelation over windows of hopInWin hops,
// each hop being hop samples long. Every returned frame has points lags
// (0..points-1) and is normalised so frame[0] is 1, unless the window is
// silent in which case the raw sums are kept.
//
// For every lag the per-hop partial products are computed once and each
// frame's value is obtained from a sliding sum, so the cost is
// O(points * len(x)) rather than O(frames * points * window).
func AutoCorrSeg(x []float64, points, hopInWin, hop int) ([][]float64, error) {
	if hopInWin < 1 {
		hopInWin = 1
	}
	if hop < 1 {
		hop = 1
	}
	n := len(x)
	numFrames := (n-points)/hop - hopInWin + 1
	if n < points || numFrames < 1 {
		return nil, ErrInputTooShort
	}

	frames := make([][]float64, numFrames)
	for i := range frames {
		frames[i] = make([]float64, points)
	}

	bins := make([]float64, (n+hop-1)/hop)
	for tau := 0; tau < points; tau++ {
		count := (n - tau) / hop
		for b := 0; b < count; b++ {
			start := b * hop
			bins[b] = floats.Dot(x[start:start+hop], x[start+tau:start+tau+hop])
		}

		var running float64
		for f := 0; f < hopInWin; f++ {
			running += bins[f]
		}
		frames[0][tau] = running
		for f := 1; f < numFrames; f++ {
			running += bins[f+hopInWin-1] - bins[f-1]
			frames[f][tau] = running
		}
	}

	for _, frame := range frames {
		energy := frame[0]
		if energy < eps {
			continue
		}
		frame[0] = 1
		floats.Scale(1/energy, frame[1:])
	}
	return frames, nil
}
