package beat

import (
	"math"
	"slices"

	"github.com/nzoschke/tempolab/pkg/tempo"
)

// firstBeatRatio is the fraction of the strongest local score a frame needs
// before the DP starts chaining beats.
const firstBeatRatio = 0.01

// FrameRange bounds the distance between consecutive beats in frames. Both
// ends are inclusive; Max may be +Inf.
type FrameRange struct {
	Min float64
	Max float64
}

// Unbounded allows any inter-beat distance of at least one frame.
var Unbounded = FrameRange{Min: 1, Max: math.Inf(1)}

// TrackDP runs the Ellis dynamic program over localscore and returns ascending
// beat frames.
//
// Each frame t accumulates
//
//	dp[t] = localscore[t] + max over tau of (dp[tau] - tightness*(ln(t-tau) - ln(fpb))^2)
//
// with tau searched in [t-2*fpb, t-fpb/2] intersected with frames. Until some
// frame reaches 1% of the strongest local score no back link is recorded, so
// weak lead-in noise cannot start the chain. The path is read back from
// LastBeat(dp).
//
// fpb must be a positive tempo.Constant or a tempo.Curve of len(localscore);
// anything else returns nil.
func TrackDP(localscore []float64, fpb tempo.Tempo, frames FrameRange, tightness float64) []int {
	n := len(localscore)
	if n == 0 || validate(fpb, n) != nil {
		return nil
	}
	minFrame := max(1, int(frames.Min))
	maxFrame := math.Max(float64(minFrame+1), math.Ceil(frames.Max))

	thresh := 0.0
	for _, v := range localscore {
		thresh = max(thresh, v)
	}
	thresh *= firstBeatRatio

	logs := make([]float64, n+1)
	for d := 1; d <= n; d++ {
		logs[d] = math.Log(float64(d))
	}

	dp := make([]float64, n)
	backlink := make([]int, n)
	firstBeat := true
	for t := range n {
		p := fpb.At(t)
		target := math.Log(p)

		start := t - int(math.Round(math.Max(float64(minFrame), p*0.5)))
		end := max(0, t-int(math.Round(math.Min(maxFrame, p*2))))

		prev, best := -1, math.Inf(-1)
		for tau := start; tau >= end; tau-- {
			d := logs[t-tau] - target
			if s := dp[tau] - tightness*d*d; s > best {
				best = s
				prev = tau
			}
		}

		score := localscore[t]
		dp[t] = score
		if prev >= 0 {
			dp[t] += best
		}
		if firstBeat && score < thresh {
			backlink[t] = -1
			continue
		}
		backlink[t] = prev
		firstBeat = false
	}

	var beats []int
	for b := LastBeat(dp); b >= 0; b = backlink[b] {
		beats = append(beats, b)
	}
	slices.Reverse(beats)
	return beats
}

// LastBeat picks the frame to backtrack from.
//
// Local maxima of cumscore are collected (the last sample counts if it rises
// above its neighbour, the first never does). Walking back from the end, the
// first peak at least half the median peak height wins; if none qualifies the
// earliest peak is used. Without any peak the last frame is returned.
func LastBeat(cumscore []float64) int {
	n := len(cumscore)
	if n == 0 {
		return 0
	}

	var idx []int
	for i := 1; i < n-1; i++ {
		if v := cumscore[i]; v > cumscore[i-1] && v >= cumscore[i+1] {
			idx = append(idx, i)
		}
	}
	if n > 1 && cumscore[n-1] > cumscore[n-2] {
		idx = append(idx, n-1)
	}
	if len(idx) == 0 {
		return n - 1
	}

	vals := make([]float64, len(idx))
	for i, k := range idx {
		vals[i] = cumscore[k]
	}
	thresh := 0.5 * median(vals)
	for j := len(idx) - 1; j >= 0; j-- {
		if cumscore[idx[j]] >= thresh {
			return idx[j]
		}
	}
	return idx[0]
}

// median sorts vals in place and returns the middle value, averaging the two
// middle values for even lengths.
func median(vals []float64) float64 {
	slices.Sort(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return (vals[mid-1] + vals[mid]) / 2
}
