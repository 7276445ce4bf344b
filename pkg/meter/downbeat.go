package meter

import (
	"math"
	"slices"

	"github.com/nzoschke/tempolab/pkg/onset"
)

// Downbeat DP weights. They were tuned by ear on real recordings rather than
// derived.
const (
	// forgetting is the per-beat decay of the running accent statistics.
	forgetting = 0.97

	// upbeatWeight scales the mean upbeat strength subtracted from the mean
	// downbeat strength.
	upbeatWeight = 0.2

	// switchPenalty scales the contrast of a beat that changes meter.
	switchPenalty = 0.6

	// switchUpbeatGain and switchUpbeatOffset inflate the upbeat sum on a
	// meter change (su = su*gain + offset) so the new meter has to earn its
	// contrast over the following beats.
	switchUpbeatGain   = 1.05
	switchUpbeatOffset = 4.0

	// commonTimeBias is added to the contrast of meter 4.
	commonTimeBias = 0.02

	// historyWeight blends the predecessor's score with the local contrast.
	historyWeight = 0.25
)

// Result lists the downbeats found by DetectDownbeats.
type Result struct {
	Beats  []int `json:"beats"`  // Beats are the ordinal indices of downbeat beats.
	Meters []int `json:"meters"` // Meters holds the meter starting at each downbeat.
}

// Frames maps the downbeat indices through the beat frames they were
// detected from.
func (r *Result) Frames(beats []int) []int {
	out := make([]int, 0, len(r.Beats))
	for _, i := range r.Beats {
		if i < len(beats) {
			out = append(out, beats[i])
		}
	}
	return out
}

type state struct {
	meter int
	phase int
}

// cell holds forgetting sums of downbeat and upbeat strength along the best
// path into a state.
type cell struct {
	s, c   float64 // downbeat strength sum and count
	su, cu float64 // upbeat strength sum and count
	score  float64
	prev   int // index into the state list, -1 at the first beat
	ok     bool
}

// DetectDownbeats labels each beat with a (meter, phase) state and returns the
// beats in phase 0.
//
// Within a meter the phase advances by one per beat. The meter may change
// only from the last phase of a bar to phase 0 of the next. For every state
// the DP keeps decayed means of downbeat and upbeat strength along its best
// path; the local contrast is meanDown - 0.2*meanUp, and the cell score is
// 0.25*previous + 0.75*contrast. The path ending in the best final state is
// traced back.
//
// strength is not modified; a normalised copy is used.
func DetectDownbeats(strength []float64, meters []int) (*Result, error) {
	if err := checkMeters(meters); err != nil {
		return nil, err
	}
	res := &Result{}
	n := len(strength)
	if n == 0 {
		return res, nil
	}
	str := slices.Clone(strength)
	onset.Normalize(str)

	var states []state
	for _, m := range meters {
		for p := range m {
			states = append(states, state{meter: m, phase: p})
		}
	}

	dp := make([][]cell, n)
	for i := range dp {
		dp[i] = make([]cell, len(states))
	}
	for j, st := range states {
		v := str[0]
		if st.phase == 0 {
			dp[0][j] = cell{s: v, c: 1, score: v, prev: -1, ok: true}
		} else {
			dp[0][j] = cell{su: v, cu: 1, score: -upbeatWeight * v, prev: -1, ok: true}
		}
	}

	for i := 1; i < n; i++ {
		v := str[i]
		for j, cur := range states {
			best := cell{score: math.Inf(-1)}
			for k, prev := range states {
				pc := dp[i-1][k]
				if !pc.ok {
					continue
				}
				switched := false
				if prev.meter == cur.meter {
					if cur.phase != (prev.phase+1)%cur.meter {
						continue
					}
				} else {
					if prev.phase != prev.meter-1 || cur.phase != 0 {
						continue
					}
					switched = true
				}

				next := cell{
					s:    pc.s * forgetting,
					c:    pc.c * forgetting,
					su:   pc.su * forgetting,
					cu:   pc.cu * forgetting,
					prev: k,
					ok:   true,
				}
				if cur.phase == 0 {
					next.s += v
					next.c++
				} else {
					next.su += v
					next.cu++
				}

				var down, up float64
				if next.c > 0 {
					down = next.s / next.c
				}
				if next.cu > 0 {
					up = next.su / next.cu
				}
				contrast := down - upbeatWeight*up
				if switched {
					contrast *= switchPenalty
					next.su = next.su*switchUpbeatGain + switchUpbeatOffset
				}
				if cur.meter == 4 {
					contrast += commonTimeBias
				}

				next.score = historyWeight*pc.score + (1-historyWeight)*contrast
				if next.score > best.score {
					best = next
				}
			}
			if best.ok {
				dp[i][j] = best
			}
		}
	}

	last, bestScore := -1, math.Inf(-1)
	for j := range states {
		if c := dp[n-1][j]; c.ok && c.score > bestScore {
			bestScore = c.score
			last = j
		}
	}
	for i := n - 1; i >= 0 && last >= 0; i-- {
		if st := states[last]; st.phase == 0 {
			res.Beats = append(res.Beats, i)
			res.Meters = append(res.Meters, st.meter)
		}
		last = dp[i][last].prev
	}
	slices.Reverse(res.Beats)
	slices.Reverse(res.Meters)
	return res, nil
}
