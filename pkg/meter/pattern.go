package meter

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Pattern is a meter with the bar position of the first beat's downbeat.
type Pattern struct {
	Meter int `json:"meter"`
	Phase int `json:"phase"` // Phase is the index of the first downbeat.
}

// RhythmicPattern assumes one meter for the whole piece. For each candidate
// meter the strengths are averaged per bar position; the meter whose averages
// differ most between strongest and weakest position wins, with the strongest
// position as its phase. Ties keep the earlier meter.
func RhythmicPattern(strength []float64, meters []int) (Pattern, error) {
	if err := checkMeters(meters); err != nil {
		return Pattern{}, err
	}

	best := Pattern{Meter: 4}
	bestDiff := math.Inf(-1)
	for _, m := range meters {
		if len(strength) < m {
			return Pattern{}, fmt.Errorf("%d beats for meter %d: %w", len(strength), m, ErrTooFewBeats)
		}
		avg := make([]float64, m)
		count := make([]float64, m)
		for i, s := range strength {
			avg[i%m] += s
			count[i%m]++
		}
		floats.Div(avg, count)

		if diff := floats.Max(avg) - floats.Min(avg); diff > bestDiff {
			bestDiff = diff
			best = Pattern{Meter: m, Phase: floats.MaxIdx(avg)}
		}
	}
	return best, nil
}

// Downbeats lists the beat indices the pattern marks as downbeats among n
// beats.
func (p Pattern) Downbeats(n int) []int {
	var out []int
	for i := p.Phase; i < n; i += p.Meter {
		out = append(out, i)
	}
	return out
}
