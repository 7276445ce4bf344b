// Package meter infers beats per bar and downbeat positions from the accent
// strength of tracked beats.
package meter

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// DefaultStrengthWindow is the window BeatStrength uses around each beat.
const DefaultStrengthWindow = 5

// DefaultMeters are the meters considered when none are given.
var DefaultMeters = []int{2, 3, 4}

var (
	// ErrInvalidMeter is returned for a meter outside {2, 3, 4}.
	ErrInvalidMeter = errors.New("meter must be 2, 3 or 4")

	// ErrTooFewBeats is returned when some bar position has no beats.
	ErrTooFewBeats = errors.New("too few beats for meter analysis")
)

// BeatStrength returns, for each beat frame, the largest envelope value within
// winLen/2 frames on either side.
func BeatStrength(env []float64, beats []int, winLen int) []float64 {
	half := winLen / 2
	out := make([]float64, len(beats))
	for i, b := range beats {
		m := math.Inf(-1)
		for j := max(0, b-half); j <= min(len(env)-1, b+half); j++ {
			m = max(m, env[j])
		}
		if math.IsInf(m, -1) {
			m = 0
		}
		out[i] = m
	}
	return out
}

func checkMeters(meters []int) error {
	if len(meters) == 0 {
		return fmt.Errorf("no meters: %w", ErrInvalidMeter)
	}
	for _, m := range meters {
		if !slices.Contains(DefaultMeters, m) {
			return fmt.Errorf("meter %d: %w", m, ErrInvalidMeter)
		}
	}
	return nil
}
