package pulse

import (
	"errors"
	"fmt"
	"math"

	"github.com/nzoschke/tempolab/pkg/dsp"
	"github.com/nzoschke/tempolab/pkg/onset"
)

// ErrInvalidHop is returned when the hop is not in (0, transform size].
var ErrInvalidHop = errors.New("invalid hop length")

// FFTSize returns the power of two closest (in log scale) to sec seconds of
// envelope at frameRate.
func FFTSize(frameRate, sec float64) int {
	return 1 << int(math.Round(math.Log2(frameRate*sec)))
}

// Options configures PLP.
type Options struct {
	// MinBPM and MaxBPM bound the pass band. Bins outside are zeroed.
	// Default: 40 and 200
	MinBPM float64
	MaxBPM float64

	// Hop is the distance between analysis frames in envelope frames.
	// Zero means half the transform size.
	Hop int

	// Prior reweights the pass band per frame. Nil keeps it flat.
	Prior TempoPrior
}

// DefaultOptions returns a 40-200 BPM pass band without a prior.
func DefaultOptions() Options {
	return Options{MinBPM: 40, MaxBPM: 200}
}

// PLP computes the predominant local pulse of env.
//
// Frames of tr.Size() samples are taken every Hop samples, centered so that
// every envelope frame is covered by the same number of frames. Each frame is
// transformed, bins outside [MinBPM, MaxBPM] are zeroed, the remaining bins
// are scaled by Prior.Weight(center, bpm), and the inverse is overlap-added
// with the matching synthesis window. The result keeps only the positive
// part and is normalised like an onset envelope. env is not modified.
func PLP(env []float64, frameRate float64, tr Transform, opts Options) ([]float64, error) {
	size := tr.Size()
	hop := opts.Hop
	if hop == 0 {
		hop = size / 2
	}
	if hop <= 0 || hop > size {
		return nil, fmt.Errorf("hop %d for transform size %d: %w", hop, size, ErrInvalidHop)
	}

	n := len(env)
	pulse := make([]float64, n)
	if n == 0 {
		return pulse, nil
	}
	synth := dsp.SynthesisWindow(tr.Window(), hop)

	binBPM := 60 * frameRate / float64(size)
	kMin := int(math.Ceil(opts.MinBPM / binBPM))
	kMax := int(math.Floor(opts.MaxBPM / binBPM))

	for offset := hop - size; offset < n; offset += hop {
		coeffs := tr.Forward(env, offset)
		center := min(max(offset+size/2, 0), n-1)
		for k := range coeffs {
			switch {
			case k < kMin || k > kMax:
				coeffs[k] = 0
			case opts.Prior != nil:
				coeffs[k] *= complex(opts.Prior.Weight(center, float64(k)*binBPM), 0)
			}
		}

		for i, v := range tr.Inverse(coeffs) {
			j := offset + i
			if j < 0 {
				continue
			}
			if j >= n {
				break
			}
			pulse[j] += v * synth[i]
		}
	}

	for i, v := range pulse {
		if v < 0 {
			pulse[i] = 0
		}
	}
	onset.Normalize(pulse)
	return pulse, nil
}
