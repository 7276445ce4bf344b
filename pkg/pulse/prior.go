package pulse

import "math"

// DefaultCenterBPM is the prior center used where no tempo estimate exists.
const DefaultCenterBPM = 110.0

// TempoPrior weights a tempo candidate at an envelope frame. Weights are in
// [0, 1].
type TempoPrior interface {
	Weight(frame int, bpm float64) float64
}

// GaussianPrior is a Gaussian in log2(BPM) centered on a per-frame tempo.
type GaussianPrior struct {
	// Curve holds the center BPM per frame. Frames past its end, and
	// non-positive entries, use Center.
	Curve []float64

	// Std is the width in octaves. 0.2 cuts right at the neighbouring
	// octaves; 0.3 suits a prior without a curve.
	Std float64

	// Center is the fallback center.
	// Default: 110
	Center float64
}

func (g GaussianPrior) Weight(frame int, bpm float64) float64 {
	if bpm <= 0 || g.Std <= 0 {
		return 0
	}
	c := g.Center
	if c <= 0 {
		c = DefaultCenterBPM
	}
	if frame >= 0 && frame < len(g.Curve) && g.Curve[frame] > 0 {
		c = g.Curve[frame]
	}
	k := (math.Log2(bpm) - math.Log2(c)) / g.Std
	return math.Exp(-0.5 * k * k)
}
