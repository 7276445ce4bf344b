package dsp

import "math"

// Hann generates a symmetric Hann window of the given size.
func Hann(size int) []float64 {
	w := make([]float64, size)
	if size == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}
	return w
}

// SynthesisWindow builds the overlap-add window that pairs with analysis for
// the given hop. The squared analysis window is summed per phase (index mod
// hop) and each sample is divided by its phase energy, so analysis*synthesis
// overlap-adds to exactly 1 wherever every phase is covered. Phases with no
// energy get zero weight.
func SynthesisWindow(analysis []float64, hop int) []float64 {
	n := len(analysis)
	out := make([]float64, n)
	if hop < 1 || n == 0 {
		return out
	}
	energy := make([]float64, hop)
	for i, v := range analysis {
		energy[i%hop] += v * v
	}
	for i, v := range analysis {
		if e := energy[i%hop]; e > eps {
			out[i] = v / e
		}
	}
	return out
}
