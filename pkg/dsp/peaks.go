// Package dsp provides the signal primitives shared by the onset, tempo, beat
// and pulse packages: peak picking, IIR filtering, autocorrelation and
// overlap-add windows.
package dsp

// Peak is a local maximum refined to sub-sample precision.
type Peak struct {
	Index float64 // Index is the refined position in samples.
	Value float64 // Value is the interpolated height at Index.
}

// FindPeaks returns the ascending indices of strict local maxima whose
// topographic prominence is at least prominence.
//
// Prominence is the height of the peak above the higher of its two bounding
// valleys, where each valley is found by walking downhill from the peak until
// the signal rises again or the edge is reached.
func FindPeaks(x []float64, prominence float64) []int {
	n := len(x)
	var peaks []int
	for i := 1; i < n-1; i++ {
		cur := x[i]
		if cur <= x[i-1] || cur <= x[i+1] {
			continue
		}

		l := i - 1
		for l > 0 && x[l-1] <= x[l] {
			l--
		}
		r := i + 1
		for r < n-1 && x[r+1] <= x[r] {
			r++
		}

		base := x[l]
		if x[r] > base {
			base = x[r]
		}
		if cur-base >= prominence {
			peaks = append(peaks, i)
		}
	}
	return peaks
}

// ParabolicInterpolation fits a parabola through three equally spaced samples
// around a discrete extremum at y2. It returns the offset of the vertex
// relative to y2 and the interpolated value there. A flat triple returns (0, y2).
func ParabolicInterpolation(y1, y2, y3 float64) (dx, y float64) {
	a := y1 + y3 - 2*y2
	b := y1 - y3
	if a == 0 {
		return 0, y2
	}
	dx = b / (2 * a)
	y = y2 - b*dx*0.25
	return dx, y
}

// RefinePeaks applies ParabolicInterpolation to each index returned by
// FindPeaks. Indices must not sit on the first or last sample.
func RefinePeaks(x []float64, idx []int) []Peak {
	peaks := make([]Peak, len(idx))
	for i, k := range idx {
		dx, y := ParabolicInterpolation(x[k-1], x[k], x[k+1])
		peaks[i] = Peak{Index: float64(k) + dx, Value: y}
	}
	return peaks
}
