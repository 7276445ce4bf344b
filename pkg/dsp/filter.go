package dsp

// Direction selects the order in which Filter visits samples.
type Direction int

const (
	// Forward processes samples head to tail.
	Forward Direction = iota
	// Reverse processes samples tail to head. A Forward pass followed by a
	// Reverse pass gives a zero-phase response.
	Reverse
)

// Filter is a direct-form IIR filter
//
//	y[n] = (sum_i B[i]*x[n-i] - sum_{i>=1} A[i]*y[n-i]) / A[0]
//
// History is kept in circular buffers sized max(len(B), len(A)), so a Filter
// value holds no state between calls and is safe for concurrent use.
type Filter struct {
	B []float64 // B holds the numerator (feed-forward) coefficients.
	A []float64 // A holds the denominator (feedback) coefficients; A[0] must be non-zero.
}

// Apply filters x into a newly allocated slice. x is not modified.
func (f Filter) Apply(x []float64, dir Direction) []float64 {
	out := make([]float64, len(x))
	f.run(x, out, dir)
	return out
}

// ApplyInPlace filters x, overwriting it with the result.
func (f Filter) ApplyInPlace(x []float64, dir Direction) {
	f.run(x, x, dir)
}

// Filtfilt runs a Forward then a Reverse pass over x in place.
func (f Filter) Filtfilt(x []float64) {
	f.ApplyInPlace(x, Forward)
	f.ApplyInPlace(x, Reverse)
}

// run reads each input sample before writing the output at the same index,
// which is what lets src and dst alias.
func (f Filter) run(src, dst []float64, dir Direction) {
	order := len(f.B)
	if len(f.A) > order {
		order = len(f.A)
	}
	if order == 0 {
		return
	}
	xHist := make([]float64, order)
	yHist := make([]float64, order)
	ptr := 0

	step := func(n int) {
		xHist[ptr] = src[n]
		var y float64
		for i, b := range f.B {
			y += b * xHist[(ptr-i+order)%order]
		}
		for i := 1; i < len(f.A); i++ {
			y -= f.A[i] * yHist[(ptr-i+order)%order]
		}
		y /= f.A[0]
		yHist[ptr] = y
		dst[n] = y
		if ptr++; ptr >= order {
			ptr = 0
		}
	}

	if dir == Reverse {
		for n := len(src) - 1; n >= 0; n-- {
			step(n)
		}
		return
	}
	for n := range src {
		step(n)
	}
}
