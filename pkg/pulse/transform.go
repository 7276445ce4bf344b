// Package pulse estimates the predominant local pulse (PLP) of an onset
// envelope: a smooth pseudo-periodic curve obtained by band-limiting each
// windowed segment of the envelope to a tempo range and overlap-adding the
// results.
package pulse

import (
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/nzoschke/tempolab/pkg/dsp"
)

// Transform is a real forward/inverse transform with a fixed analysis window.
// Implementations are not required to be safe for concurrent use.
type Transform interface {
	// Size is the window and transform length.
	Size() int

	// Window is the analysis window applied by Forward.
	Window() []float64

	// Forward windows buf[offset:offset+Size()] and returns Size()/2+1
	// coefficients. Samples outside buf are read as zero, so offset may be
	// negative or run past the end.
	Forward(buf []float64, offset int) []complex128

	// Inverse turns Size()/2+1 coefficients back into Size() samples, so
	// that Inverse(Forward(x, 0)) reproduces the windowed x.
	Inverse(coeffs []complex128) []float64
}

// HannFFT is a Transform backed by gonum's real FFT with a Hann window.
type HannFFT struct {
	fft    *fourier.FFT
	window []float64
	seq    []float64
	coeffs []complex128
}

// NewHannFFT creates a transform of the given size. Powers of two are
// fastest but any positive size works.
func NewHannFFT(size int) *HannFFT {
	return &HannFFT{
		fft:    fourier.NewFFT(size),
		window: dsp.Hann(size),
		seq:    make([]float64, size),
		coeffs: make([]complex128, size/2+1),
	}
}

func (h *HannFFT) Size() int { return len(h.window) }

func (h *HannFFT) Window() []float64 { return h.window }

// Forward returns a slice that is reused by the next call.
func (h *HannFFT) Forward(buf []float64, offset int) []complex128 {
	for i, w := range h.window {
		j := offset + i
		if j < 0 || j >= len(buf) {
			h.seq[i] = 0
			continue
		}
		h.seq[i] = buf[j] * w
	}
	return h.fft.Coefficients(h.coeffs, h.seq)
}

// Inverse returns a freshly allocated slice.
func (h *HannFFT) Inverse(coeffs []complex128) []float64 {
	out := h.fft.Sequence(nil, coeffs)
	scale := 1 / float64(len(out))
	for i := range out {
		out[i] *= scale
	}
	return out
}
