// Package spectrum computes magnitude spectrograms for onset extraction.
package spectrum

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/nzoschke/tempolab/pkg/dsp"
)

// Config describes parameters for STFT computation.
type Config struct {
	FFTSize    int // FFT size (e.g., 1024, 2048, 4096)
	HopSize    int // Hop between frames (e.g., 441 for 10ms at 44100Hz)
	WindowSize int // Analysis window size, at most FFTSize. Zero means FFTSize.
}

// DefaultConfig returns a 2048-point transform with a 10ms hop at 44.1kHz.
func DefaultConfig() Config {
	return Config{FFTSize: 2048, HopSize: 441, WindowSize: 2048}
}

// FrameRate returns spectrogram frames per second for audio at sampleRate.
func (c Config) FrameRate(sampleRate int) float64 {
	return float64(sampleRate) / float64(c.HopSize)
}

func (c Config) window() int {
	if c.WindowSize <= 0 || c.WindowSize > c.FFTSize {
		return c.FFTSize
	}
	return c.WindowSize
}

// NumFrames returns the number of full windows that fit in n samples.
func (c Config) NumFrames(n int) int {
	w := c.window()
	if n < w || c.HopSize <= 0 {
		return 0
	}
	return (n-w)/c.HopSize + 1
}

// STFT computes a Short-Time Fourier Transform.
// Returns [frames][bins] magnitude spectrum with FFTSize/2+1 bins.
func STFT(samples []float64, cfg Config) [][]float64 {
	numFrames := cfg.NumFrames(len(samples))
	if numFrames <= 0 {
		return nil
	}
	winSize := cfg.window()
	window := dsp.Hann(winSize)
	fft := fourier.NewFFT(cfg.FFTSize)
	numBins := cfg.FFTSize/2 + 1

	result := make([][]float64, numFrames)
	frame := make([]float64, cfg.FFTSize)
	coeffs := make([]complex128, numBins)

	// Normalize: 2/N for one-sided spectrum (except DC and Nyquist)
	scale := 2.0 / float64(cfg.FFTSize)
	edge := 1.0 / float64(cfg.FFTSize)

	for i := range numFrames {
		start := i * cfg.HopSize
		clear(frame)
		for j := 0; j < winSize; j++ {
			frame[j] = samples[start+j] * window[j]
		}

		coeffs = fft.Coefficients(coeffs, frame)

		result[i] = make([]float64, numBins)
		for j, c := range coeffs {
			s := scale
			if j == 0 || j == numBins-1 {
				s = edge
			}
			result[i][j] = math.Hypot(real(c), imag(c)) * s
		}
	}
	return result
}

// Float64 converts decoded float32 samples for STFT.
func Float64(samples []float32) []float64 {
	out := make([]float64, len(samples))
	for i, v := range samples {
		out[i] = float64(v)
	}
	return out
}
