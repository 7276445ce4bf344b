package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/nzoschke/tempolab/pkg/meter"
)

// Config holds the settings for the analysis pipeline.
type Config struct {
	// OnsetSmoothing sets the onset reference smoothing a = OnsetSmoothing/frameRate,
	// clamped to (0, 1].
	// Default: 16
	OnsetSmoothing float64 `json:"onset_smoothing"`

	// FFTSize and HopSize configure the spectrogram in samples.
	// Default: 2048 and 441 (~100 frames per second at 44.1kHz)
	FFTSize int `json:"fft_size"`
	HopSize int `json:"hop_size"`

	// MinBPM and MaxBPM bound tempo estimation and beat tracking.
	// Default: 40 and 200
	MinBPM float64 `json:"min_bpm"`
	MaxBPM float64 `json:"max_bpm"`

	// WindowSec and HopSec configure the tempo curve windows.
	// Default: 12.8 and 1.6
	WindowSec float64 `json:"window_sec"`
	HopSec    float64 `json:"hop_sec"`

	// GlobalStdOctaves and GlobalCenterBPM shape the prior of the whole-track
	// estimate, which then centers the tempo curve prior. The range is wide,
	// so the prior is too.
	// Default: 1.4 and 105
	GlobalStdOctaves float64 `json:"global_std_octaves"`
	GlobalCenterBPM  float64 `json:"global_center_bpm"`

	// CurveStdOctaves is the prior width of the tempo curve windows.
	// Default: 0.5
	CurveStdOctaves float64 `json:"curve_std_octaves"`

	// UsePulse adds the predominant local pulse to the onset envelope before
	// beat tracking.
	// Default: true
	UsePulse bool `json:"use_pulse"`

	// PulseWindowSec sets the PLP transform size, rounded to a power of two.
	// Default: 12.8
	PulseWindowSec float64 `json:"pulse_window_sec"`

	// PulseHopDivisor sets the PLP hop as a fraction of the transform size.
	// Default: 8
	PulseHopDivisor int `json:"pulse_hop_divisor"`

	// PriorStdOctaves is the PLP prior width around the tempo curve.
	// Default: 0.1
	PriorStdOctaves float64 `json:"prior_std_octaves"`

	// Tightness weighs how strictly beats follow the tempo curve.
	// Default: 300
	Tightness float64 `json:"tightness"`

	// Meters lists the candidate beats per bar.
	// Default: [2, 3, 4]
	Meters []int `json:"meters"`

	// DetectDownbeats runs the downbeat DP. When false a single meter and
	// phase is fitted to the whole track instead.
	// Default: true
	DetectDownbeats bool `json:"detect_downbeats"`

	// StrengthWindow is the window in frames used to measure beat accents.
	// Default: 5
	StrengthWindow int `json:"strength_window"`

	// WaveformPixelsPerSec is the resolution of the waveform overview.
	// Default: 100
	WaveformPixelsPerSec int `json:"waveform_pixels_per_sec"`

	// Workers is the number of files AnalyzeDir processes at once.
	// Default: number of CPUs
	Workers int `json:"workers"`
}

// DefaultConfig returns the settings used by the editor's beat estimation.
func DefaultConfig() Config {
	return Config{
		OnsetSmoothing:       16,
		FFTSize:              2048,
		HopSize:              441,
		MinBPM:               40,
		MaxBPM:               200,
		WindowSec:            12.8,
		HopSec:               1.6,
		GlobalStdOctaves:     1.4,
		GlobalCenterBPM:      105,
		CurveStdOctaves:      0.5,
		UsePulse:             true,
		PulseWindowSec:       12.8,
		PulseHopDivisor:      8,
		PriorStdOctaves:      0.1,
		Tightness:            300,
		Meters:               append([]int(nil), meter.DefaultMeters...),
		DetectDownbeats:      true,
		StrengthWindow:       meter.DefaultStrengthWindow,
		WaveformPixelsPerSec: 100,
		Workers:              runtime.NumCPU(),
	}
}

// LoadConfig reads a JSON config file. Fields missing from the file keep
// their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every setting that would make the pipeline fail.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.OnsetSmoothing > 0, "onset_smoothing must be positive, got %v", c.OnsetSmoothing)
	check(c.FFTSize > 0, "fft_size must be positive, got %d", c.FFTSize)
	check(c.HopSize > 0, "hop_size must be positive, got %d", c.HopSize)
	check(c.MinBPM > 0 && c.MaxBPM > c.MinBPM, "bpm range must satisfy 0 < min_bpm < max_bpm, got %v-%v", c.MinBPM, c.MaxBPM)
	check(c.WindowSec > 0 && c.HopSec > 0, "window_sec and hop_sec must be positive")
	check(c.GlobalStdOctaves > 0 && c.CurveStdOctaves > 0, "tempo prior widths must be positive")
	check(c.GlobalCenterBPM > 0, "global_center_bpm must be positive, got %v", c.GlobalCenterBPM)
	if c.UsePulse {
		check(c.PulseWindowSec > 0, "pulse_window_sec must be positive, got %v", c.PulseWindowSec)
		check(c.PulseHopDivisor > 0, "pulse_hop_divisor must be positive, got %d", c.PulseHopDivisor)
		check(c.PriorStdOctaves > 0, "prior_std_octaves must be positive, got %v", c.PriorStdOctaves)
	}
	check(c.Tightness >= 0, "tightness must not be negative, got %v", c.Tightness)
	check(c.StrengthWindow >= 0, "strength_window must not be negative, got %d", c.StrengthWindow)
	check(c.WaveformPixelsPerSec > 0, "waveform_pixels_per_sec must be positive, got %d", c.WaveformPixelsPerSec)
	if len(c.Meters) == 0 {
		errs = append(errs, fmt.Errorf("meters: %w", meter.ErrInvalidMeter))
	}
	for _, m := range c.Meters {
		if m < 2 || m > 4 {
			errs = append(errs, fmt.Errorf("meter %d: %w", m, meter.ErrInvalidMeter))
		}
	}
	return errors.Join(errs...)
}
