// Package analysis runs the tempo, beat and meter pipeline over onset
// envelopes and audio files and writes the results as JSON sidecars.
package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/nzoschke/tempolab/pkg/beat"
	"github.com/nzoschke/tempolab/pkg/meter"
	"github.com/nzoschke/tempolab/pkg/onset"
	"github.com/nzoschke/tempolab/pkg/pulse"
	"github.com/nzoschke/tempolab/pkg/spectrum"
	"github.com/nzoschke/tempolab/pkg/tempo"
)

var (
	// ErrInvalidEnvelope is returned for an envelope without a positive frame
	// rate or with fewer than 3 frames.
	ErrInvalidEnvelope = errors.New("invalid onset envelope")

	// ErrAudioTooShort is returned when audio does not fill one spectrogram frame.
	ErrAudioTooShort = errors.New("audio too short")
)

// TrackAnalysis represents the JSON sidecar for an audio file.
type TrackAnalysis struct {
	File       string    `json:"file"`
	Duration   float64   `json:"duration"`
	SampleRate int       `json:"sample_rate"`
	Analysis   *Analysis `json:"analysis"`
	Waveform   *Waveform `json:"waveform,omitempty"`
}

// Analysis holds the pipeline results for one onset envelope. Times are in
// seconds, frames index the envelope.
type Analysis struct {
	FrameRate float64 `json:"frame_rate"`
	Frames    int     `json:"frames"`

	// BPM is the median beat rate, or the global estimate when fewer than
	// two beats were found. Zero means unknown.
	BPM            float64   `json:"bpm"`
	GlobalBPM      float64   `json:"global_bpm"`
	TempoCurve     []float64 `json:"tempo_curve"`
	UnknownWindows int       `json:"unknown_windows"`

	Beats          []float64   `json:"beats"`
	BeatFrames     []int       `json:"beat_frames"`
	Downbeats      []float64   `json:"downbeats"`
	DownbeatFrames []int       `json:"downbeat_frames"`
	Meters         []int       `json:"meters"`
	Bars           []meter.Bar `json:"bars"`
}

// Waveform contains downsampled waveform data for visualization.
type Waveform struct {
	PixelsPerSec int       `json:"pixels_per_sec"`
	Peaks        []float64 `json:"peaks"`
	Troughs      []float64 `json:"troughs"`
}

// Analyzer runs the pipeline with a fixed configuration. It holds no mutable
// state and is safe for concurrent use.
type Analyzer struct {
	cfg Config
	log *slog.Logger
}

// New creates an Analyzer. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{cfg: cfg, log: logger}, nil
}

// Config returns the analyzer settings.
func (a *Analyzer) Config() Config {
	return a.cfg
}

// Analyze estimates tempo, beats and meter for an onset envelope.
//
// The global tempo centers a windowed tempo curve. Beats are tracked on the
// envelope (plus its predominant local pulse when enabled) against that
// curve; a beat on frame 0 is dropped. Downbeats come from the downbeat DP,
// or from a single fitted pattern when DetectDownbeats is off.
func (a *Analyzer) Analyze(env onset.Envelope) (*Analysis, error) {
	cfg := a.cfg
	fr := env.FrameRate
	if fr <= 0 || math.IsInf(fr, 0) || math.IsNaN(fr) || env.Len() < 3 {
		return nil, fmt.Errorf("%d frames at %v fps: %w", env.Len(), fr, ErrInvalidEnvelope)
	}
	values := env.Values

	global := tempo.Global(values, fr, cfg.MinBPM, cfg.GlobalStdOctaves, cfg.GlobalCenterBPM)
	center := global
	if math.IsNaN(global) {
		a.log.Debug("no global tempo, using default center", "center_bpm", cfg.GlobalCenterBPM)
		center = cfg.GlobalCenterBPM
	}

	est, err := tempo.Estimate(values, fr, tempo.Options{
		MinBPM:     cfg.MinBPM,
		WindowSec:  cfg.WindowSec,
		HopSec:     cfg.HopSec,
		CenterBPM:  center,
		StdOctaves: cfg.CurveStdOctaves,
	})
	if err != nil {
		return nil, fmt.Errorf("tempo curve: %w", err)
	}
	if est.Unknown > 0 {
		a.log.Debug("tempo windows filled from neighbours", "unknown", est.Unknown, "windows", len(est.Windows))
	}

	front := values
	if cfg.UsePulse {
		size := pulse.FFTSize(fr, cfg.PulseWindowSec)
		plp, err := pulse.PLP(values, fr, pulse.NewHannFFT(size), pulse.Options{
			MinBPM: cfg.MinBPM,
			MaxBPM: cfg.MaxBPM,
			Hop:    max(1, size/cfg.PulseHopDivisor),
			Prior: pulse.GaussianPrior{
				Curve:  est.Curve,
				Std:    cfg.PriorStdOctaves,
				Center: center,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("pulse: %w", err)
		}
		front = floats.AddTo(plp, plp, values)
	}

	tracked, err := beat.Ellis(front, fr, beat.Options{
		Tightness: cfg.Tightness,
		Range:     beat.BPMRange{Min: cfg.MinBPM, Max: cfg.MaxBPM},
		WindowSec: cfg.WindowSec,
		HopSec:    cfg.HopSec,
	}, beat.Known(est.Curve))
	if err != nil {
		return nil, fmt.Errorf("beats: %w", err)
	}
	beats := tracked.Beats
	if len(beats) > 0 && beats[0] == 0 {
		beats = beats[1:]
	}
	strength := meter.BeatStrength(values, beats, cfg.StrengthWindow)
	if n := len(beats); n > 0 {
		beats, strength = trimSilentTail(beats, strength)
		if dropped := n - len(beats); dropped > 0 {
			a.log.Debug("dropped beats after the last onset", "beats", dropped)
		}
	}

	res := &Analysis{
		FrameRate:      fr,
		Frames:         env.Len(),
		GlobalBPM:      finiteOrZero(global),
		TempoCurve:     est.Curve,
		UnknownWindows: est.Unknown,
		BeatFrames:     beats,
		Beats:          frameTimes(env, beats),
	}
	res.BPM = medianBPM(beats, fr)
	if res.BPM == 0 {
		res.BPM = res.GlobalBPM
	}
	if len(beats) < 2 {
		a.log.Debug("too few beats for meter analysis", "beats", len(beats))
		return res, nil
	}

	downbeats, meters, err := a.downbeats(strength, len(beats))
	if err != nil {
		return nil, err
	}
	res.DownbeatFrames = make([]int, len(downbeats))
	for i, d := range downbeats {
		res.DownbeatFrames[i] = beats[d]
	}
	res.Downbeats = frameTimes(env, res.DownbeatFrames)
	res.Meters = meters
	res.Bars = meter.Bars(beats, downbeats, meters)
	return res, nil
}

// downbeats returns downbeat beat indices and the meter at each.
func (a *Analyzer) downbeats(strength []float64, n int) ([]int, []int, error) {
	if a.cfg.DetectDownbeats {
		r, err := meter.DetectDownbeats(strength, a.cfg.Meters)
		if err != nil {
			return nil, nil, fmt.Errorf("downbeats: %w", err)
		}
		return r.Beats, r.Meters, nil
	}

	p, err := meter.RhythmicPattern(strength, a.cfg.Meters)
	if errors.Is(err, meter.ErrTooFewBeats) {
		a.log.Debug("too few beats for a rhythmic pattern", "beats", n)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("rhythmic pattern: %w", err)
	}
	downbeats := p.Downbeats(n)
	meters := make([]int, len(downbeats))
	for i := range meters {
		meters[i] = p.Meter
	}
	return downbeats, meters, nil
}

// AnalyzeSamples computes the onset envelope of mono audio and analyzes it.
func (a *Analyzer) AnalyzeSamples(samples []float32, sampleRate int) (*Analysis, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate %d: %w", sampleRate, ErrInvalidEnvelope)
	}
	env, err := a.Envelope(samples, sampleRate)
	if err != nil {
		return nil, err
	}
	return a.Analyze(env)
}

// Envelope computes the cleaned onset envelope of mono audio.
func (a *Analyzer) Envelope(samples []float32, sampleRate int) (onset.Envelope, error) {
	cfg := spectrum.Config{FFTSize: a.cfg.FFTSize, HopSize: a.cfg.HopSize, WindowSize: a.cfg.FFTSize}
	spec := spectrum.STFT(spectrum.Float64(samples), cfg)
	if len(spec) == 0 {
		return onset.Envelope{}, fmt.Errorf("%d samples for a %d-point window: %w", len(samples), cfg.FFTSize, ErrAudioTooShort)
	}
	fr := cfg.FrameRate(sampleRate)
	smoothing := min(a.cfg.OnsetSmoothing/fr, 1)
	return onset.Envelope{FrameRate: fr, Values: onset.Extract(spec, smoothing)}, nil
}

// AnalyzeFile decodes an audio file and analyzes it.
func (a *Analyzer) AnalyzeFile(audioPath string) (*TrackAnalysis, error) {
	samples, sampleRate, err := LoadAudioMono(audioPath)
	if err != nil {
		return nil, fmt.Errorf("load audio: %w", err)
	}

	res, err := a.AnalyzeSamples(samples, sampleRate)
	if err != nil {
		return nil, err
	}

	result := &TrackAnalysis{
		File:       filepath.Base(audioPath),
		Duration:   float64(len(samples)) / float64(sampleRate),
		SampleRate: sampleRate,
		Analysis:   res,
	}

	waveform, err := GenerateWaveform(samples, sampleRate, a.cfg.WaveformPixelsPerSec)
	if err != nil {
		a.log.Warn("could not generate waveform", "file", result.File, "err", err)
	} else {
		result.Waveform = waveform
	}
	return result, nil
}

// GenerateWaveform creates downsampled waveform data for visualization.
// pixelsPerSec controls the resolution (e.g., 100 = 100 data points per second).
func GenerateWaveform(samples []float32, sampleRate, pixelsPerSec int) (*Waveform, error) {
	samplesPerPixel := max(sampleRate/max(pixelsPerSec, 1), 1)

	numPixels := len(samples) / samplesPerPixel
	if numPixels == 0 {
		return nil, ErrAudioTooShort
	}

	peaks := make([]float64, numPixels)
	troughs := make([]float64, numPixels)

	for i := range numPixels {
		start := i * samplesPerPixel
		end := min(start+samplesPerPixel, len(samples))

		maxVal := float32(-1.0)
		minVal := float32(1.0)
		for _, v := range samples[start:end] {
			maxVal = max(maxVal, v)
			minVal = min(minVal, v)
		}

		peaks[i] = float64(maxVal)
		troughs[i] = float64(minVal)
	}

	return &Waveform{
		PixelsPerSec: pixelsPerSec,
		Peaks:        peaks,
		Troughs:      troughs,
	}, nil
}

// WriteJSON writes the analysis to a JSON file.
func (ta *TrackAnalysis) WriteJSON(path string) error {
	data, err := json.MarshalIndent(ta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func frameTimes(env onset.Envelope, frames []int) []float64 {
	out := make([]float64, len(frames))
	for i, f := range frames {
		out[i] = env.FrameTime(f)
	}
	return out
}

// silentBeat is the fraction of the strongest beat accent below which a
// trailing beat counts as silence.
const silentBeat = 0.05

// trimSilentTail drops trailing beats whose accent is below silentBeat of the
// strongest one. The tracker can place a beat in a quiet tail that is about
// one period long, which would otherwise end the last bar early.
func trimSilentTail(beats []int, strength []float64) ([]int, []float64) {
	floor := silentBeat * floats.Max(strength)
	n := len(beats)
	for n > 0 && strength[n-1] <= floor {
		n--
	}
	return beats[:n], strength[:n]
}

// medianBPM converts the median beat interval to BPM, or returns 0 with
// fewer than two beats.
func medianBPM(beats []int, frameRate float64) float64 {
	intervals := beat.Intervals(beats)
	if len(intervals) == 0 {
		return 0
	}
	slices.Sort(intervals)
	return finiteOrZero(beat.IntervalBPM(stat.Quantile(0.5, stat.Empirical, intervals, nil), frameRate))
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
