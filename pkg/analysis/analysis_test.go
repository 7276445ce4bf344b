package analysis

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzoschke/tempolab/pkg/dsp"
	"github.com/nzoschke/tempolab/pkg/onset"
)

// accentedTrain returns an envelope with an impulse every period frames and
// a stronger impulse on every meter-th one.
func accentedTrain(n, period, meter int) []float64 {
	env := make([]float64, n)
	for i, b := 0, 0; i < n; i, b = i+period, b+1 {
		env[i] = 1
		if b%meter == 0 {
			env[i] = 2
		}
	}
	return env
}

func newTestAnalyzer(t *testing.T, cfg Config) *Analyzer {
	t.Helper()
	a, err := New(cfg, nil)
	require.NoError(t, err)
	return a
}

func TestAnalyze(t *testing.T) {
	a := newTestAnalyzer(t, DefaultConfig())
	env := onset.Envelope{FrameRate: 100, Values: accentedTrain(6000, 50, 4)}

	res, err := a.Analyze(env)
	require.NoError(t, err)

	assert.Equal(t, 6000, res.Frames)
	assert.InDelta(t, 120, res.GlobalBPM, 3)
	assert.InDelta(t, 120, res.BPM, 2)
	assert.Len(t, res.TempoCurve, 6000)
	require.Greater(t, len(res.BeatFrames), 100)
	assert.Len(t, res.Beats, len(res.BeatFrames))
	assert.NotEqual(t, 0, res.BeatFrames[0])
	assert.InDelta(t, float64(res.BeatFrames[3])/100, res.Beats[3], 1e-12)
	assert.InDelta(t, 5950, res.BeatFrames[len(res.BeatFrames)-1], 2, "no beat in the quiet tail")

	require.NotEmpty(t, res.DownbeatFrames)
	assert.Len(t, res.Meters, len(res.DownbeatFrames))
	assert.Len(t, res.Downbeats, len(res.DownbeatFrames))

	// downbeats should sit on the accented impulses in 4
	onAccent := 0
	for _, d := range res.DownbeatFrames {
		if off := d % 200; off <= 2 || off >= 198 {
			onAccent++
		}
	}
	assert.GreaterOrEqual(t, onAccent, len(res.DownbeatFrames)*8/10)
	assert.Equal(t, 4, res.Meters[len(res.Meters)-1])

	assert.NotEmpty(t, res.Bars)
	assert.Equal(t, 0, res.Bars[0].Start)
	for i := 1; i < len(res.Bars); i++ {
		assert.Equal(t, res.Bars[i-1].End, res.Bars[i].Start, "bar %d", i)
	}
}

func TestTrimSilentTail(t *testing.T) {
	beats, strength := trimSilentTail([]int{50, 100, 150, 198}, []float64{2, 1, 1, 0})
	assert.Equal(t, []int{50, 100, 150}, beats)
	assert.Equal(t, []float64{2, 1, 1}, strength)

	beats, _ = trimSilentTail([]int{50, 100, 150}, []float64{2, 0.05, 1})
	assert.Equal(t, []int{50, 100, 150}, beats, "quiet beats inside the track stay")

	beats, strength = trimSilentTail([]int{10, 20}, []float64{0, 0})
	assert.Empty(t, beats)
	assert.Empty(t, strength)
}

func TestMedianBPM(t *testing.T) {
	// intervals 30, 20, 50 are unsorted; the median is 30 frames
	assert.InDelta(t, 200, medianBPM([]int{0, 30, 50, 100}, 100), 1e-9)
	assert.Zero(t, medianBPM([]int{10}, 100))
}

func TestAnalyze_WithoutPulseOrDownbeatDP(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UsePulse = false
	cfg.DetectDownbeats = false
	a := newTestAnalyzer(t, cfg)

	res, err := a.Analyze(onset.Envelope{FrameRate: 100, Values: accentedTrain(6000, 50, 3)})
	require.NoError(t, err)
	assert.InDelta(t, 120, res.BPM, 2)

	require.NotEmpty(t, res.Meters)
	for _, m := range res.Meters {
		assert.Equal(t, res.Meters[0], m, "a single pattern has one meter")
	}
	for i := 1; i < len(res.DownbeatFrames); i++ {
		assert.InDelta(t, res.Meters[0]*50, res.DownbeatFrames[i]-res.DownbeatFrames[i-1], 4)
	}
}

func TestAnalyze_Silence(t *testing.T) {
	a := newTestAnalyzer(t, DefaultConfig())
	res, err := a.Analyze(onset.Envelope{FrameRate: 100, Values: make([]float64, 3000)})
	require.NoError(t, err)

	assert.Zero(t, res.GlobalBPM)
	assert.False(t, math.IsNaN(res.BPM))
	assert.Positive(t, res.UnknownWindows)

	_, err = json.Marshal(res)
	assert.NoError(t, err, "no NaN reaches the encoder")
}

func TestAnalyze_Errors(t *testing.T) {
	a := newTestAnalyzer(t, DefaultConfig())

	_, err := a.Analyze(onset.Envelope{FrameRate: 0, Values: make([]float64, 100)})
	assert.ErrorIs(t, err, ErrInvalidEnvelope)

	_, err = a.Analyze(onset.Envelope{FrameRate: 100, Values: []float64{1, 0}})
	assert.ErrorIs(t, err, ErrInvalidEnvelope)

	_, err = a.Analyze(onset.Envelope{FrameRate: 100, Values: accentedTrain(300, 50, 4)})
	assert.ErrorIs(t, err, dsp.ErrInputTooShort)

	_, err = a.AnalyzeSamples(make([]float32, 100), 44100)
	assert.ErrorIs(t, err, ErrAudioTooShort)

	_, err = a.AnalyzeSamples(make([]float32, 100), 0)
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestAnalyze_Concurrent(t *testing.T) {
	a := newTestAnalyzer(t, DefaultConfig())
	env := onset.Envelope{FrameRate: 100, Values: accentedTrain(4000, 45, 4)}

	want, err := a.Analyze(env)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*Analysis, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = a.Analyze(env)
		}()
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, want, got)
	}
}

func TestAnalyzeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clicks.wav")
	writeWAV(t, path, 22050, 1, clickTrack(22050, 20, 120))

	a := newTestAnalyzer(t, DefaultConfig())
	ta, err := a.AnalyzeFile(path)
	require.NoError(t, err)

	assert.Equal(t, "clicks.wav", ta.File)
	assert.Equal(t, 22050, ta.SampleRate)
	assert.InDelta(t, 20, ta.Duration, 0.01)
	assert.InDelta(t, 50, ta.Analysis.FrameRate, 1e-9)
	assert.InDelta(t, 120, ta.Analysis.BPM, 4)

	require.NotNil(t, ta.Waveform)
	assert.Equal(t, 100, ta.Waveform.PixelsPerSec)
	assert.InDelta(t, 2000, len(ta.Waveform.Peaks), 5)

	out := filepath.Join(t.TempDir(), "clicks.json")
	require.NoError(t, ta.WriteJSON(out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var decoded TrackAnalysis
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ta.Analysis.BeatFrames, decoded.Analysis.BeatFrames)
}

func TestAnalyzeDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	writeWAV(t, filepath.Join(dir, "a.wav"), 22050, 1, clickTrack(22050, 20, 100))
	writeWAV(t, filepath.Join(dir, "sub", "b.WAV"), 22050, 1, clickTrack(22050, 20, 130))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.wav"), []byte("nope"), 0644))

	cfg := DefaultConfig()
	cfg.Workers = 2
	a := newTestAnalyzer(t, cfg)

	res, err := a.AnalyzeDir(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Equal(t, DirResult{Analyzed: 2, Failed: 1}, res)
	assert.FileExists(t, filepath.Join(dir, "a.json"))
	assert.FileExists(t, filepath.Join(dir, "sub", "b.json"))
	assert.NoFileExists(t, filepath.Join(dir, "notes.json"))

	res, err = a.AnalyzeDir(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Equal(t, DirResult{Skipped: 2, Failed: 1}, res)

	res, err = a.AnalyzeDir(context.Background(), dir, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Analyzed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.AnalyzeDir(ctx, dir, true)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerateWaveform(t *testing.T) {
	samples := []float32{0.1, -0.2, 0.5, 0.3, -0.9, 0.0, 0.2}
	w, err := GenerateWaveform(samples, 6, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{float64(float32(0.5)), float64(float32(0.3))}, w.Peaks)
	assert.Equal(t, []float64{float64(float32(-0.2)), float64(float32(-0.9))}, w.Troughs)

	_, err = GenerateWaveform(samples[:2], 6, 2)
	assert.ErrorIs(t, err, ErrAudioTooShort)
}

func TestSidecarPath(t *testing.T) {
	assert.Equal(t, "music/a/track.json", SidecarPath("music/a/track.mp3"))
	assert.Equal(t, "x.json", SidecarPath("x.WAV"))
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []int{2, 3, 4}, cfg.Meters)

	cfg.Meters[0] = 9
	assert.Equal(t, []int{2, 3, 4}, DefaultConfig().Meters, "defaults are not shared")

	path := filepath.Join(t.TempDir(), "tempolab.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"min_bpm": 60, "tightness": 120, "meters": [3, 4]}`), 0644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 60.0, cfg.MinBPM)
	assert.Equal(t, 200.0, cfg.MaxBPM)
	assert.Equal(t, 120.0, cfg.Tightness)
	assert.Equal(t, []int{3, 4}, cfg.Meters)
	assert.True(t, cfg.UsePulse)

	require.NoError(t, os.WriteFile(path, []byte(`{"min_bpm": 300, "meters": [5]}`), 0644))
	_, err = LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bpm range")
	assert.Contains(t, err.Error(), "meter 5")

	require.NoError(t, os.WriteFile(path, []byte(`{`), 0644))
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "parse config")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := DefaultConfig()
	bad.HopSize = 0
	_, err = New(bad, nil)
	assert.ErrorContains(t, err, "hop_size")
}
