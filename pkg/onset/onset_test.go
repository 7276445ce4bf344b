package onset

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

func assertFinite(t *testing.T, x []float64) {
	t.Helper()
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("value %d is not finite: %v", i, v)
		}
	}
}

func TestSilentInput(t *testing.T) {
	zeros := make([]float64, 64)

	CompressOutliers(zeros, DefaultPercentile, DefaultMarginRatio)
	Detrend(zeros)
	Normalize(zeros)
	assertFinite(t, zeros)
	for _, v := range zeros {
		assert.Equal(t, 0.0, v)
	}

	out := Clean(make([]float64, 10))
	assertFinite(t, out)
	assert.Equal(t, make([]float64, 10), out)
}

func TestCompressOutliers(t *testing.T) {
	env := make([]float64, 101)
	for i := range env {
		env[i] = 1
	}
	env[50] = 10

	CompressOutliers(env, 0.99, 1.3)
	assert.InDelta(t, 1.3, env[50], 1e-9)
	assert.Equal(t, 1.0, env[0])
	assert.Equal(t, 1.0, env[100])
}

func TestCompressOutliers_Monotonic(t *testing.T) {
	env := make([]float64, 200)
	for i := range env {
		env[i] = float64(i % 10)
	}
	env[10], env[20], env[30] = 12, 14, 16

	CompressOutliers(env, 0.9, 1.3)
	assert.InDelta(t, 9*1.3, floats.Max(env), 1e-9)
	assert.Less(t, env[10], env[20])
	assert.Less(t, env[20], env[30])
	assert.Equal(t, 9.0, env[9], "values at the percentile are untouched")
}

func TestCompressOutliers_NoOp(t *testing.T) {
	env := []float64{1, 2, 3, 1.1, 2.5}
	want := []float64{1, 2, 3, 1.1, 2.5}
	CompressOutliers(env, 0.99, 1.3)
	assert.Equal(t, want, env)

	CompressOutliers(nil, 0.99, 1.3)
}

func TestDetrend_RemovesRamp(t *testing.T) {
	env := make([]float64, 400)
	for i := range env {
		env[i] = 0.01 * float64(i)
	}
	Detrend(env)
	for i := 100; i <= 300; i++ {
		assert.Less(t, math.Abs(env[i]), 0.01, "sample %d", i)
	}
}

func TestDetrend_KeepsOnsetPosition(t *testing.T) {
	env := make([]float64, 101)
	env[50] = 1
	Detrend(env)
	assert.Equal(t, 50, floats.MaxIdx(env))
}

func TestNormalize(t *testing.T) {
	env := []float64{-2, 0, 1, 3, 8, -1}
	Normalize(env)

	assert.Equal(t, 0.0, floats.Min(env))
	_, std := stat.PopMeanStdDev(env, nil)
	assert.InDelta(t, 1.0, std, 1e-12)

	constant := []float64{4, 4, 4}
	Normalize(constant)
	assert.Equal(t, []float64{0, 0, 0}, constant)

	Normalize(nil)
}

func TestFlux(t *testing.T) {
	quiet := []float64{1e-2, 1e-2, 1e-2}
	loud := []float64{1, 1, 1}
	spec := [][]float64{quiet, quiet, loud, loud, quiet, loud}

	flux := Flux(spec, 0.8)
	require.Len(t, flux, len(spec))
	assert.Less(t, flux[0], 1e-3, "seeded reference suppresses the first frame")
	assert.Less(t, flux[1], 1e-3)
	assert.InDelta(t, 3*(math.Log(1+1e-6)-math.Log(1e-2+1e-6)), flux[2], 1e-4)
	assert.Less(t, flux[3], flux[2])
	assert.Equal(t, 0.0, flux[4], "decreases never count")
	assert.Greater(t, flux[5], 1.0)

	assert.Empty(t, Flux(nil, 0.8))
}

func TestExtract(t *testing.T) {
	const frames, bins = 300, 16
	spec := make([][]float64, frames)
	for i := range spec {
		spec[i] = make([]float64, bins)
		for j := range spec[i] {
			spec[i][j] = 0.01
			if i%15 == 0 {
				spec[i][j] = 1
			}
		}
	}

	env := Extract(spec, 0.8)
	require.Len(t, env, frames)
	assertFinite(t, env)
	assert.GreaterOrEqual(t, floats.Min(env), 0.0)

	peaks := 0
	for i := 15; i < frames-15; i += 15 {
		if env[i] > env[i-1] && env[i] > env[i+1] {
			peaks++
		}
	}
	assert.Equal(t, (frames-30)/15, peaks, "each click frame stays a local maximum")
}

func TestClean_DoesNotModifyInput(t *testing.T) {
	raw := []float64{0, 1, 0, 5, 0, 1, 0}
	want := []float64{0, 1, 0, 5, 0, 1, 0}
	out := Clean(raw)
	assert.Equal(t, want, raw)
	assert.Len(t, out, len(raw))
}

func TestEnvelope(t *testing.T) {
	env := Envelope{FrameRate: 20, Values: make([]float64, 200)}
	assert.Equal(t, 200, env.Len())
	assert.Equal(t, 10.0, env.Duration())
	assert.Equal(t, 0.75, env.FrameTime(15))
	assert.Equal(t, 0.0, Envelope{}.Duration())
}
