package meter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// accents repeats pattern n times over.
func accents(n int, pattern ...float64) []float64 {
	out := make([]float64, 0, n*len(pattern))
	for range n {
		out = append(out, pattern...)
	}
	return out
}

func TestBeatStrength(t *testing.T) {
	env := []float64{0, 1, 0, 0, 5, 0, 0, 0, 2, 0}
	got := BeatStrength(env, []int{0, 4, 7, 9}, 5)
	assert.Equal(t, []float64{1, 5, 2, 2}, got)

	assert.Equal(t, []float64{0, 5}, BeatStrength(env, []int{0, 4}, 1))
	assert.Empty(t, BeatStrength(env, nil, 5))
}

func TestRhythmicPattern(t *testing.T) {
	str := accents(8, 0.2, 1, 0.2, 0.2)
	p, err := RhythmicPattern(str, DefaultMeters)
	require.NoError(t, err)
	assert.Equal(t, Pattern{Meter: 4, Phase: 1}, p)
	assert.Equal(t, []int{1, 5, 9}, p.Downbeats(12))

	p, err = RhythmicPattern(accents(10, 1, 0.3, 0.3), DefaultMeters)
	require.NoError(t, err)
	assert.Equal(t, Pattern{Meter: 3, Phase: 0}, p)
}

func TestRhythmicPattern_Errors(t *testing.T) {
	_, err := RhythmicPattern([]float64{1, 0.5, 0.5}, DefaultMeters)
	assert.ErrorIs(t, err, ErrTooFewBeats)

	_, err = RhythmicPattern(accents(4, 1, 0), []int{5})
	assert.ErrorIs(t, err, ErrInvalidMeter)

	_, err = RhythmicPattern(accents(4, 1, 0), nil)
	assert.ErrorIs(t, err, ErrInvalidMeter)
}

func TestDetectDownbeats_FourFour(t *testing.T) {
	str := accents(8, 1, 0.2, 0.2, 0.2)
	res, err := DetectDownbeats(str, DefaultMeters)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 4, 8, 12, 16, 20, 24, 28}, res.Beats)
	for _, m := range res.Meters {
		assert.Equal(t, 4, m)
	}
	assert.Equal(t, 1.0, str[0], "input is not modified")
}

func TestDetectDownbeats_ThreeFour(t *testing.T) {
	str := accents(10, 0.3, 1, 0.3)
	res, err := DetectDownbeats(str, DefaultMeters)
	require.NoError(t, err)

	require.NotEmpty(t, res.Beats)
	for i, b := range res.Beats {
		assert.Equal(t, 1, b%3, "downbeat %d", i)
		assert.Equal(t, 3, res.Meters[i])
	}
	assert.Equal(t, 28, res.Beats[len(res.Beats)-1])
}

func TestDetectDownbeats_MeterChange(t *testing.T) {
	str := append(accents(6, 1, 0.2, 0.2, 0.2), accents(20, 1, 0.2, 0.2)...)
	res, err := DetectDownbeats(str, DefaultMeters)
	require.NoError(t, err)
	require.Len(t, res.Meters, len(res.Beats))
	require.NotEmpty(t, res.Beats)

	// a bar always lasts its meter, so switches only happen on bar lines
	for i := 1; i < len(res.Beats); i++ {
		assert.Equal(t, res.Meters[i-1], res.Beats[i]-res.Beats[i-1], "downbeat %d", i)
	}

	last := res.Beats[len(res.Beats)-1]
	assert.Equal(t, 3, res.Meters[len(res.Meters)-1])
	assert.Equal(t, 0, (last-24)%3, "final bars follow the accents")
}

func TestDetectDownbeats_Edges(t *testing.T) {
	res, err := DetectDownbeats(nil, DefaultMeters)
	require.NoError(t, err)
	assert.Empty(t, res.Beats)

	res, err = DetectDownbeats([]float64{1}, []int{4})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, res.Beats)

	// flat strengths stay finite and well formed
	res, err = DetectDownbeats(make([]float64, 12), DefaultMeters)
	require.NoError(t, err)
	assert.Len(t, res.Meters, len(res.Beats))

	_, err = DetectDownbeats([]float64{1, 2}, []int{2, 7})
	assert.ErrorIs(t, err, ErrInvalidMeter)
}

func TestResultFrames(t *testing.T) {
	r := &Result{Beats: []int{0, 2, 9}, Meters: []int{2, 2, 2}}
	assert.Equal(t, []int{10, 30}, r.Frames([]int{10, 20, 30, 40}))
}

func TestBars(t *testing.T) {
	beats := []int{10, 20, 30, 40, 50, 60, 70, 80}

	// pickup beat at index 0, downbeats at 1 and 5
	bars := Bars(beats, []int{1, 5}, []int{4, 4})
	assert.Equal(t, []Bar{
		{Start: 0, End: 10, Beats: 1},
		{Start: 10, End: 20, Beats: 1},
		{Start: 20, End: 60, Beats: 4},
		{Start: 60, End: 100, Beats: 4},
	}, bars)

	// last bar holding only its downbeat uses the overall spacing
	bars = Bars(beats, []int{4, 7}, []int{3, 2})
	assert.Equal(t, Bar{Start: 50, End: 80, Beats: 3}, bars[len(bars)-2])
	assert.Equal(t, Bar{Start: 80, End: 100, Beats: 2}, bars[len(bars)-1])

	// no downbeats yields one bar per beat
	bars = Bars([]int{5, 10, 15}, nil, nil)
	assert.Len(t, bars, 3)

	assert.Nil(t, Bars(nil, nil, nil))
}
