package meter

import "math"

// Bar is a measure spanning [Start, End) in envelope frames.
type Bar struct {
	Start int `json:"start"`
	End   int `json:"end"`
	Beats int `json:"beats"`
}

// Bars lays out measures from beat frames and the downbeats among them, given
// as beat indices with the meter starting at each.
//
// Everything up to the first downbeat becomes single-beat bars, starting from
// frame 0. Each downbeat then opens a bar that ends at the next downbeat. The
// last bar is extended by its meter times the mean spacing of the beats it
// contains, or of all beats when it contains only its downbeat.
func Bars(beats, downbeats, meters []int) []Bar {
	if len(beats) == 0 {
		return nil
	}
	var bars []Bar
	add := func(start, end, n int) {
		if end > start {
			bars = append(bars, Bar{Start: start, End: end, Beats: n})
		}
	}

	if len(downbeats) == 0 {
		prev := 0
		for _, b := range beats {
			add(prev, b, 1)
			prev = b
		}
		return bars
	}

	prev := 0
	for i := 0; i <= downbeats[0] && i < len(beats); i++ {
		add(prev, beats[i], 1)
		prev = beats[i]
	}

	for i, d := range downbeats {
		if d >= len(beats) {
			break
		}
		m := meters[i]
		if i+1 < len(downbeats) && downbeats[i+1] < len(beats) {
			end := beats[downbeats[i+1]]
			add(prev, end, m)
			prev = end
			continue
		}

		spacing := meanSpacing(beats)
		if cnt := len(beats) - 1 - d; cnt > 0 {
			spacing = float64(beats[len(beats)-1]-prev) / float64(cnt)
		}
		add(prev, prev+int(math.Round(spacing*float64(m))), m)
	}
	return bars
}

func meanSpacing(beats []int) float64 {
	if len(beats) < 2 {
		return 0
	}
	return float64(beats[len(beats)-1]-beats[0]) / float64(len(beats)-1)
}
