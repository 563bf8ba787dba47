package audio

import "time"

// DefaultCrossfade is the overlap between consecutive chunks.
const DefaultCrossfade = 50 * time.Millisecond

// FadeSamples converts a fade duration to a whole number of samples,
// truncating any fraction.
func FadeSamples(sampleRate int, d time.Duration) int {
	if sampleRate <= 0 || d <= 0 {
		return 0
	}
	return int(int64(sampleRate) * int64(d) / int64(time.Second))
}

// StitchedLength is the length Crossfade produces for buffers of the given
// lengths when every seam uses the full fade.
func StitchedLength(lengths []int, fade int) int {
	if len(lengths) == 0 {
		return 0
	}
	total := 0
	for _, n := range lengths {
		total += n
	}
	return total - (len(lengths)-1)*fade
}

// Crossfade joins buffers in order, overlapping the tail of the accumulated
// output with the head of each next buffer over fade samples. The tail gain
// ramps 1 -> 0 and the head gain 0 -> 1, linearly, with j/fade at step j.
//
// A seam where either side is shorter than fade blends over the shorter
// length instead. Inputs are never modified; the result is a new slice.
func Crossfade(buffers [][]float32, fade int) []float32 {
	if len(buffers) == 0 {
		return nil
	}
	if fade < 0 {
		fade = 0
	}

	total := 0
	for _, b := range buffers {
		total += len(b)
	}
	out := make([]float32, 0, total)
	out = append(out, buffers[0]...)

	for _, next := range buffers[1:] {
		n := min(fade, len(out), len(next))
		start := len(out) - n
		for j := 0; j < n; j++ {
			in := float64(j) / float64(n)
			out[start+j] = float32(float64(out[start+j])*(1-in) + float64(next[j])*in)
		}
		out = append(out, next[n:]...)
	}
	return out
}
