package pipeline

import (
	"fmt"
	"math"
	"time"
)

// EstimateRemaining predicts the seconds left as the mean chunk time times
// the number of chunks still to process. ok is false when there is no
// history to average.
func EstimateRemaining(elapsed []time.Duration, remaining int) (seconds int, ok bool) {
	if len(elapsed) == 0 || remaining < 0 {
		return 0, false
	}
	var sum float64
	for _, d := range elapsed {
		sum += d.Seconds()
	}
	mean := sum / float64(len(elapsed))
	est := math.Round(mean * float64(remaining))
	if math.IsNaN(est) || math.IsInf(est, 0) || est < 0 {
		return 0, false
	}
	return int(est), true
}

// FormatETA renders seconds as m:ss, or "N/A" when not computable.
func FormatETA(seconds int, ok bool) string {
	if !ok || seconds < 0 {
		return "N/A"
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
