package overlay

import (
	"math"
	"strconv"
)

// Percent converts a confidence in [0,1] to a whole percentage, rounding
// half up. Products such as 0.995*100 = 99.49999999999999 are snapped to
// six decimals first so they round the way they read.
func Percent(confidence float64) int {
	if math.IsNaN(confidence) || confidence <= 0 {
		return 0
	}
	if confidence >= 1 {
		return 100
	}
	p := math.Round(confidence*100*1e6) / 1e6
	return int(math.Floor(p + 0.5))
}

// FormatLabel renders "{label} {percent}%".
func FormatLabel(label string, confidence float64) string {
	return label + " " + strconv.Itoa(Percent(confidence)) + "%"
}
