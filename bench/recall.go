package bench

import (
	"fmt"
	"strings"
)

// Recall is one recall score in [-1, 1]. The value -1 is the sentinel for
// an engine that returned a result outside the active candidate
// restriction; it is deliberately visible instead of being clamped to
// zero, so a misbehaving configuration cannot hide behind a low score.
type Recall float32

// Sentinel recall marking a candidate-restriction violation.
const InvalidRecall Recall = -1

// Valid reports whether the score is a real recall, not the sentinel.
func (r Recall) Valid() bool {
	return r >= 0
}

// String renders the score colorized by bucket: red up to 0.25, yellow up
// to 0.5, green up to 0.75, blue up to 0.90, cyan up to 0.999, and
// underlined cyan for scores indistinguishable from 1.0. The sentinel
// falls in the red bucket.
func (r Recall) String() string {
	var color string
	switch {
	case r <= 0.25:
		color = "\x1b[1;31m"
	case r <= 0.5:
		color = "\x1b[1;33m"
	case r <= 0.75:
		color = "\x1b[1;32m"
	case r <= 0.90:
		color = "\x1b[1;34m"
	case r <= 0.999:
		color = "\x1b[1;36m"
	default:
		color = "\x1b[1;4;36m"
	}
	return fmt.Sprintf("%s%.2f\x1b[0m", color, float32(r))
}

func formatRecalls(recalls []Recall) string {
	parts := make([]string, len(recalls))
	for i, r := range recalls {
		parts[i] = r.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
