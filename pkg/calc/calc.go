package calc

import (
	"time"
)

// ETA estimates the time left from the transfer rate so far.
func ETA(done, total int64, started time.Time) time.Duration {
	if total <= 0 || done <= 0 {
		return 0
	}

	elapsed := time.Since(started)

	return time.Duration(float64(elapsed) * (float64(total)/float64(done) - 1))
}

// FloorProgress is the completed percentage rounded down and clamped to [0, 100].
// Used where a reported value must never overstate completion.
func FloorProgress(done, total int64) int {
	if total <= 0 || done <= 0 {
		return 0
	}

	return int(min(done*100/total, 100))
}
