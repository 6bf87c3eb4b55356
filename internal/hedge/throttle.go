package hedge

import "time"

// Elapsed reports whether a directional hedge may act at now. A zero last
// interaction means the controller has never acted.
func Elapsed(last time.Time, delay time.Duration, now time.Time) bool {
	if last.IsZero() || delay <= 0 {
		return true
	}
	return now.Sub(last) >= delay
}
