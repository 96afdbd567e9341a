package main

import "time"

// durationFromSeconds converts a CLI float-seconds flag (0 meaning
// "no limit") to a time.Duration, leaving zero as zero.
func durationFromSeconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
