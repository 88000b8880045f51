package programmer

import "time"

func durationFromMicros(us int) time.Duration {
	if us < 0 {
		us = 0
	}
	return time.Duration(us) * time.Microsecond
}
