// pkg/utils/clock_unix.go

package utils

import "time"

var started = time.Now()

func Now() time.Time {
	return time.Now()
}

// NowMillis is Now truncated to the millisecond precision kept by records.
func NowMillis() time.Time {
	return time.UnixMilli(time.Now().UnixMilli())
}

func Clock() time.Duration {
	return time.Since(started)
}
