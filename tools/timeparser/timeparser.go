package timeparser

import (
	"fmt"
	"time"
)

// ParseReadingTimestamp attempts to parse a claimed reading timestamp.
// Devices are expected to send ISO-8601, but some firmwares drop the zone
// or the T separator, so a few close variants are accepted.
func ParseReadingTimestamp(dateStr string) (time.Time, error) {
	formats := []string{
		time.RFC3339,          // 2026-01-02T15:04:05Z07:00
		time.RFC3339Nano,      // fractional seconds
		"2006-01-02T15:04:05", // ISO-8601 without zone, assumed UTC
		"2006-01-02 15:04:05", // space separator
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, dateStr)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", dateStr, lastErr)
}

// IsTooFarInFuture reports whether the reading timestamp is ahead of the
// receipt time by more than the allowed clock-drift tolerance.
func IsTooFarInFuture(readingTime, receivedTime time.Time, toleranceMinutes int) bool {
	return readingTime.Sub(receivedTime) > time.Duration(toleranceMinutes)*time.Minute
}

// IsTooOld reports whether the reading timestamp is older than the maximum
// accepted age on the real-time path.
func IsTooOld(readingTime, receivedTime time.Time, maxAgeMinutes int) bool {
	return receivedTime.Sub(readingTime) > time.Duration(maxAgeMinutes)*time.Minute
}
