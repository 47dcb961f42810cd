// Package daykey handles the integer YYYYMMDD day keys used to
// deduplicate and query price records at calendar-day granularity.
package daykey

import (
	"fmt"
	"time"
)

// FromTime converts a point in time to its day key.
func FromTime(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// Today returns the current day key in the given location.
func Today(loc *time.Location) int {
	return FromTime(time.Now().In(loc))
}

// Format renders a day key as YYYY-MM-DD for outbound payloads.
func Format(key int) string {
	return fmt.Sprintf("%04d-%02d-%02d", key/10000, key/100%100, key%100)
}

// ToTime returns midnight of the day key in the given location.
func ToTime(key int, loc *time.Location) time.Time {
	return time.Date(key/10000, time.Month(key/100%100), key%100, 0, 0, 0, 0, loc)
}

// Valid reports whether key looks like a plausible YYYYMMDD value.
func Valid(key int) bool {
	month := key / 100 % 100
	day := key % 100
	return key >= 19700101 && month >= 1 && month <= 12 && day >= 1 && day <= 31
}
