package util

import (
	"time"
)

// UTC calendar day, as stored in rule daily-reset markers.
const DayFormat = time.DateOnly

// UTC hour, used for hourly counter buckets.
const HourFormat = "2006-01-02T15"

func DayKey(t time.Time) string {
	return t.UTC().Format(DayFormat)
}

func HourKey(t time.Time) string {
	return t.UTC().Format(HourFormat)
}
