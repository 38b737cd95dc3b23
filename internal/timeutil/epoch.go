package timeutil

import (
	"fmt"
	"strings"

	"ohlcv-engine/internal/model"
)

const secondsPerDay = 86400

// ToEpoch converts a proleptic-Gregorian civil date/time to Unix seconds.
// No time zone or leap-second adjustment is applied.
func ToEpoch(year, month, day, hour, min, sec int64) int64 {
	y := year
	m := month
	if m <= 2 {
		y--
		m += 12
	}
	era := floorDiv(y, 400)
	yoe := y - era*400
	doy := (153*(m-3)+2)/5 + day - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	days := era*146097 + doe - 719468 // days since 1970-01-01
	return days*secondsPerDay + hour*3600 + min*60 + sec
}

// FromEpoch is the inverse of ToEpoch.
func FromEpoch(epoch int64) (year, month, day, hour, min, sec int64) {
	days := floorDiv(epoch, secondsPerDay)
	secs := epoch - days*secondsPerDay
	z := days + 719468
	era := floorDiv(z, 146097)
	doe := z - era*146097
	yoe := (doe - doe/1460 + doe/36524 - doe/146096) / 365
	y := yoe + era*400
	doy := doe - (365*yoe + yoe/4 - yoe/100)
	mp := (5*doy + 2) / 153
	day = doy - (153*mp+2)/5 + 1
	if mp < 10 {
		month = mp + 3
	} else {
		month = mp - 9
	}
	year = y
	if month <= 2 {
		year++
	}
	return year, month, day, secs / 3600, (secs % 3600) / 60, secs % 60
}

// ParseCanonical converts "YYYY-MM-DDTHH:MM:SSZ" to epoch seconds. Fields
// are range-checked like Normalize, so out-of-range text never rolls over
// into a neighbouring bucket.
func ParseCanonical(ts string) (int64, error) {
	s, ok := strings.CutSuffix(ts, "Z")
	if !ok {
		return 0, model.NewInvalidTimestamp(ts)
	}
	date, clock, ok := strings.Cut(s, "T")
	if !ok {
		return 0, model.NewInvalidTimestamp(ts)
	}
	y, mo, d, ok := dateTriple(date, "-")
	if !ok {
		return 0, model.NewInvalidTimestamp(ts)
	}
	h, mi, sec, ok := splitClock(clock)
	if !ok || h > 23 || mi > 59 || sec > 59 {
		return 0, model.NewInvalidTimestamp(ts)
	}
	return ToEpoch(int64(y), int64(mo), int64(d), int64(h), int64(mi), int64(sec)), nil
}

// FormatCanonical renders epoch seconds as "YYYY-MM-DDTHH:MM:SSZ".
func FormatCanonical(epoch int64) string {
	y, mo, d, h, mi, s := FromEpoch(epoch)
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02dZ", y, mo, d, h, mi, s)
}

// Truncate returns the nearest multiple of width at or below epoch.
func Truncate(epoch, width int64) int64 {
	return floorDiv(epoch, width) * width
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
