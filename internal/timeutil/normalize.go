// Package timeutil normalizes raw candle timestamps into the canonical
// UTC form "YYYY-MM-DDTHH:MM:SSZ" and converts between that form and epoch
// seconds with pure calendar arithmetic (no time zones, no leap seconds).
package timeutil

import (
	"fmt"
	"strconv"
	"strings"

	"ohlcv-engine/internal/model"
)

// Normalize converts "YYYY.MM.DD H:MM:SS" (single space or tab before the
// time) into canonical UTC text. Input is assumed to already be UTC.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexAny(s, " \t"); i > 0 {
		return normalize(raw, s[:i], s[i+1:])
	}
	return "", model.NewInvalidTimestamp(raw)
}

// NormalizeParts is Normalize for parsers that already split the date and
// time into separate columns.
func NormalizeParts(date, clock string) (string, error) {
	return normalize(date+" "+clock, date, clock)
}

func normalize(raw, date, clock string) (string, error) {
	y, mo, d, ok := splitDate(strings.TrimSpace(date))
	if !ok {
		return "", model.NewInvalidTimestamp(raw)
	}
	h, mi, s, ok := splitClock(strings.TrimSpace(clock))
	if !ok || h > 23 || mi > 59 || s > 59 {
		return "", model.NewInvalidTimestamp(raw)
	}
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02dZ", y, mo, d, h, mi, s), nil
}

// splitDate accepts a dot-separated all-digit triple.
func splitDate(date string) (y, m, d int, ok bool) {
	return dateTriple(date, ".")
}

func dateTriple(date, sep string) (y, m, d int, ok bool) {
	parts := strings.Split(date, sep)
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	vals, ok := digits(parts)
	if !ok {
		return 0, 0, 0, false
	}
	y, m, d = vals[0], vals[1], vals[2]
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return 0, 0, 0, false
	}
	return y, m, d, true
}

func splitClock(clock string) (h, m, s int, ok bool) {
	parts := strings.Split(clock, ":")
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	vals, ok := digits(parts)
	if !ok {
		return 0, 0, 0, false
	}
	return vals[0], vals[1], vals[2], true
}

// digits parses each part as a non-empty run of ASCII digits.
func digits(parts []string) ([]int, bool) {
	out := make([]int, len(parts))
	for i, p := range parts {
		if !IsDigits(p) {
			return nil, false
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}

// IsDigits reports whether s is a non-empty run of ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// LooksLikeDate reports whether s is a dot-separated all-digit triple.
func LooksLikeDate(s string) bool {
	return isTriple(strings.TrimSpace(s), ".")
}

// LooksLikeTime reports whether s is a colon-separated all-digit triple.
func LooksLikeTime(s string) bool {
	return isTriple(strings.TrimSpace(s), ":")
}

func isTriple(s, sep string) bool {
	parts := strings.Split(s, sep)
	if len(parts) < 3 {
		return false
	}
	for _, p := range parts[:3] {
		if !IsDigits(p) {
			return false
		}
	}
	return true
}
