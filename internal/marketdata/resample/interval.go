package resample

import (
	"strings"

	"ohlcv-engine/internal/model"
	"ohlcv-engine/internal/timeutil"
)

// Interval is a supported resample target.
type Interval int

const (
	M1 Interval = iota
	M5
	M15
	M30
	H1
	H4
	D1
)

var intervalNames = [...]string{"M1", "M5", "M15", "M30", "H1", "H4", "D1"}

var intervalSeconds = [...]int64{60, 300, 900, 1800, 3600, 14400, 86400}

// Seconds returns the bucket width.
func (iv Interval) Seconds() int64 { return intervalSeconds[iv] }

func (iv Interval) String() string { return intervalNames[iv] }

// MarshalText encodes the interval by name.
func (iv Interval) MarshalText() ([]byte, error) { return []byte(iv.String()), nil }

// UnmarshalText accepts any name ParseInterval accepts.
func (iv *Interval) UnmarshalText(b []byte) error {
	parsed, err := ParseInterval(string(b))
	if err != nil {
		return err
	}
	*iv = parsed
	return nil
}

// ParseInterval maps "M1".."D1" to an Interval. Anything else is InvalidInterval.
func ParseInterval(name string) (Interval, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	for i, s := range intervalNames {
		if s == n {
			return Interval(i), nil
		}
	}
	return 0, model.NewInvalidInterval(name)
}

// Intervals lists every supported target in ascending width.
func Intervals() []Interval {
	out := make([]Interval, len(intervalNames))
	for i := range out {
		out[i] = Interval(i)
	}
	return out
}

// Infer guesses the source interval from the spacing of the first two candles.
func Infer(candles []model.Candle) (Interval, bool) {
	if len(candles) < 2 {
		return 0, false
	}
	t0, err := timeutil.ParseCanonical(candles[0].TS)
	if err != nil {
		return 0, false
	}
	t1, err := timeutil.ParseCanonical(candles[1].TS)
	if err != nil {
		return 0, false
	}
	diff := t1 - t0
	if diff < 0 {
		diff = -diff
	}
	for i, s := range intervalSeconds {
		if s == diff {
			return Interval(i), true
		}
	}
	return 0, false
}
