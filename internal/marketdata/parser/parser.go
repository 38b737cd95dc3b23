// Package parser turns delimited OHLCV text into a canonical candle sequence.
//
// Each line is split independently: tab if the line has one, else comma,
// else runs of whitespace. A line carries either a single timestamp field or
// separate date and time fields, followed by open, high, low, close and an
// optional volume.
package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"ohlcv-engine/internal/model"
	"ohlcv-engine/internal/timeutil"
)

const (
	minFields     = 5
	maxLineLength = 1 << 20
)

// ParseFile reads and parses the file at path. The dataset's SourcePath is
// path exactly as given.
func ParseFile(path string) (model.DataSet, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.DataSet{}, model.NewFileNotFound(path)
		}
		return model.DataSet{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(path, f)
}

// Parse reads candles from r in file order. Any bad line aborts the whole
// parse; no partial dataset is returned.
func Parse(sourcePath string, r io.Reader) (model.DataSet, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineLength)

	ds := model.DataSet{SourcePath: sourcePath, Candles: []model.Candle{}}
	lineNo := 0
	first := true
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if first {
			first = false
			if isHeader(line) {
				continue
			}
		}
		c, err := parseLine(line, lineNo)
		if err != nil {
			return model.DataSet{}, err
		}
		ds.Candles = append(ds.Candles, c)
	}
	if err := sc.Err(); err != nil {
		return model.DataSet{}, model.NewParseError(lineNo+1, "read error: "+err.Error(), err)
	}
	return ds, nil
}

func isHeader(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "timestamp") ||
		(strings.Contains(lower, "date") && strings.Contains(lower, "time"))
}

func parseLine(line string, lineNo int) (model.Candle, error) {
	parts := SplitLine(line)
	if len(parts) < minFields {
		return model.Candle{}, model.NewParseError(lineNo, "invalid column count", nil)
	}

	var (
		ts    string
		err   error
		start = 1
	)
	if len(parts) >= 6 && timeutil.LooksLikeDate(parts[0]) && timeutil.LooksLikeTime(parts[1]) {
		ts, err = timeutil.NormalizeParts(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
		start = 2
	} else {
		ts, err = timeutil.Normalize(strings.TrimSpace(parts[0]))
	}
	if err != nil {
		return model.Candle{}, model.NewParseError(lineNo, err.Error(), err)
	}
	if len(parts) < start+4 {
		return model.Candle{}, model.NewParseError(lineNo, "invalid column count", nil)
	}

	var vals [5]float64
	for i := 0; i < 5; i++ {
		if start+i >= len(parts) {
			break // volume is optional
		}
		v, err := ParseNumber(parts[start+i])
		if err != nil {
			return model.Candle{}, model.NewParseError(lineNo, err.Error(), err)
		}
		vals[i] = v
	}

	return model.Candle{
		TS:     ts,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}

// SplitLine picks the delimiter for a single line: tab, then comma, then
// whitespace runs.
func SplitLine(line string) []string {
	switch {
	case strings.Contains(line, "\t"):
		return strings.Split(line, "\t")
	case strings.Contains(line, ","):
		return strings.Split(line, ",")
	default:
		return strings.Fields(line)
	}
}

// ParseNumber parses a float after trimming and removing thousands separators.
// NaN and infinities are rejected.
func ParseNumber(s string) (float64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid number: %s", s)
	}
	return v, nil
}
