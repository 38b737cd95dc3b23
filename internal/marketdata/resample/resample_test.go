package resample

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ohlcv-engine/internal/model"
	"ohlcv-engine/internal/timeutil"
)

// minuteCandles builds n consecutive M1 candles starting at base.
func minuteCandles(base int64, n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := 0; i < n; i++ {
		f := float64(i)
		out[i] = model.Candle{
			TS:     timeutil.FormatCanonical(base + int64(i)*60),
			Open:   10 + f,
			High:   11 + f,
			Low:    9 + f,
			Close:  10.5 + f,
			Volume: 1,
		}
	}
	return out
}

func TestResample_FiveMinutesIntoOne(t *testing.T) {
	base := int64(1052092800) // 2003-05-05T00:00:00Z
	ds := model.DataSet{SourcePath: "src.csv", Candles: minuteCandles(base, 5)}

	out, err := Resample(ds, M5)
	require.NoError(t, err)
	assert.Equal(t, "src.csv", out.SourcePath)
	require.Len(t, out.Candles, 1)

	c := out.Candles[0]
	assert.Equal(t, "2003-05-05T00:00:00Z", c.TS)
	assert.Equal(t, 10.0, c.Open)
	assert.Equal(t, 15.0, c.High)
	assert.Equal(t, 9.0, c.Low)
	assert.Equal(t, 14.5, c.Close)
	assert.Equal(t, 5.0, c.Volume)
}

func TestResample_BucketBoundaries(t *testing.T) {
	// Starts mid-bucket: 00:03 and 00:04 fall in the 00:00 bucket.
	base := int64(1052092800) + 180
	ds := model.DataSet{Candles: minuteCandles(base, 12)}

	out, err := Resample(ds, M5)
	require.NoError(t, err)
	require.Len(t, out.Candles, 3)
	assert.Equal(t, "2003-05-05T00:00:00Z", out.Candles[0].TS)
	assert.Equal(t, "2003-05-05T00:05:00Z", out.Candles[1].TS)
	assert.Equal(t, "2003-05-05T00:10:00Z", out.Candles[2].TS)

	assert.Equal(t, 2.0, out.Candles[0].Volume)
	assert.Equal(t, 5.0, out.Candles[1].Volume)
	assert.Equal(t, 5.0, out.Candles[2].Volume)
}

func TestResample_BucketProperties(t *testing.T) {
	base := int64(1700000000)
	ds := model.DataSet{Candles: minuteCandles(base, 500)}

	var inVol float64
	for _, c := range ds.Candles {
		inVol += c.Volume
	}

	for _, iv := range Intervals() {
		out, err := Resample(ds, iv)
		require.NoError(t, err, iv.String())
		require.NotEmpty(t, out.Candles)

		var outVol float64
		prev := int64(-1 << 62)
		for _, c := range out.Candles {
			ts, err := timeutil.ParseCanonical(c.TS)
			require.NoError(t, err)
			assert.Zero(t, ts%iv.Seconds(), "%s %s", iv, c.TS)
			assert.Greater(t, ts, prev, "%s not strictly ascending", iv)
			prev = ts
			assert.LessOrEqual(t, c.Low, c.Open)
			assert.LessOrEqual(t, c.Low, c.Close)
			assert.GreaterOrEqual(t, c.High, c.Open)
			assert.GreaterOrEqual(t, c.High, c.Close)
			outVol += c.Volume
		}
		assert.Equal(t, inVol, outVol, iv.String())
		assert.Equal(t, ds.Candles[0].Open, out.Candles[0].Open, iv.String())
		assert.Equal(t, ds.Candles[len(ds.Candles)-1].Close, out.Candles[len(out.Candles)-1].Close, iv.String())
	}
}

func TestResample_M1IsIdentityOnAlignedMinutes(t *testing.T) {
	ds := model.DataSet{Candles: minuteCandles(1052092800, 7)}
	out, err := Resample(ds, M1)
	require.NoError(t, err)
	assert.Equal(t, ds.Candles, out.Candles)
}

func TestResample_Empty(t *testing.T) {
	out, err := Resample(model.DataSet{SourcePath: "e"}, H1)
	require.NoError(t, err)
	assert.Equal(t, "e", out.SourcePath)
	assert.NotNil(t, out.Candles)
	assert.Empty(t, out.Candles)
}

func TestResample_BadTimestamp(t *testing.T) {
	ds := model.DataSet{Candles: []model.Candle{{TS: "garbage"}}}
	_, err := Resample(ds, M5)
	assert.ErrorIs(t, err, model.ErrInvalidTimestamp)
}

func TestParseInterval(t *testing.T) {
	for _, iv := range Intervals() {
		got, err := ParseInterval(iv.String())
		require.NoError(t, err)
		assert.Equal(t, iv, got)
	}

	got, err := ParseInterval(" h4 ")
	require.NoError(t, err)
	assert.Equal(t, H4, got)
	assert.Equal(t, int64(14400), got.Seconds())

	_, err = ParseInterval("W1")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidInterval)
	assert.Equal(t, `invalid interval "W1"`, err.Error())
}

func TestInterval_JSON(t *testing.T) {
	var req struct {
		Target Interval `json:"target"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"target":"M15"}`), &req))
	assert.Equal(t, M15, req.Target)

	b, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"target":"M15"}`, string(b))

	assert.Error(t, json.Unmarshal([]byte(`{"target":"X"}`), &req))
}

func TestInfer(t *testing.T) {
	iv, ok := Infer(minuteCandles(0, 3))
	assert.True(t, ok)
	assert.Equal(t, M1, iv)

	_, ok = Infer(minuteCandles(0, 1))
	assert.False(t, ok)

	odd := []model.Candle{{TS: "2003-05-05T00:00:00Z"}, {TS: "2003-05-05T00:00:07Z"}}
	_, ok = Infer(odd)
	assert.False(t, ok)
}
