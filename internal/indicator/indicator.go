// Package indicator derives technical indicators from closing prices.
//
// Streaming indicators implement the Indicator interface and consume one
// price at a time. The series functions (MA, EMA, RSI, MACD) drive them over
// a whole closing-price slice and return a model.Series aligned
// index-for-index with the input, absent while warming up.
package indicator

import "ohlcv-engine/internal/model"

// Indicator is the interface for all streaming indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA_20", "EMA_9").
	Name() string

	// Update feeds the next closing price and recalculates.
	Update(price float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// current reads an indicator as an optional value.
func current(ind Indicator) model.Value {
	if !ind.Ready() {
		return model.None
	}
	return model.Some(ind.Value())
}

// drive feeds every price through ind and records the value after each one.
func drive(ind Indicator, values []float64) model.Series {
	out := make(model.Series, len(values))
	for i, v := range values {
		ind.Update(v)
		out[i] = current(ind)
	}
	return out
}

// Closes extracts the closing prices in candle order.
func Closes(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
