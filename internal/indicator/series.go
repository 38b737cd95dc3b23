package indicator

import "ohlcv-engine/internal/model"

// MA is the simple moving average of values. Index i is defined from
// period-1 on. A non-positive period yields an all-absent series.
func MA(values []float64, period int) model.Series {
	if period <= 0 {
		return model.NoneSeries(len(values))
	}
	return drive(NewSMA(period), values)
}

// EMA is the SMA-seeded exponential moving average of values, first defined
// at period-1.
func EMA(values []float64, period int) model.Series {
	if period <= 0 {
		return model.NoneSeries(len(values))
	}
	return drive(NewEMA(period), values)
}

// RSI is Wilder's relative strength index, first defined at index period.
// Fewer than two values yields an all-absent series.
func RSI(values []float64, period int) model.Series {
	if period <= 0 || len(values) < 2 {
		return model.NoneSeries(len(values))
	}
	return drive(NewRSI(period), values)
}

// MACD returns the macd line, signal line and histogram, each len(values)
// long.
//
// The signal EMA is fed 0 wherever the macd line is still undefined, so the
// signal can be defined before the macd line is and is biased near the start
// of the series.
func MACD(values []float64, fast, slow, signal int) (line, sig, hist model.Series) {
	fastEMA := EMA(values, fast)
	slowEMA := EMA(values, slow)

	line = make(model.Series, len(values))
	fed := make([]float64, len(values))
	for i := range values {
		f, okF := fastEMA[i].Get()
		s, okS := slowEMA[i].Get()
		if okF && okS {
			line[i] = model.Some(f - s)
			fed[i] = f - s
		}
	}

	sig = EMA(fed, signal)

	hist = make(model.Series, len(values))
	for i := range values {
		m, okM := line[i].Get()
		s, okS := sig[i].Get()
		if okM && okS {
			hist[i] = model.Some(m - s)
		}
	}
	return line, sig, hist
}
