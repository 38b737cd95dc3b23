package indicator

import "strconv"

// EMAState calculates Exponential Moving Average.
// O(1) per update, seeded by the simple average of the first period prices.
type EMAState struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new EMA indicator with the given period. A non-positive
// period never becomes ready.
func NewEMA(period int) *EMAState {
	return &EMAState{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMAState) Name() string { return "EMA_" + strconv.Itoa(e.period) }

func (e *EMAState) Update(price float64) {
	if e.period <= 0 {
		return
	}
	e.count++

	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += price
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}

	// EMA = (Price * multiplier) + (EMA_prev * (1 - multiplier))
	e.current = (price * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMAState) Value() float64 { return e.current }
func (e *EMAState) Ready() bool    { return e.period > 0 && e.count >= e.period }

// Reset clears the EMA state for reuse.
func (e *EMAState) Reset() {
	e.current = 0
	e.count = 0
	e.sum = 0
}
