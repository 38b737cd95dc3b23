package indicator

import "strconv"

// RSIState calculates the Relative Strength Index. Gains and losses are each
// smoothed with an SMMA over the price deltas, so the first reading comes
// after period+1 prices. Update is O(1).
type RSIState struct {
	period  int
	started bool
	prev    float64
	gain    *SMMA
	loss    *SMMA
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSIState {
	return &RSIState{period: period, gain: NewSMMA(period), loss: NewSMMA(period)}
}

func (r *RSIState) Name() string { return "RSI_" + strconv.Itoa(r.period) }

func (r *RSIState) Update(price float64) {
	if r.period <= 0 {
		return
	}
	if !r.started {
		r.started = true
		r.prev = price
		return
	}

	delta := price - r.prev
	r.prev = price
	if delta >= 0 {
		r.gain.Update(delta)
		r.loss.Update(0)
	} else {
		r.gain.Update(0)
		r.loss.Update(-delta)
	}
}

func (r *RSIState) Value() float64 {
	if !r.Ready() {
		return 0
	}
	return rsiFromAverages(r.gain.Value(), r.loss.Value())
}

func (r *RSIState) Ready() bool { return r.period > 0 && r.gain.Ready() }

// Reset clears the state for reuse.
func (r *RSIState) Reset() {
	r.started = false
	r.prev = 0
	r.gain.Reset()
	r.loss.Reset()
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
