package indicator

import "strconv"

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer for zero-allocation hot path.
type SMA struct {
	period  int
	buf     []float64 // preallocated circular buffer
	idx     int       // current write position
	count   int       // total values received
	sum     float64
	current float64
}

// NewSMA creates a new SMA indicator with the given period. A non-positive
// period never becomes ready.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		buf:    make([]float64, max(period, 0)),
	}
}

func (s *SMA) Name() string { return "SMA_" + strconv.Itoa(s.period) }

func (s *SMA) Update(price float64) {
	if s.period <= 0 {
		return
	}
	// The new price is added before the evicted one is removed so the
	// running sum accumulates in input order.
	s.sum += price
	if s.count >= s.period {
		s.sum -= s.buf[s.idx]
	}

	s.buf[s.idx] = price
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		s.current = s.sum / float64(s.period)
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.period > 0 && s.count >= s.period }

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() {
	s.idx = 0
	s.count = 0
	s.sum = 0
	s.current = 0
	for i := range s.buf {
		s.buf[i] = 0
	}
}
