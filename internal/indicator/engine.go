package indicator

import (
	"fmt"

	"ohlcv-engine/internal/model"
)

// Result keys as stored in the indicator cache and returned to callers.
const (
	KeyMA     = "ma"
	KeyRSI    = "rsi"
	KeyMACD   = "macd"
	KeySignal = "signal"
	KeyHist   = "hist"
)

// Keys lists every series a Result carries.
var Keys = []string{KeyMA, KeyRSI, KeyMACD, KeySignal, KeyHist}

// Settings holds the indicator periods used by Compute.
type Settings struct {
	MAPeriod   int `yaml:"ma_period" json:"ma_period"`
	RSIPeriod  int `yaml:"rsi_period" json:"rsi_period"`
	MACDFast   int `yaml:"macd_fast" json:"macd_fast"`
	MACDSlow   int `yaml:"macd_slow" json:"macd_slow"`
	MACDSignal int `yaml:"macd_signal" json:"macd_signal"`
}

// DefaultSettings returns MA 20, RSI 14, MACD 12/26/9.
func DefaultSettings() Settings {
	return Settings{
		MAPeriod:   20,
		RSIPeriod:  14,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
	}
}

// Validate rejects non-positive periods and a fast MACD leg that is not
// faster than the slow one.
func (s Settings) Validate() error {
	for _, p := range []struct {
		name string
		v    int
	}{
		{"ma period", s.MAPeriod},
		{"rsi period", s.RSIPeriod},
		{"macd fast", s.MACDFast},
		{"macd slow", s.MACDSlow},
		{"macd signal", s.MACDSignal},
	} {
		if p.v <= 0 {
			return fmt.Errorf("indicator: %s must be positive, got %d", p.name, p.v)
		}
	}
	if s.MACDFast >= s.MACDSlow {
		return fmt.Errorf("indicator: macd fast (%d) must be less than slow (%d)", s.MACDFast, s.MACDSlow)
	}
	return nil
}

// StorageName qualifies a result key with the periods it depends on, so
// series computed under different settings never share a cache entry.
func (s Settings) StorageName(key string) string {
	switch key {
	case KeyMA:
		return fmt.Sprintf("%s_%d", key, s.MAPeriod)
	case KeyRSI:
		return fmt.Sprintf("%s_%d", key, s.RSIPeriod)
	case KeyMACD, KeySignal, KeyHist:
		return fmt.Sprintf("%s_%d_%d_%d", key, s.MACDFast, s.MACDSlow, s.MACDSignal)
	}
	return key
}

// Result is the full indicator set for one dataset. Every series has the
// same length as the candle sequence it was computed from.
type Result struct {
	MA     model.Series `json:"ma"`
	RSI    model.Series `json:"rsi"`
	MACD   model.Series `json:"macd"`
	Signal model.Series `json:"signal"`
	Hist   model.Series `json:"hist"`
}

// Map returns the result keyed by Keys, the shape the indicator cache stores.
func (r Result) Map() map[string]model.Series {
	return map[string]model.Series{
		KeyMA:     r.MA,
		KeyRSI:    r.RSI,
		KeyMACD:   r.MACD,
		KeySignal: r.Signal,
		KeyHist:   r.Hist,
	}
}

// ResultFromMap rebuilds a Result from cached series. It reports false if
// any key is missing.
func ResultFromMap(m map[string]model.Series) (Result, bool) {
	for _, k := range Keys {
		if _, ok := m[k]; !ok {
			return Result{}, false
		}
	}
	return Result{
		MA:     m[KeyMA],
		RSI:    m[KeyRSI],
		MACD:   m[KeyMACD],
		Signal: m[KeySignal],
		Hist:   m[KeyHist],
	}, true
}

// Len is the length shared by every series.
func (r Result) Len() int { return len(r.MA) }

// Compute derives every indicator from the candles' closing prices in a
// single pass through an Engine.
func Compute(candles []model.Candle, s Settings) Result {
	n := len(candles)
	r := Result{
		MA:     make(model.Series, n),
		RSI:    make(model.Series, n),
		MACD:   make(model.Series, n),
		Signal: make(model.Series, n),
		Hist:   make(model.Series, n),
	}
	e := NewEngine(s)
	for i, c := range candles {
		rd := e.Process(c.Close)
		r.MA[i] = rd.MA
		r.RSI[i] = rd.RSI
		r.MACD[i] = rd.MACD
		r.Signal[i] = rd.Signal
		r.Hist[i] = rd.Hist
	}
	return r
}

// Engine feeds prices one at a time through a fixed indicator set and keeps
// the latest readings. Designed for single-goroutine usage, no locks needed.
type Engine struct {
	settings Settings
	ma       *SMA
	rsi      *RSIState
	fast     *EMAState
	slow     *EMAState
	signal   *EMAState
	n        int
}

// NewEngine creates a streaming engine for s. An indicator with a
// non-positive period stays absent.
func NewEngine(s Settings) *Engine {
	return &Engine{
		settings: s,
		ma:       NewSMA(s.MAPeriod),
		rsi:      NewRSI(s.RSIPeriod),
		fast:     NewEMA(s.MACDFast),
		slow:     NewEMA(s.MACDSlow),
		signal:   NewEMA(s.MACDSignal),
	}
}

// Reading is the engine state after one price.
type Reading struct {
	MA     model.Value `json:"ma"`
	RSI    model.Value `json:"rsi"`
	MACD   model.Value `json:"macd"`
	Signal model.Value `json:"signal"`
	Hist   model.Value `json:"hist"`
}

// Process feeds one closing price and returns every indicator's reading.
// Feeding a whole series yields the same values as the series functions.
func (e *Engine) Process(price float64) Reading {
	e.n++
	e.ma.Update(price)
	e.rsi.Update(price)
	e.fast.Update(price)
	e.slow.Update(price)

	rd := Reading{MA: current(e.ma), RSI: current(e.rsi)}

	macd := 0.0
	if e.fast.Ready() && e.slow.Ready() {
		macd = e.fast.Value() - e.slow.Value()
		rd.MACD = model.Some(macd)
	}
	e.signal.Update(macd)
	rd.Signal = current(e.signal)
	if rd.MACD.Valid && rd.Signal.Valid {
		rd.Hist = model.Some(rd.MACD.Float - rd.Signal.Float)
	}
	return rd
}

// Count returns how many prices have been processed.
func (e *Engine) Count() int { return e.n }

// Settings returns the periods the engine was built with.
func (e *Engine) Settings() Settings { return e.settings }
