package domain

import (
	"strings"
	"time"
)

// Instrument identifies a tradable symbol. ID is the stable numeric key used in storage,
// Symbol is what the market data source understands.
type Instrument struct {
	ID     int64  `json:"id" yaml:"id" validate:"required,gt=0"`
	Symbol string `json:"symbol" yaml:"symbol" validate:"required"`
}

// InstrumentPair couples a spot instrument with its derivative for premium computation.
type InstrumentPair struct {
	Spot       Instrument `json:"spot" yaml:"spot"`
	Derivative Instrument `json:"derivative" yaml:"derivative"`
}

// Valid reports whether the derivative symbol extends the spot symbol and carries the
// derivative marker, e.g. BTCUSDT / BTCUSDT.P.
func (p InstrumentPair) Valid(marker string) bool {
	spot, deriv := p.Spot.Symbol, p.Derivative.Symbol
	if spot == "" || marker == "" {
		return false
	}
	return len(deriv) > len(spot) &&
		strings.HasPrefix(deriv, spot) &&
		strings.HasSuffix(deriv, marker)
}

// Bar is one OHLCV observation at a given epoch. Epoch is always UTC and marks the
// start of the interval the bar covers.
type Bar struct {
	InstrumentID int64     `json:"instrument_id"`
	Epoch        time.Time `json:"epoch"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       float64   `json:"volume"`
	TradeCount   int64     `json:"trade_count"`
}

// Series is an ordered sequence of bars for one instrument at one resolution.
type Series struct {
	InstrumentID int64      `json:"instrument_id"`
	Resolution   Resolution `json:"resolution"`
	Bars         []Bar      `json:"bars"`
}

// Len returns the number of bars.
func (s Series) Len() int { return len(s.Bars) }

// Closes extracts the close column.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// Epochs extracts the epoch column.
func (s Series) Epochs() []time.Time {
	out := make([]time.Time, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Epoch
	}
	return out
}

// VpinBar is a volume-imbalance bar. Epoch is the epoch of the last increment it consumed.
type VpinBar struct {
	InstrumentID int64     `json:"instrument_id"`
	VpinID       int64     `json:"vpin_id"`
	Epoch        time.Time `json:"epoch"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       float64   `json:"volume"`
	BuyVolume    float64   `json:"buy_volume"`
	SellVolume   float64   `json:"sell_volume"`
	TradeCount   int64     `json:"trade_count"`

	// Builder state once this bar closed. The next run resumes from it.
	ExpTicks     float64 `json:"exp_ticks"`
	ExpImbalance float64 `json:"exp_imbalance"`
	TickSign     float64 `json:"tick_sign"`
}

// AsBar drops the buy/sell split so VPIN bars can flow through the time-bar pipeline.
func (v VpinBar) AsBar() Bar {
	return Bar{
		InstrumentID: v.InstrumentID,
		Epoch:        v.Epoch,
		Open:         v.Open,
		High:         v.High,
		Low:          v.Low,
		Close:        v.Close,
		Volume:       v.Volume,
		TradeCount:   v.TradeCount,
	}
}

// PremiumIndexRecord is the percentage premium of a derivative close over its spot close.
type PremiumIndexRecord struct {
	SpotInstrumentID    int64      `json:"spot_instrument_id"`
	FuturesInstrumentID int64      `json:"futures_instrument_id"`
	Resolution          Resolution `json:"resolution"`
	Epoch               time.Time  `json:"epoch"`
	PremiumIndex        float64    `json:"premium_index"`
}
