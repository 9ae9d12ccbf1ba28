package domain

import (
	"encoding/json"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Fdim is a fractional differencing order. It participates in natural keys, so the
// persisted form is the shortest exact decimal string rather than a float.
type Fdim float64

// Key returns the canonical decimal representation, e.g. "0.3".
func (d Fdim) Key() string {
	return decimal.NewFromFloat(float64(d)).String()
}

// ParseFdim parses a persisted key back into an Fdim.
func ParseFdim(s string) (Fdim, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	f, _ := v.Float64()
	return Fdim(f), nil
}

// FfdRecord is one fractionally differenced bar. VpinID is zero for time-clock series.
type FfdRecord struct {
	InstrumentID int64      `json:"instrument_id"`
	Resolution   Resolution `json:"resolution"`
	VpinID       int64      `json:"vpin_id"`
	Fdim         Fdim       `json:"fdim"`
	Epoch        time.Time  `json:"epoch"`
	Open         float64    `json:"open"`
	High         float64    `json:"high"`
	Low          float64    `json:"low"`
	Close        float64    `json:"close"`
	Volume       float64    `json:"volume"`
	TradeCount   float64    `json:"trade_count"`
}

// Spectrum holds the per-mode values of one EMD sample. Every slice has the same
// fixed width K; entries at index >= Modes are undefined and treated as null.
type Spectrum struct {
	Modes int       `json:"modes"`
	IMF   []float64 `json:"-"`
	IF    []float64 `json:"-"`
	IA    []float64 `json:"-"`
	IP    []float64 `json:"-"`
}

// NewSpectrum allocates a spectrum of width k with all channels NaN.
func NewSpectrum(k, modes int) Spectrum {
	s := Spectrum{
		Modes: modes,
		IMF:   make([]float64, k),
		IF:    make([]float64, k),
		IA:    make([]float64, k),
		IP:    make([]float64, k),
	}
	for i := 0; i < k; i++ {
		s.IMF[i], s.IF[i], s.IA[i], s.IP[i] = math.NaN(), math.NaN(), math.NaN(), math.NaN()
	}
	return s
}

// Width returns K.
func (s Spectrum) Width() int { return len(s.IMF) }

// Nullable maps a channel to pointers, nil where the mode was not found or the value
// is not finite.
func (s Spectrum) Nullable(channel []float64) []*float64 {
	out := make([]*float64, len(channel))
	for i, v := range channel {
		if i >= s.Modes || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		v := v
		out[i] = &v
	}
	return out
}

// MarshalJSON emits null for absent or non-finite entries.
func (s Spectrum) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Modes int        `json:"modes"`
		IMF   []*float64 `json:"imf"`
		IF    []*float64 `json:"if"`
		IA    []*float64 `json:"ia"`
		IP    []*float64 `json:"ip"`
	}{
		Modes: s.Modes,
		IMF:   s.Nullable(s.IMF),
		IF:    s.Nullable(s.IF),
		IA:    s.Nullable(s.IA),
		IP:    s.Nullable(s.IP),
	})
}

// EmdRecord is the spectral decomposition of a differenced close series at one epoch.
type EmdRecord struct {
	InstrumentID int64      `json:"instrument_id"`
	Resolution   Resolution `json:"resolution"`
	VpinID       int64      `json:"vpin_id"`
	Fdim         Fdim       `json:"fdim"`
	Epoch        time.Time  `json:"epoch"`
	Spectrum     Spectrum   `json:"spectrum"`
}
