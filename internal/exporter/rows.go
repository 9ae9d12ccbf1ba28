package exporter

import (
	"math"

	"featureflow/pkg/contracts/domain"
)

// FfdRow is the parquet layout of a differenced bar
type FfdRow struct {
	InstrumentID int64   `parquet:"instrument_id"`
	Resolution   string  `parquet:"resolution,dict"`
	VpinID       int64   `parquet:"vpin_id"`
	Fdim         string  `parquet:"fdim,dict"`
	Epoch        int64   `parquet:"epoch"`
	Open         float64 `parquet:"open"`
	High         float64 `parquet:"high"`
	Low          float64 `parquet:"low"`
	Close        float64 `parquet:"close"`
	Volume       float64 `parquet:"volume"`
	TradeCount   float64 `parquet:"trade_count"`
}

// EmdRow is one mode of one spectral sample. Channels are null where the mode
// was not found or the value is not finite.
type EmdRow struct {
	InstrumentID int64    `parquet:"instrument_id"`
	Resolution   string   `parquet:"resolution,dict"`
	VpinID       int64    `parquet:"vpin_id"`
	Fdim         string   `parquet:"fdim,dict"`
	Epoch        int64    `parquet:"epoch"`
	Mode         int32    `parquet:"mode"`
	Modes        int32    `parquet:"modes"`
	IMF          *float64 `parquet:"imf,optional"`
	IF           *float64 `parquet:"if,optional"`
	IA           *float64 `parquet:"ia,optional"`
	IP           *float64 `parquet:"ip,optional"`
}

// VpinRow is the parquet layout of an imbalance bar
type VpinRow struct {
	InstrumentID int64   `parquet:"instrument_id"`
	VpinID       int64   `parquet:"vpin_id"`
	Epoch        int64   `parquet:"epoch"`
	Open         float64 `parquet:"open"`
	High         float64 `parquet:"high"`
	Low          float64 `parquet:"low"`
	Close        float64 `parquet:"close"`
	Volume       float64 `parquet:"volume"`
	BuyVolume    float64 `parquet:"buy_volume"`
	SellVolume   float64 `parquet:"sell_volume"`
	TradeCount   int64   `parquet:"trade_count"`
	ExpTicks     float64 `parquet:"exp_ticks"`
	ExpImbalance float64 `parquet:"exp_imbalance"`
	TickSign     float64 `parquet:"tick_sign"`
}

// PremiumRow is the parquet layout of a premium index record
type PremiumRow struct {
	SpotInstrumentID    int64   `parquet:"spot_instrument_id"`
	FuturesInstrumentID int64   `parquet:"futures_instrument_id"`
	Resolution          string  `parquet:"resolution,dict"`
	Epoch               int64   `parquet:"epoch"`
	PremiumIndex        float64 `parquet:"premium_index"`
}

func ffdRows(in []domain.FfdRecord) []FfdRow {
	out := make([]FfdRow, len(in))
	for i, r := range in {
		out[i] = FfdRow{
			InstrumentID: r.InstrumentID,
			Resolution:   r.Resolution.String(),
			VpinID:       r.VpinID,
			Fdim:         r.Fdim.Key(),
			Epoch:        r.Epoch.Unix(),
			Open:         r.Open,
			High:         r.High,
			Low:          r.Low,
			Close:        r.Close,
			Volume:       r.Volume,
			TradeCount:   r.TradeCount,
		}
	}
	return out
}

// emdRows expands every record into Modes rows
func emdRows(in []domain.EmdRecord) []EmdRow {
	n := 0
	for _, r := range in {
		n += modes(r.Spectrum)
	}
	out := make([]EmdRow, 0, n)
	for _, r := range in {
		s := r.Spectrum
		for m := 0; m < modes(s); m++ {
			out = append(out, EmdRow{
				InstrumentID: r.InstrumentID,
				Resolution:   r.Resolution.String(),
				VpinID:       r.VpinID,
				Fdim:         r.Fdim.Key(),
				Epoch:        r.Epoch.Unix(),
				Mode:         int32(m),
				Modes:        int32(s.Modes),
				IMF:          finite(s.IMF[m]),
				IF:           finite(s.IF[m]),
				IA:           finite(s.IA[m]),
				IP:           finite(s.IP[m]),
			})
		}
	}
	return out
}

func modes(s domain.Spectrum) int {
	if s.Modes < s.Width() {
		return s.Modes
	}
	return s.Width()
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func vpinRows(in []domain.VpinBar) []VpinRow {
	out := make([]VpinRow, len(in))
	for i, b := range in {
		out[i] = VpinRow{
			InstrumentID: b.InstrumentID,
			VpinID:       b.VpinID,
			Epoch:        b.Epoch.Unix(),
			Open:         b.Open,
			High:         b.High,
			Low:          b.Low,
			Close:        b.Close,
			Volume:       b.Volume,
			BuyVolume:    b.BuyVolume,
			SellVolume:   b.SellVolume,
			TradeCount:   b.TradeCount,
			ExpTicks:     b.ExpTicks,
			ExpImbalance: b.ExpImbalance,
			TickSign:     b.TickSign,
		}
	}
	return out
}

func premiumRows(in []domain.PremiumIndexRecord) []PremiumRow {
	out := make([]PremiumRow, len(in))
	for i, r := range in {
		out[i] = PremiumRow{
			SpotInstrumentID:    r.SpotInstrumentID,
			FuturesInstrumentID: r.FuturesInstrumentID,
			Resolution:          r.Resolution.String(),
			Epoch:               r.Epoch.Unix(),
			PremiumIndex:        r.PremiumIndex,
		}
	}
	return out
}
