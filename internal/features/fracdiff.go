package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	apperrors "featureflow/internal/errors"
	"featureflow/pkg/contracts/domain"
)

// FracDiffParams configures fixed-window fractional differencing.
type FracDiffParams struct {
	// Fdim is the differencing order, 0 < Fdim < 1.
	Fdim float64
	// Thresh truncates the weight sequence at the first |w_k| below it.
	Thresh float64
	// DifferenceVolume also differences volume and trade count; when false they
	// are carried through unchanged.
	DifferenceVolume bool
	// VpinID tags the output records. Zero means a time-clock series.
	VpinID int64
}

// Validate checks the parameter domain.
func (p FracDiffParams) Validate() error {
	if math.IsNaN(p.Fdim) || p.Fdim <= 0 || p.Fdim >= 1 {
		return apperrors.NewInvalidParameterError("fdim", p.Fdim)
	}
	if math.IsNaN(p.Thresh) || p.Thresh <= 0 {
		return apperrors.NewInvalidParameterError("thresh", p.Thresh)
	}
	return nil
}

// Weights returns the binomial expansion weights w_0..w_{W-1} of (1-B)^fdim,
// truncated before the first weight whose magnitude drops below thresh.
//
//	w_0 = 1
//	w_k = -w_{k-1} * (fdim - k + 1) / k
//
// limit bounds W. If the weights have not decayed below thresh within limit
// terms the window would be wider than the available data and an
// InsufficientData error is returned. A non-positive limit means unbounded.
func Weights(fdim, thresh float64, limit int) ([]float64, error) {
	if err := (FracDiffParams{Fdim: fdim, Thresh: thresh}).Validate(); err != nil {
		return nil, err
	}

	w := []float64{1}
	for k := 1; ; k++ {
		next := -w[k-1] * (fdim - float64(k) + 1) / float64(k)
		if math.Abs(next) < thresh {
			break
		}
		if limit > 0 && len(w) >= limit {
			return nil, apperrors.NewInsufficientDataError(
				fmt.Sprintf("weight window exceeds %d samples", limit)).
				WithContext("fdim", fdim).
				WithContext("thresh", thresh)
		}
		w = append(w, next)
	}
	return w, nil
}

// Width returns the window width W for the given parameters without a length bound.
func Width(fdim, thresh float64) (int, error) {
	w, err := Weights(fdim, thresh, 0)
	if err != nil {
		return 0, err
	}
	return len(w), nil
}

// Convolve applies w to x and returns one value per t >= len(w)-1:
//
//	y_t = sum_k w_k * x_{t-k}
func Convolve(x, w []float64) []float64 {
	width := len(w)
	if width == 0 || len(x) < width {
		return nil
	}
	// Reverse once so every output is a plain dot product against a forward window.
	rev := make([]float64, width)
	for i, v := range w {
		rev[width-1-i] = v
	}
	out := make([]float64, len(x)-width+1)
	for t := width - 1; t < len(x); t++ {
		out[t-width+1] = floats.Dot(rev, x[t-width+1:t+1])
	}
	return out
}

// FracDiff fractionally differences every OHLC column of series. The output has
// len(series)-W+1 records; record i corresponds to input bar i+W-1 and carries its
// epoch. Inputs shorter than W produce an InsufficientData error.
func FracDiff(series domain.Series, p FracDiffParams) ([]domain.FfdRecord, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n := series.Len()
	if n == 0 {
		return nil, apperrors.NewInsufficientDataError("empty series").
			WithContext("instrument_id", series.InstrumentID)
	}
	if err := validateBars(series.Bars); err != nil {
		return nil, err
	}
	w, err := Weights(p.Fdim, p.Thresh, n)
	if err != nil {
		return nil, err
	}

	cols := columns(series.Bars)
	open := Convolve(cols.open, w)
	high := Convolve(cols.high, w)
	low := Convolve(cols.low, w)
	closes := Convolve(cols.close, w)

	var volume, trades []float64
	if p.DifferenceVolume {
		volume = Convolve(cols.volume, w)
		trades = Convolve(cols.trades, w)
	}

	width := len(w)
	out := make([]domain.FfdRecord, len(closes))
	for i := range closes {
		src := series.Bars[i+width-1]
		rec := domain.FfdRecord{
			InstrumentID: series.InstrumentID,
			Resolution:   series.Resolution,
			VpinID:       p.VpinID,
			Fdim:         domain.Fdim(p.Fdim),
			Epoch:        src.Epoch,
			Open:         open[i],
			High:         high[i],
			Low:          low[i],
			Close:        closes[i],
			Volume:       src.Volume,
			TradeCount:   float64(src.TradeCount),
		}
		if p.DifferenceVolume {
			rec.Volume = volume[i]
			rec.TradeCount = trades[i]
		}
		out[i] = rec
	}
	return out, nil
}

type barColumns struct {
	open, high, low, close, volume, trades []float64
}

func columns(bars []domain.Bar) barColumns {
	c := barColumns{
		open:   make([]float64, len(bars)),
		high:   make([]float64, len(bars)),
		low:    make([]float64, len(bars)),
		close:  make([]float64, len(bars)),
		volume: make([]float64, len(bars)),
		trades: make([]float64, len(bars)),
	}
	for i, b := range bars {
		c.open[i], c.high[i], c.low[i], c.close[i] = b.Open, b.High, b.Low, b.Close
		c.volume[i], c.trades[i] = b.Volume, float64(b.TradeCount)
	}
	return c
}
