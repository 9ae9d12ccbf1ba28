package features

import (
	"fmt"
	"math"
	"time"

	apperrors "featureflow/internal/errors"
	"featureflow/pkg/contracts/domain"
)

// Resample aggregates bars onto res. Bucket epochs are the bucket start, aligned
// to multiples of the resolution since the UNIX epoch in UTC. Buckets without
// input produce no output.
func Resample(bars []domain.Bar, res domain.Resolution) ([]domain.Bar, error) {
	if !res.Valid() {
		return nil, apperrors.NewInvalidParameterError("resolution", int(res))
	}
	if len(bars) == 0 {
		return nil, nil
	}
	if err := validateBars(bars); err != nil {
		return nil, err
	}
	if err := checkSpan(epochsOf(bars), res); err != nil {
		return nil, err
	}

	out := make([]domain.Bar, 0, len(bars)/2+1)
	var cur domain.Bar
	var bucket time.Time
	for i, b := range bars {
		start := res.BucketStart(b.Epoch)
		if i == 0 || !start.Equal(bucket) {
			if i > 0 {
				out = append(out, cur)
			}
			bucket = start
			cur = b
			cur.Epoch = start
			continue
		}
		cur.High = math.Max(cur.High, b.High)
		cur.Low = math.Min(cur.Low, b.Low)
		cur.Close = b.Close
		cur.Volume += b.Volume
		cur.TradeCount += b.TradeCount
	}
	out = append(out, cur)
	return out, nil
}

// ResampleVpin aggregates imbalance bars onto res with the same rule, also summing
// the buy/sell split.
func ResampleVpin(bars []domain.VpinBar, res domain.Resolution) ([]domain.VpinBar, error) {
	if !res.Valid() {
		return nil, apperrors.NewInvalidParameterError("resolution", int(res))
	}
	if len(bars) == 0 {
		return nil, nil
	}
	plain := make([]domain.Bar, len(bars))
	for i, b := range bars {
		plain[i] = b.AsBar()
	}
	if err := validateBars(plain); err != nil {
		return nil, err
	}
	if err := checkSpan(epochsOf(plain), res); err != nil {
		return nil, err
	}

	out := make([]domain.VpinBar, 0, len(bars)/2+1)
	var cur domain.VpinBar
	var bucket time.Time
	for i, b := range bars {
		start := res.BucketStart(b.Epoch)
		if i == 0 || !start.Equal(bucket) {
			if i > 0 {
				out = append(out, cur)
			}
			bucket = start
			cur = b
			cur.Epoch = start
			continue
		}
		cur.High = math.Max(cur.High, b.High)
		cur.Low = math.Min(cur.Low, b.Low)
		cur.Close = b.Close
		cur.Volume += b.Volume
		cur.BuyVolume += b.BuyVolume
		cur.SellVolume += b.SellVolume
		cur.TradeCount += b.TradeCount
	}
	out = append(out, cur)
	return out, nil
}

// validateBars enforces a single instrument and strictly increasing epochs.
func validateBars(bars []domain.Bar) error {
	inst := bars[0].InstrumentID
	for i := 1; i < len(bars); i++ {
		if bars[i].InstrumentID != inst {
			return apperrors.NewAppValidationError(
				fmt.Sprintf("mixed instruments in series: %d and %d", inst, bars[i].InstrumentID))
		}
		if !bars[i].Epoch.After(bars[i-1].Epoch) {
			return apperrors.NewAppValidationError(
				fmt.Sprintf("epochs not strictly increasing at index %d", i)).
				WithContext("epoch", bars[i].Epoch)
		}
	}
	return nil
}

// checkSpan rejects input covering less than one bucket. The covered span is
// last - first plus the native step, inferred as the smallest gap between bars.
func checkSpan(epochs []time.Time, res domain.Resolution) error {
	if len(epochs) < 2 {
		return apperrors.NewInsufficientDataError("a single bar cannot span a bucket").
			WithContext("resolution", res.String())
	}
	step := time.Duration(math.MaxInt64)
	for i := 1; i < len(epochs); i++ {
		if gap := epochs[i].Sub(epochs[i-1]); gap < step {
			step = gap
		}
	}
	span := epochs[len(epochs)-1].Sub(epochs[0]) + step
	if span < res.Duration() {
		return apperrors.NewInsufficientDataError(
			fmt.Sprintf("input spans %s, less than one %s bucket", span, res)).
			WithContext("resolution", res.String())
	}
	return nil
}

func epochsOf(bars []domain.Bar) []time.Time {
	out := make([]time.Time, len(bars))
	for i, b := range bars {
		out[i] = b.Epoch
	}
	return out
}
