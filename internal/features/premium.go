package features

import (
	"fmt"
	"math"
	"time"

	apperrors "featureflow/internal/errors"
	"featureflow/pkg/contracts/domain"
)

// ValidatePair reports why pair cannot produce a premium index, or nil when it can.
func ValidatePair(pair domain.InstrumentPair, marker string) error {
	if pair.Valid(marker) {
		return nil
	}
	return apperrors.NewAppValidationError(
		fmt.Sprintf("derivative %q is not spot %q with marker %q",
			pair.Derivative.Symbol, pair.Spot.Symbol, marker))
}

// PremiumIndex computes (derivative close - spot close) / spot close * 100 for
// every epoch present in both series. An invalid pair or an empty side yields no
// records and no error: callers log the skip and carry on. Epochs where the spot
// close is zero or the result is not finite are dropped.
func PremiumIndex(pair domain.InstrumentPair, marker string, res domain.Resolution, spot, deriv []domain.Bar) []domain.PremiumIndexRecord {
	if ValidatePair(pair, marker) != nil || len(spot) == 0 || len(deriv) == 0 {
		return nil
	}

	spotClose := make(map[int64]float64, len(spot))
	for _, b := range spot {
		spotClose[b.Epoch.Unix()] = b.Close
	}

	out := make([]domain.PremiumIndexRecord, 0, min(len(spot), len(deriv)))
	for _, b := range deriv {
		s, ok := spotClose[b.Epoch.Unix()]
		if !ok || s == 0 {
			continue
		}
		v := (b.Close - s) / s * 100
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, domain.PremiumIndexRecord{
			SpotInstrumentID:    pair.Spot.ID,
			FuturesInstrumentID: pair.Derivative.ID,
			Resolution:          res,
			Epoch:               b.Epoch.UTC().Truncate(time.Second),
			PremiumIndex:        v,
		})
	}
	return out
}
