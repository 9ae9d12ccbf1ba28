package features

import (
	"math"
	"math/rand"
	"time"

	"featureflow/pkg/contracts/domain"
)

var testStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// makeBars builds bars for instrument 1 from closes, one every step. Open is the
// previous close and high/low bracket both.
func makeBars(start time.Time, step time.Duration, closes []float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	prev := closes[0]
	for i, c := range closes {
		bars[i] = domain.Bar{
			InstrumentID: 1,
			Epoch:        start.Add(time.Duration(i) * step),
			Open:         prev,
			High:         math.Max(prev, c) + 0.5,
			Low:          math.Min(prev, c) - 0.5,
			Close:        c,
			Volume:       10 + float64(i%7),
			TradeCount:   int64(3 + i%5),
		}
		prev = c
	}
	return bars
}

// randomWalk returns n deterministic closes starting at 100.
func randomWalk(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	price := 100.0
	for i := range out {
		price += rng.NormFloat64()
		out[i] = price
	}
	return out
}
