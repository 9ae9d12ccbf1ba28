package features

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	apperrors "featureflow/internal/errors"
	"featureflow/pkg/contracts/domain"
)

// ImbalanceParams configures volume-imbalance bar sampling.
type ImbalanceParams struct {
	VpinID int64
	// ExpectedTicks seeds E[T], the expected number of increments per bar.
	ExpectedTicks float64
	// Warmup is the number of leading increments used to seed the expected
	// imbalance. Fewer input increments produce no bars.
	Warmup int
	// Span is the EWMA span for both expectations.
	Span int
	// MinTicks and MaxTicks clamp E[T].
	MinTicks float64
	MaxTicks float64
	// Log1p dampens volume with log(1+v) in the imbalance sum.
	Log1p bool
}

// Validate checks the parameter domain.
func (p ImbalanceParams) Validate() error {
	switch {
	case p.VpinID <= 0:
		return apperrors.NewInvalidParameterError("vpin_id", p.VpinID)
	case p.ExpectedTicks < 1 || math.IsNaN(p.ExpectedTicks):
		return apperrors.NewInvalidParameterError("expected_ticks", p.ExpectedTicks)
	case p.Warmup < 1:
		return apperrors.NewInvalidParameterError("warmup", p.Warmup)
	case p.Span < 1:
		return apperrors.NewInvalidParameterError("span", p.Span)
	case p.MinTicks < 1 || p.MaxTicks < p.MinTicks:
		return apperrors.NewInvalidParameterError("min_ticks/max_ticks", [2]float64{p.MinTicks, p.MaxTicks})
	}
	return nil
}

// BuildImbalanceBars samples bars whenever the absolute signed volume accumulated
// since the last bar reaches E[T] * E[|b*v|]. Trade direction b follows the tick
// rule on closes: +1 on an uptick, -1 on a downtick, and unchanged on a flat tick,
// starting from +1.
//
// Both expectations are exponentially weighted over closed bars, so a bar depends
// only on increments at or before its epoch and extending the input never changes
// bars already emitted. The trailing open bar is dropped.
func BuildImbalanceBars(bars []domain.Bar, p ImbalanceParams) ([]domain.VpinBar, error) {
	return ResumeImbalanceBars(bars, p, nil)
}

// ResumeImbalanceBars continues sampling after last, the latest bar already
// emitted for p.VpinID. Increments at or before last.Epoch are ignored and the
// expectations, previous close and tick direction are taken from last, so
// feeding history in chunks yields the same bars as a single pass. A nil last
// starts a fresh builder seeded from the first p.Warmup increments.
func ResumeImbalanceBars(bars []domain.Bar, p ImbalanceParams, last *domain.VpinBar) ([]domain.VpinBar, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, nil
	}
	if err := validateBars(bars); err != nil {
		return nil, err
	}

	var expTicks, expImb, prevClose, prevSign float64
	if last != nil {
		if last.ExpTicks <= 0 || last.ExpImbalance <= 0 || math.IsNaN(last.ExpTicks) || math.IsNaN(last.ExpImbalance) {
			return nil, apperrors.NewInvalidParameterError("vpin_state", [2]float64{last.ExpTicks, last.ExpImbalance})
		}
		i := sort.Search(len(bars), func(i int) bool { return bars[i].Epoch.After(last.Epoch) })
		bars = bars[i:]
		if len(bars) == 0 {
			return nil, nil
		}
		expTicks, expImb = last.ExpTicks, last.ExpImbalance
		prevClose, prevSign = last.Close, last.TickSign
		if prevSign == 0 {
			prevSign = 1
		}
	} else {
		if len(bars) < p.Warmup {
			return nil, nil
		}
		expTicks = p.ExpectedTicks
		prevClose, prevSign = bars[0].Close, 1
	}

	signs := tickRule(bars, prevClose, prevSign)
	weights := make([]float64, len(bars))
	signed := make([]float64, len(bars))
	for i, b := range bars {
		weights[i] = b.Volume
		if p.Log1p {
			weights[i] = math.Log1p(math.Max(b.Volume, 0))
		}
		signed[i] = signs[i] * weights[i]
	}

	if last == nil {
		expImb = math.Abs(stat.Mean(signed[:p.Warmup], nil))
		if expImb == 0 {
			expImb = stat.Mean(weights[:p.Warmup], nil) / 2
		}
		if expImb <= 0 || math.IsNaN(expImb) {
			return nil, nil
		}
	}
	alpha := 2 / (float64(p.Span) + 1)

	var out []domain.VpinBar
	var cur domain.VpinBar
	var theta float64
	ticks := 0
	for i, b := range bars {
		if ticks == 0 {
			cur = domain.VpinBar{
				InstrumentID: b.InstrumentID,
				VpinID:       p.VpinID,
				Open:         b.Open,
				High:         b.High,
				Low:          b.Low,
			}
		}
		ticks++
		cur.High = math.Max(cur.High, b.High)
		cur.Low = math.Min(cur.Low, b.Low)
		cur.Close = b.Close
		cur.Epoch = b.Epoch
		cur.Volume += b.Volume
		cur.TradeCount += b.TradeCount
		if signs[i] > 0 {
			cur.BuyVolume += b.Volume
		} else {
			cur.SellVolume += b.Volume
		}
		theta += signed[i]

		if math.Abs(theta) < expTicks*expImb {
			continue
		}
		t := float64(ticks)
		expTicks = clamp(alpha*t+(1-alpha)*expTicks, p.MinTicks, p.MaxTicks)
		expImb = alpha*math.Abs(theta)/t + (1-alpha)*expImb
		cur.ExpTicks, cur.ExpImbalance, cur.TickSign = expTicks, expImb, signs[i]
		out = append(out, cur)
		theta = 0
		ticks = 0
	}
	return out, nil
}

// tickRule assigns +1/-1 to every increment from close-to-close changes,
// continuing from prevClose and prevSign.
func tickRule(bars []domain.Bar, prevClose, prevSign float64) []float64 {
	signs := make([]float64, len(bars))
	for i, b := range bars {
		switch d := b.Close - prevClose; {
		case d > 0:
			prevSign = 1
		case d < 0:
			prevSign = -1
		}
		signs[i] = prevSign
		prevClose = b.Close
	}
	return signs
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
