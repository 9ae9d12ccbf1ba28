package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"featureflow/pkg/contracts/domain"
)

var btcPair = domain.InstrumentPair{
	Spot:       domain.Instrument{ID: 1, Symbol: "BTCUSDT"},
	Derivative: domain.Instrument{ID: 2, Symbol: "BTCUSDT.P"},
}

func flatBars(id int64, closes ...float64) []domain.Bar {
	bars := makeBars(testStart, time.Hour, closes)
	for i := range bars {
		bars[i].InstrumentID = id
	}
	return bars
}

func TestPremiumIndex_Percent(t *testing.T) {
	spot := flatBars(1, 100, 200, 50)
	deriv := flatBars(2, 101, 198, 50)

	out := PremiumIndex(btcPair, ".P", domain.Res1H, spot, deriv)
	require.Len(t, out, 3)
	assert.InDelta(t, 1.0, out[0].PremiumIndex, 1e-12)
	assert.InDelta(t, -1.0, out[1].PremiumIndex, 1e-12)
	assert.InDelta(t, 0.0, out[2].PremiumIndex, 1e-12)
	assert.Equal(t, int64(1), out[0].SpotInstrumentID)
	assert.Equal(t, int64(2), out[0].FuturesInstrumentID)
	assert.Equal(t, domain.Res1H, out[0].Resolution)
}

func TestPremiumIndex_InnerJoinAndZeroSpot(t *testing.T) {
	spot := flatBars(1, 100, 0, 100, 100)
	deriv := flatBars(2, 101, 101, 101)
	// derivative misses the last spot epoch and the first spot epoch has no twin
	deriv[0].Epoch = deriv[0].Epoch.Add(-time.Hour)

	out := PremiumIndex(btcPair, ".P", domain.Res1H, spot, deriv)
	require.Len(t, out, 1)
	assert.Equal(t, spot[2].Epoch, out[0].Epoch)
}

func TestPremiumIndex_RejectsPairs(t *testing.T) {
	spot := flatBars(1, 100)
	deriv := flatBars(2, 101)

	tests := []struct {
		name string
		pair domain.InstrumentPair
	}{
		{"prefix mismatch", domain.InstrumentPair{
			Spot: domain.Instrument{ID: 1, Symbol: "BTCUSDT"}, Derivative: domain.Instrument{ID: 2, Symbol: "ETHUSDT.P"}}},
		{"missing marker", domain.InstrumentPair{
			Spot: domain.Instrument{ID: 1, Symbol: "BTCUSDT"}, Derivative: domain.Instrument{ID: 2, Symbol: "BTCUSDT_PERP"}}},
		{"same symbol", domain.InstrumentPair{
			Spot: domain.Instrument{ID: 1, Symbol: "BTCUSDT.P"}, Derivative: domain.Instrument{ID: 2, Symbol: "BTCUSDT.P"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidatePair(tt.pair, ".P"))
			assert.Empty(t, PremiumIndex(tt.pair, ".P", domain.Res1H, spot, deriv))
		})
	}

	assert.NoError(t, ValidatePair(btcPair, ".P"))
	assert.Empty(t, PremiumIndex(btcPair, ".P", domain.Res1H, nil, deriv))
}
