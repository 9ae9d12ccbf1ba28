package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "featureflow/internal/errors"
	"featureflow/pkg/contracts/domain"
)

func testImbalanceParams() ImbalanceParams {
	return ImbalanceParams{VpinID: 1, ExpectedTicks: 10, Warmup: 10, Span: 20, MinTicks: 1, MaxTicks: 100}
}

func TestTickRule(t *testing.T) {
	bars := makeBars(testStart, time.Minute, []float64{1, 2, 2, 1, 1, 3})
	assert.Equal(t, []float64{1, 1, 1, -1, -1, 1}, tickRule(bars, bars[0].Close, 1))
	assert.Equal(t, []float64{-1, 1, 1, -1, -1, 1}, tickRule(bars, 1.5, 1))
	assert.Equal(t, []float64{-1, 1, 1, -1, -1, 1}, tickRule(bars, 1, -1))
}

func TestBuildImbalanceBars_ConservesVolume(t *testing.T) {
	bars := makeBars(testStart, time.Minute, randomWalk(1000, 21))

	out, err := BuildImbalanceBars(bars, testImbalanceParams())
	require.NoError(t, err)
	require.NotEmpty(t, out)

	var inVolume, outVolume float64
	var inTrades, outTrades int64
	for _, b := range bars {
		inVolume += b.Volume
		inTrades += b.TradeCount
	}
	for i, b := range out {
		assert.InDelta(t, b.Volume, b.BuyVolume+b.SellVolume, 1e-9)
		assert.LessOrEqual(t, b.Low, b.Close)
		assert.GreaterOrEqual(t, b.High, b.Close)
		assert.Equal(t, int64(1), b.VpinID)
		if i > 0 {
			assert.True(t, b.Epoch.After(out[i-1].Epoch))
		}
		outVolume += b.Volume
		outTrades += b.TradeCount
	}
	assert.LessOrEqual(t, outVolume, inVolume+1e-9)
	assert.LessOrEqual(t, outTrades, inTrades)
}

func TestBuildImbalanceBars_PrefixStable(t *testing.T) {
	bars := makeBars(testStart, time.Minute, randomWalk(800, 33))
	p := testImbalanceParams()

	full, err := BuildImbalanceBars(bars, p)
	require.NoError(t, err)
	prefix, err := BuildImbalanceBars(bars[:500], p)
	require.NoError(t, err)

	require.LessOrEqual(t, len(prefix), len(full))
	assert.Equal(t, prefix, full[:len(prefix)])
}

func TestResumeImbalanceBars_MatchesSinglePass(t *testing.T) {
	bars := makeBars(testStart, time.Minute, randomWalk(900, 17))
	p := testImbalanceParams()

	full, err := BuildImbalanceBars(bars, p)
	require.NoError(t, err)
	require.Greater(t, len(full), 4)

	// overlapping windows, each resumed from the last bar emitted so far
	var chunked []domain.VpinBar
	for lo := 0; lo < len(bars); lo += 100 {
		hi := min(lo+400, len(bars))
		var last *domain.VpinBar
		if n := len(chunked); n > 0 {
			last = &chunked[n-1]
		}
		out, err := ResumeImbalanceBars(bars[lo:hi], p, last)
		require.NoError(t, err)
		chunked = append(chunked, out...)
	}

	require.Len(t, chunked, len(full))
	for i := range full {
		assert.Equal(t, full[i].Epoch, chunked[i].Epoch, "bar %d", i)
		assert.InDelta(t, full[i].Volume, chunked[i].Volume, 1e-9, "bar %d", i)
		assert.InDelta(t, full[i].BuyVolume, chunked[i].BuyVolume, 1e-9, "bar %d", i)
		assert.InDelta(t, full[i].ExpImbalance, chunked[i].ExpImbalance, 1e-9, "bar %d", i)
	}
}

func TestResumeImbalanceBars_SkipsConsumedIncrements(t *testing.T) {
	bars := makeBars(testStart, time.Minute, randomWalk(400, 4))
	p := testImbalanceParams()

	out, err := BuildImbalanceBars(bars, p)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	last := out[len(out)-1]
	assert.Positive(t, last.ExpTicks)
	assert.Positive(t, last.ExpImbalance)
	assert.Contains(t, []float64{-1, 1}, last.TickSign)

	again, err := ResumeImbalanceBars(bars, p, &last)
	require.NoError(t, err)
	for _, b := range again {
		assert.True(t, b.Epoch.After(last.Epoch))
	}

	stale := last
	stale.ExpImbalance = 0
	_, err = ResumeImbalanceBars(bars, p, &stale)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

func TestBuildImbalanceBars_EpochIsLastIncrement(t *testing.T) {
	bars := makeBars(testStart, time.Minute, randomWalk(300, 2))
	out, err := BuildImbalanceBars(bars, testImbalanceParams())
	require.NoError(t, err)

	byEpoch := make(map[time.Time]bool, len(bars))
	for _, b := range bars {
		byEpoch[b.Epoch] = true
	}
	for _, b := range out {
		assert.True(t, byEpoch[b.Epoch])
	}
}

func TestBuildImbalanceBars_Log1p(t *testing.T) {
	bars := makeBars(testStart, time.Minute, randomWalk(400, 8))
	p := testImbalanceParams()
	p.Log1p = true

	out, err := BuildImbalanceBars(bars, p)
	require.NoError(t, err)
	for _, b := range out {
		assert.InDelta(t, b.Volume, b.BuyVolume+b.SellVolume, 1e-9, "volume stays in raw units")
	}
}

func TestBuildImbalanceBars_ShortOrInvalid(t *testing.T) {
	p := testImbalanceParams()

	out, err := BuildImbalanceBars(makeBars(testStart, time.Minute, randomWalk(5, 1)), p)
	assert.NoError(t, err)
	assert.Empty(t, out)

	out, err = BuildImbalanceBars(nil, p)
	assert.NoError(t, err)
	assert.Empty(t, out)

	bad := p
	bad.VpinID = 0
	_, err = BuildImbalanceBars(makeBars(testStart, time.Minute, randomWalk(50, 1)), bad)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))

	bad = p
	bad.MaxTicks = 0
	_, err = BuildImbalanceBars(makeBars(testStart, time.Minute, randomWalk(50, 1)), bad)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))

	unordered := makeBars(testStart, time.Minute, randomWalk(50, 1))
	unordered[10].Epoch = unordered[9].Epoch
	_, err = BuildImbalanceBars(unordered, p)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

func TestVpinBar_AsBarFeedsResample(t *testing.T) {
	bars := makeBars(testStart, time.Minute, randomWalk(2000, 5))
	vb, err := BuildImbalanceBars(bars, testImbalanceParams())
	require.NoError(t, err)
	require.Greater(t, len(vb), 2)

	plain := make([]domain.Bar, len(vb))
	for i, b := range vb {
		plain[i] = b.AsBar()
	}
	out, err := Resample(plain, domain.Res1H)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
