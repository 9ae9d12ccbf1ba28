package marketdata

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"featureflow/internal/config"
	apperrors "featureflow/internal/errors"
	"featureflow/internal/infrastructure"
	"featureflow/internal/storage"
	"featureflow/pkg/contracts/domain"
)

var btc = domain.Instrument{ID: 1, Symbol: "BTCUSDT"}

func testClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(config.MarketDataConfig{BaseURL: url, Timeout: time.Second, RPS: 1000, Burst: 10},
		infrastructure.RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2},
		slog.New(slog.NewJSONHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func TestClient_FetchBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, barsPath, r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1Min", r.URL.Query().Get("resolution"))
		assert.Equal(t, "OHLCV", r.URL.Query().Get("kind"))
		assert.Equal(t, "3", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(barsResponse{Symbol: "BTCUSDT", Bars: []wireBar{
			{Epoch: 120, Close: 3},
			{Epoch: 60, Close: 2},
			{Epoch: 60, Close: 2.5},
			{Epoch: 0, Close: 1, Volume: 4, TradeCount: 2},
		}})
	}))
	defer srv.Close()

	bars, err := testClient(t, srv.URL).FetchBars(context.Background(), btc, domain.Res1Min, 3)
	require.NoError(t, err)
	require.Len(t, bars, 3)

	assert.Equal(t, time.Unix(0, 0).UTC(), bars[0].Epoch)
	assert.Equal(t, int64(1), bars[0].InstrumentID)
	assert.Equal(t, 4.0, bars[0].Volume)
	assert.Equal(t, 2.5, bars[1].Close, "last duplicate wins")
	assert.Equal(t, 3.0, bars[2].Close)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(barsResponse{Bars: []wireBar{{Epoch: 0, Close: 1}}})
	}))
	defer srv.Close()

	bars, err := testClient(t, srv.URL).FetchBars(context.Background(), btc, domain.Res1Min, 10)
	require.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		errType apperrors.ErrorType
	}{
		{"empty result", http.StatusOK, `{"bars":[]}`, apperrors.ErrTypeInsufficientData},
		{"unknown symbol", http.StatusNotFound, ``, apperrors.ErrTypeInsufficientData},
		{"bad request", http.StatusBadRequest, `bad resolution`, apperrors.ErrTypeValidation},
		{"unavailable", http.StatusServiceUnavailable, ``, apperrors.ErrTypeUpstreamUnavailable},
		{"garbage", http.StatusOK, `not json`, apperrors.ErrTypeUpstreamUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := testClient(t, srv.URL).FetchBars(context.Background(), btc, domain.Res1H, 10)
			require.Error(t, err)
			assert.Equal(t, tt.errType, apperrors.TypeOf(err))
		})
	}
}

func TestClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := testClient(t, url).FetchBars(context.Background(), btc, domain.Res1H, 10)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeUpstreamUnavailable))
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(config.MarketDataConfig{BaseURL: "not a url"}, infrastructure.RetryPolicy{}, nil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
}

func TestStoreSource(t *testing.T) {
	store := storage.NewMemoryStore(2)
	src := StoreSource{Store: store}
	ctx := context.Background()

	_, err := src.FetchBars(ctx, btc, domain.Res1Min, 10)
	assert.True(t, apperrors.IsInsufficientData(err))

	bars := []domain.Bar{
		{InstrumentID: 1, Epoch: time.Unix(0, 0).UTC(), Close: 1},
		{InstrumentID: 1, Epoch: time.Unix(60, 0).UTC(), Close: 2},
	}
	require.NoError(t, store.Write(ctx, storage.Batch{Series: []domain.Series{{InstrumentID: 1, Resolution: domain.Res1Min, Bars: bars}}}))

	got, err := src.FetchBars(ctx, btc, domain.Res1Min, 10)
	require.NoError(t, err)
	assert.Equal(t, bars, got)
}

func TestStoreSource_ResamplesFromBase(t *testing.T) {
	store := storage.NewMemoryStore(2)
	ctx := context.Background()

	bars := make([]domain.Bar, 10)
	for i := range bars {
		bars[i] = domain.Bar{InstrumentID: 1, Epoch: time.Unix(int64(i*60), 0).UTC(),
			Open: float64(i), High: float64(i) + 1, Low: float64(i) - 1, Close: float64(i), Volume: 1}
	}
	require.NoError(t, store.Write(ctx, storage.Batch{Series: []domain.Series{{InstrumentID: 1, Resolution: domain.Res1Min, Bars: bars}}}))

	src := StoreSource{Store: store, Base: domain.Res1Min}
	got, err := src.FetchBars(ctx, btc, domain.Res5Min, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0.0, got[0].Open)
	assert.Equal(t, 4.0, got[0].Close)
	assert.Equal(t, 5.0, got[0].Volume)
	assert.Equal(t, 9.0, got[1].Close)
}
