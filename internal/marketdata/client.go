// Package marketdata fetches OHLCV bars for the pipeline, either from the HTTP
// query service or from bars already persisted in the feature store.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"featureflow/internal/config"
	apperrors "featureflow/internal/errors"
	"featureflow/internal/features"
	"featureflow/internal/infrastructure"
	"featureflow/internal/storage"
	"featureflow/pkg/contracts/domain"
)

// Source returns the most recent bars of an instrument, oldest first. An empty
// result is an InsufficientData error.
type Source interface {
	FetchBars(ctx context.Context, inst domain.Instrument, res domain.Resolution, limit int) ([]domain.Bar, error)
}

// barsPath is the query endpoint relative to the base URL.
const barsPath = "/api/v1/bars"

type wireBar struct {
	Epoch      int64   `json:"epoch"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     float64 `json:"volume"`
	TradeCount int64   `json:"trade_count"`
}

type barsResponse struct {
	Symbol string    `json:"symbol"`
	Bars   []wireBar `json:"bars"`
}

// Client queries the OHLCV service over HTTP.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	limiter *rate.Limiter
	retry   infrastructure.RetryPolicy
	logger  *slog.Logger
}

// NewClient builds a client for cfg.BaseURL.
func NewClient(cfg config.MarketDataConfig, retry infrastructure.RetryPolicy, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, apperrors.NewConfigError(fmt.Sprintf("invalid market data url %q", cfg.BaseURL), err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: u,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				ResponseHeaderTimeout: timeout,
				TLSHandshakeTimeout:   10 * time.Second,
				MaxIdleConnsPerHost:   4,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(limit, burst),
		retry:   retry,
		logger:  logger.With(slog.String("component", "marketdata")),
	}, nil
}

// FetchBars queries (symbol, resolution, OHLCV, limit) and returns bars sorted by
// epoch with duplicates dropped. Transport failures and 5xx responses are
// retried according to the client's policy.
func (c *Client) FetchBars(ctx context.Context, inst domain.Instrument, res domain.Resolution, limit int) ([]domain.Bar, error) {
	var resp barsResponse
	err := infrastructure.Retry(ctx, c.retry, "fetch_bars", func(ctx context.Context) error {
		var err error
		resp, err = c.query(ctx, inst.Symbol, res, limit)
		return err
	})
	if err != nil {
		return nil, err
	}

	bars := toBars(inst.ID, resp.Bars)
	if len(bars) == 0 {
		return nil, apperrors.NewInsufficientDataError("no bars returned").
			WithContext("symbol", inst.Symbol).
			WithContext("resolution", res.String())
	}
	c.logger.DebugContext(ctx, "bars fetched",
		slog.String("symbol", inst.Symbol),
		slog.String("resolution", res.String()),
		slog.Int("count", len(bars)))
	return bars, nil
}

func (c *Client) query(ctx context.Context, symbol string, res domain.Resolution, limit int) (barsResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return barsResponse{}, apperrors.NewUpstreamUnavailableError("rate limiter wait", err)
	}

	u := *c.baseURL
	u.Path += barsPath
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("resolution", res.String())
	q.Set("kind", "OHLCV")
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return barsResponse{}, apperrors.NewAppValidationError("build request: " + err.Error())
	}
	req.Header.Set("Accept", "application/json")
	if traceID := infrastructure.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-ID", traceID)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return barsResponse{}, apperrors.NewUpstreamUnavailableError("market data request failed", err)
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, httpResp.Body)
		return barsResponse{}, apperrors.NewUpstreamUnavailableError(
			fmt.Sprintf("market data returned %d", httpResp.StatusCode), nil)
	case httpResp.StatusCode == http.StatusNotFound:
		return barsResponse{}, apperrors.NewInsufficientDataError("unknown symbol").WithContext("symbol", symbol)
	case httpResp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return barsResponse{}, apperrors.NewAppValidationError(
			fmt.Sprintf("market data rejected query (%d): %s", httpResp.StatusCode, strings.TrimSpace(string(body))))
	}

	var out barsResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return barsResponse{}, apperrors.NewUpstreamUnavailableError("decode market data response", err)
	}
	return out, nil
}

// toBars converts, sorts and de-duplicates wire bars.
func toBars(instrumentID int64, in []wireBar) []domain.Bar {
	sort.SliceStable(in, func(i, j int) bool { return in[i].Epoch < in[j].Epoch })
	out := make([]domain.Bar, 0, len(in))
	for i, w := range in {
		if i > 0 && w.Epoch == in[i-1].Epoch {
			out[len(out)-1] = wireToBar(instrumentID, w)
			continue
		}
		out = append(out, wireToBar(instrumentID, w))
	}
	return out
}

func wireToBar(instrumentID int64, w wireBar) domain.Bar {
	return domain.Bar{
		InstrumentID: instrumentID,
		Epoch:        time.Unix(w.Epoch, 0).UTC(),
		Open:         w.Open,
		High:         w.High,
		Low:          w.Low,
		Close:        w.Close,
		Volume:       w.Volume,
		TradeCount:   w.TradeCount,
	}
}

// StoreSource reads bars already persisted in the feature store. When Base is
// set and finer than the requested resolution, base bars are read and resampled.
type StoreSource struct {
	Store storage.Store
	Base  domain.Resolution
}

// FetchBars implements Source.
func (s StoreSource) FetchBars(ctx context.Context, inst domain.Instrument, res domain.Resolution, limit int) ([]domain.Bar, error) {
	read := res
	if s.Base.Valid() && s.Base.Seconds() < res.Seconds() {
		read = s.Base
		if limit > 0 {
			limit *= int(res.Seconds() / s.Base.Seconds())
		}
	}

	bars, err := s.Store.Bars(ctx, inst.ID, read, limit)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, apperrors.NewInsufficientDataError("no stored bars").
			WithContext("symbol", inst.Symbol).
			WithContext("resolution", read.String())
	}
	if read == res {
		return bars, nil
	}
	return features.Resample(bars, res)
}
