package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"featureflow/internal/config"
	"featureflow/internal/operations"
	"featureflow/pkg/contracts/domain"
)

const testYAML = `
storage:
  driver: memory
telemetry:
  tracing: none
  metrics: none
instruments:
  - id: 1
    symbol: BTCUSDT
  - id: 2
    symbol: BTCUSDT.P
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testYAML), 0o644))
	return path
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"symbol", []string{"-symbol", "BTCUSDT"}, false},
		{"id", []string{"-id", "2"}, false},
		{"weights only", []string{"-weights", "-fdim", "0.4"}, false},
		{"version only", []string{"-version"}, false},
		{"no instrument", []string{"-resolution", "5Min"}, true},
		{"unknown flag", []string{"-bogus"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args, io.Discard)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestBuildRequest(t *testing.T) {
	cfg := config.Default()
	cfg.Instruments = config.InstrumentList{{ID: 1, Symbol: "BTCUSDT"}, {ID: 2, Symbol: "BTCUSDT.P"}}

	tests := []struct {
		name    string
		opts    options
		want    []int64
		wantErr bool
	}{
		{"single symbol", options{symbols: "BTCUSDT", resolution: "5Min"}, []int64{1}, false},
		{"pair", options{symbols: "BTCUSDT, BTCUSDT.P", resolution: "1H"}, []int64{1, 2}, false},
		{"by id", options{id: 2, resolution: "1m"}, []int64{2}, false},
		{"unknown symbol", options{symbols: "DOGEUSDT", resolution: "1Min"}, nil, true},
		{"unknown id", options{id: 9, resolution: "1Min"}, nil, true},
		{"bad resolution", options{symbols: "BTCUSDT", resolution: "2Min"}, nil, true},
		{"three symbols", options{symbols: "BTCUSDT,BTCUSDT.P,BTCUSDT", resolution: "1Min"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := buildRequest(cfg, tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			ids := make([]int64, len(req.Instruments))
			for i, inst := range req.Instruments {
				ids[i] = inst.ID
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestBuildRequestOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.Instruments = config.InstrumentList{{ID: 1, Symbol: "BTCUSDT"}}

	req, err := buildRequest(cfg, options{symbols: "BTCUSDT", resolution: "1D", fdim: 0.35})
	require.NoError(t, err)
	assert.Equal(t, domain.Res1D, req.Resolution)
	require.NotNil(t, req.Overrides.Fdim)
	assert.InDelta(t, 0.35, *req.Overrides.Fdim, 1e-12)
	assert.Nil(t, req.Overrides.Thresh)
}

func TestRunWeights(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"-config", writeConfig(t), "-weights", "-fdim", "0.5", "-thresh", "0.01"}, &out, io.Discard)
	require.NoError(t, err)

	var got struct {
		Width   int       `json:"width"`
		Weights []float64 `json:"weights"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.NotEmpty(t, got.Weights)
	assert.Equal(t, len(got.Weights), got.Width)
	assert.InDelta(t, 1.0, got.Weights[0], 1e-12)
	assert.InDelta(t, -0.5, got.Weights[1], 1e-12)
}

func TestRunWithoutStoredBarsSkips(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"-config", writeConfig(t), "-symbol", "BTCUSDT"}, &out, io.Discard)
	require.NoError(t, err)

	var got struct {
		Results []operations.RunResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Len(t, got.Results, 1)
	assert.Equal(t, operations.RunSkipped, got.Results[0].Status)
}

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-version"}, &out, io.Discard))
	assert.Contains(t, out.String(), "featureflow v")
}
