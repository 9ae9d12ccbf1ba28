package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"featureflow/pkg/contracts/domain"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.validate())

	assert.Equal(t, 0.3, cfg.Pipeline.Fdim)
	assert.Equal(t, 1e-4, cfg.Pipeline.Thresh)
	assert.Equal(t, 16, cfg.Pipeline.MaxIMFs)
	assert.Equal(t, 10080, cfg.Pipeline.BackoffTicks)
	assert.Equal(t, ".P", cfg.Premium.DerivativeMarker)
	assert.Equal(t, domain.Res1Min, cfg.MarketData.BaseResolution)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlData := `
server:
  port: 9090
storage:
  driver: memory
pipeline:
  fdim: 0.45
  resolutions: ["5Min", "1h"]
instruments:
  - id: 1
    symbol: BTCUSDT
  - id: 2
    symbol: BTCUSDT.P
pairs:
  - spot: BTCUSDT
    derivative: BTCUSDT.P
vpin:
  specs:
    - id: 7
      expected_ticks: 50
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 0.45, cfg.Pipeline.Fdim)
	assert.Equal(t, []domain.Resolution{domain.Res5Min, domain.Res1H}, cfg.Pipeline.Resolutions)
	assert.Equal(t, 1e-4, cfg.Pipeline.Thresh, "unset keys keep defaults")
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)

	require.Len(t, cfg.Vpin.Specs, 1)
	spec := cfg.Vpin.Specs[0]
	assert.Equal(t, 50, spec.Warmup, "warmup defaults to expected ticks")
	assert.Equal(t, 500.0, spec.MaxTicks)

	pairs, err := cfg.ResolvePairs()
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, int64(2), pairs[0].Derivative.ID)
}

func TestLoadFile_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  fdim: 0.45\nstorage:\n  driver: memory\n"), 0o644))

	t.Setenv("FEATUREFLOW_PIPELINE_FDIM", "0.6")
	t.Setenv("FEATUREFLOW_PIPELINE_RESOLUTIONS", "1Min,4H")
	t.Setenv("FEATUREFLOW_INSTRUMENTS", "1:ETHUSDT, 2:ETHUSDT.P")
	t.Setenv("FEATUREFLOW_PAIRS", "ETHUSDT/ETHUSDT.P")
	t.Setenv("FEATUREFLOW_VPIN_SPECS", "3:100:40")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 0.6, cfg.Pipeline.Fdim)
	assert.Equal(t, []domain.Resolution{domain.Res1Min, domain.Res4H}, cfg.Pipeline.Resolutions)
	require.Len(t, cfg.Instruments, 2)
	assert.Equal(t, "ETHUSDT.P", cfg.Instruments[1].Symbol)
	require.Len(t, cfg.Vpin.Specs, 1)
	assert.Equal(t, 40, cfg.Vpin.Specs[0].Warmup)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "fdim zero", mutate: func(c *Config) { c.Pipeline.Fdim = 0 }},
		{name: "fdim one", mutate: func(c *Config) { c.Pipeline.Fdim = 1 }},
		{name: "negative thresh", mutate: func(c *Config) { c.Pipeline.Thresh = -1 }},
		{name: "no imfs", mutate: func(c *Config) { c.Pipeline.MaxIMFs = 0 }},
		{name: "negative job retention", mutate: func(c *Config) { c.Pipeline.JobRetention = -time.Second }},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "mongo" }},
		{name: "postgres without dsn", mutate: func(c *Config) {
			c.Storage.Driver = DriverPostgres
			c.Storage.DSN = ""
		}},
		{name: "bad resolution", mutate: func(c *Config) { c.Pipeline.Resolutions = []domain.Resolution{99} }},
		{name: "empty marker", mutate: func(c *Config) { c.Premium.DerivativeMarker = "" }},
		{name: "duplicate instrument", mutate: func(c *Config) {
			c.Instruments = InstrumentList{{ID: 1, Symbol: "A"}, {ID: 1, Symbol: "B"}}
		}},
		{name: "pair with unknown symbol", mutate: func(c *Config) {
			c.Instruments = InstrumentList{{ID: 1, Symbol: "BTCUSDT"}}
			c.Pairs = PairList{{Spot: "BTCUSDT", Derivative: "BTCUSDT.P"}}
		}},
		{name: "pair without marker", mutate: func(c *Config) {
			c.Instruments = InstrumentList{{ID: 1, Symbol: "BTCUSDT"}, {ID: 2, Symbol: "ETHUSDT.P"}}
			c.Pairs = PairList{{Spot: "BTCUSDT", Derivative: "ETHUSDT.P"}}
		}},
		{name: "vpin min above max", mutate: func(c *Config) {
			c.Vpin.Specs = VpinSpecList{{ID: 1, ExpectedTicks: 10, MinTicks: 50, MaxTicks: 20}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func TestDecoders(t *testing.T) {
	t.Run("instrument list", func(t *testing.T) {
		var l InstrumentList
		require.NoError(t, l.Decode("1:BTCUSDT,2:BTCUSDT.P"))
		inst, ok := l.BySymbol("BTCUSDT.P")
		require.True(t, ok)
		assert.Equal(t, int64(2), inst.ID)

		_, ok = l.ByID(3)
		assert.False(t, ok)

		assert.Error(t, l.Decode("BTCUSDT"))
		assert.Error(t, l.Decode("x:BTCUSDT"))
	})

	t.Run("pair list", func(t *testing.T) {
		var l PairList
		require.NoError(t, l.Decode("A/A.P, B/B.P"))
		assert.Equal(t, PairList{{Spot: "A", Derivative: "A.P"}, {Spot: "B", Derivative: "B.P"}}, l)
		assert.Error(t, l.Decode("A-A.P"))
	})

	t.Run("vpin spec list", func(t *testing.T) {
		var l VpinSpecList
		require.NoError(t, l.Decode("1:50,2:200:400"))
		require.Len(t, l, 2)
		spec, ok := l.ByID(2)
		require.True(t, ok)
		assert.Equal(t, 200.0, spec.ExpectedTicks)
		assert.Equal(t, 400, spec.Warmup)
		assert.Error(t, l.Decode("1"))
		assert.Error(t, l.Decode("1:x"))
	})
}
