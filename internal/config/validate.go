package config

import (
	"fmt"
	"strings"

	"featureflow/pkg/contracts/domain"
)

// validate validates the configuration and normalizes derived fields
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	c.Logging.Format = "json"
	switch strings.ToLower(c.Logging.Output) {
	case "console", "stderr", "file", "both":
	default:
		return fmt.Errorf("invalid logging output %q", c.Logging.Output)
	}

	switch c.Storage.Driver {
	case DriverPostgres, DriverSQLite:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage dsn required for driver %s", c.Storage.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if !c.MarketData.BaseResolution.Valid() {
		return fmt.Errorf("invalid market data base resolution")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be >= 1")
	}

	if err := c.Pipeline.validate(); err != nil {
		return err
	}

	for i := range c.Vpin.Specs {
		spec := c.Vpin.Specs[i].withDefaults()
		if spec.ID <= 0 {
			return fmt.Errorf("vpin spec id must be positive")
		}
		if spec.ExpectedTicks < 1 || spec.Warmup < 1 {
			return fmt.Errorf("vpin spec %d: expected ticks and warmup must be positive", spec.ID)
		}
		if spec.MinTicks > spec.MaxTicks {
			return fmt.Errorf("vpin spec %d: min ticks exceeds max ticks", spec.ID)
		}
		c.Vpin.Specs[i] = spec
	}
	for _, r := range c.Vpin.Resolutions {
		if !r.Valid() {
			return fmt.Errorf("invalid vpin resolution")
		}
	}
	if c.Vpin.MaxIMFs < 1 {
		return fmt.Errorf("vpin max imfs must be at least 1")
	}

	if c.Premium.DerivativeMarker == "" {
		return fmt.Errorf("premium derivative marker must not be empty")
	}

	seen := make(map[int64]bool, len(c.Instruments))
	for _, inst := range c.Instruments {
		if inst.ID <= 0 || inst.Symbol == "" {
			return fmt.Errorf("instrument %d/%q: id and symbol required", inst.ID, inst.Symbol)
		}
		if seen[inst.ID] {
			return fmt.Errorf("duplicate instrument id %d", inst.ID)
		}
		seen[inst.ID] = true
	}

	if _, err := c.ResolvePairs(); err != nil {
		return err
	}

	return nil
}

func (p PipelineConfig) validate() error {
	if p.Fdim <= 0 || p.Fdim >= 1 {
		return fmt.Errorf("pipeline fdim must be in (0,1), got %v", p.Fdim)
	}
	if p.Thresh <= 0 {
		return fmt.Errorf("pipeline thresh must be positive")
	}
	if p.MaxIMFs < 1 {
		return fmt.Errorf("pipeline max imfs must be at least 1")
	}
	if p.BackoffTicks < 1 {
		return fmt.Errorf("pipeline backoff ticks must be at least 1")
	}
	if p.SDThresh <= 0 || p.MaxSiftIters < 1 {
		return fmt.Errorf("pipeline sifting limits must be positive")
	}
	if p.SampleRate < 0 {
		return fmt.Errorf("pipeline sample rate must not be negative")
	}
	if p.Workers < 1 {
		return fmt.Errorf("pipeline workers must be at least 1")
	}
	if p.JobRetention < 0 {
		return fmt.Errorf("pipeline job retention must not be negative")
	}
	for _, r := range p.Resolutions {
		if !r.Valid() {
			return fmt.Errorf("invalid pipeline resolution")
		}
	}
	return nil
}

// ResolvePairs maps configured pair symbols onto tracked instruments.
// Pairs that fail the derivative naming rule are rejected here rather than at run time.
func (c *Config) ResolvePairs() ([]domain.InstrumentPair, error) {
	out := make([]domain.InstrumentPair, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		spot, ok := c.Instruments.BySymbol(p.Spot)
		if !ok {
			return nil, fmt.Errorf("pair spot %q is not a configured instrument", p.Spot)
		}
		deriv, ok := c.Instruments.BySymbol(p.Derivative)
		if !ok {
			return nil, fmt.Errorf("pair derivative %q is not a configured instrument", p.Derivative)
		}
		pair := domain.InstrumentPair{Spot: spot, Derivative: deriv}
		if !pair.Valid(c.Premium.DerivativeMarker) {
			return nil, fmt.Errorf("pair %s/%s does not match derivative marker %q", p.Spot, p.Derivative, c.Premium.DerivativeMarker)
		}
		out = append(out, pair)
	}
	return out, nil
}

// SpectrumWidth is the number of mode columns the emd table needs to hold
// both time-bar and VPIN spectra.
func (c *Config) SpectrumWidth() int {
	return max(c.Pipeline.MaxIMFs, c.Vpin.MaxIMFs)
}
