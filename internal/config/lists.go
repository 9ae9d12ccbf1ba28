package config

import (
	"fmt"
	"strconv"
	"strings"

	"featureflow/pkg/contracts/domain"
)

// InstrumentList is the set of instruments the service tracks.
// From the environment it is written as "1:BTCUSDT,2:BTCUSDT.P".
type InstrumentList []domain.Instrument

// Decode implements envconfig.Decoder.
func (l *InstrumentList) Decode(value string) error {
	var out InstrumentList
	for _, item := range splitList(value) {
		id, symbol, ok := strings.Cut(item, ":")
		if !ok {
			return fmt.Errorf("instrument %q: want id:symbol", item)
		}
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return fmt.Errorf("instrument %q: %w", item, err)
		}
		out = append(out, domain.Instrument{ID: n, Symbol: symbol})
	}
	*l = out
	return nil
}

// BySymbol finds an instrument by its symbol.
func (l InstrumentList) BySymbol(symbol string) (domain.Instrument, bool) {
	for _, inst := range l {
		if inst.Symbol == symbol {
			return inst, true
		}
	}
	return domain.Instrument{}, false
}

// ByID finds an instrument by its id.
func (l InstrumentList) ByID(id int64) (domain.Instrument, bool) {
	for _, inst := range l {
		if inst.ID == id {
			return inst, true
		}
	}
	return domain.Instrument{}, false
}

// PairConfig names a spot/derivative pair by symbol.
type PairConfig struct {
	Spot       string `yaml:"spot"`
	Derivative string `yaml:"derivative"`
}

// PairList is written as "BTCUSDT/BTCUSDT.P,ETHUSDT/ETHUSDT.P" in the environment.
type PairList []PairConfig

// Decode implements envconfig.Decoder.
func (l *PairList) Decode(value string) error {
	var out PairList
	for _, item := range splitList(value) {
		spot, deriv, ok := strings.Cut(item, "/")
		if !ok {
			return fmt.Errorf("pair %q: want spot/derivative", item)
		}
		out = append(out, PairConfig{Spot: spot, Derivative: deriv})
	}
	*l = out
	return nil
}

// VpinSpec configures one imbalance bar builder.
type VpinSpec struct {
	ID            int64   `yaml:"id"`
	ExpectedTicks float64 `yaml:"expected_ticks"`
	Warmup        int     `yaml:"warmup"`
	Span          int     `yaml:"span"`
	MinTicks      float64 `yaml:"min_ticks"`
	MaxTicks      float64 `yaml:"max_ticks"`
	// Log1p dampens volume with log(1+v) before it enters the imbalance sum.
	Log1p bool `yaml:"log1p"`
}

// withDefaults fills unset tuning fields from ExpectedTicks.
func (s VpinSpec) withDefaults() VpinSpec {
	if s.Warmup == 0 {
		s.Warmup = int(s.ExpectedTicks)
	}
	if s.Span == 0 {
		s.Span = 20
	}
	if s.MinTicks == 0 {
		s.MinTicks = 1
	}
	if s.MaxTicks == 0 {
		s.MaxTicks = s.ExpectedTicks * 10
	}
	return s
}

// VpinSpecList is written as "id:expected_ticks[:warmup],..." in the environment.
type VpinSpecList []VpinSpec

// Decode implements envconfig.Decoder.
func (l *VpinSpecList) Decode(value string) error {
	var out VpinSpecList
	for _, item := range splitList(value) {
		parts := strings.Split(item, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return fmt.Errorf("vpin spec %q: want id:expected_ticks[:warmup]", item)
		}
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return fmt.Errorf("vpin spec %q: %w", item, err)
		}
		ticks, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return fmt.Errorf("vpin spec %q: %w", item, err)
		}
		spec := VpinSpec{ID: id, ExpectedTicks: ticks}
		if len(parts) == 3 {
			if spec.Warmup, err = strconv.Atoi(parts[2]); err != nil {
				return fmt.Errorf("vpin spec %q: %w", item, err)
			}
		}
		out = append(out, spec)
	}
	*l = out
	return nil
}

// ByID finds a spec by id.
func (l VpinSpecList) ByID(id int64) (VpinSpec, bool) {
	for _, s := range l {
		if s.ID == id {
			return s, true
		}
	}
	return VpinSpec{}, false
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
