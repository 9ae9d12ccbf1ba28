// Command featurectl runs one pipeline request against the configured store
// and source and prints the run results as JSON.
//
//	featurectl -config config.yaml -symbol BTCUSDT -resolution 5Min
//	featurectl -symbol BTCUSDT,BTCUSDT.P -resolution 1H -fdim 0.35
//	featurectl -weights -fdim 0.4 -thresh 1e-4
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"featureflow/internal/app"
	"featureflow/internal/config"
	"featureflow/internal/features"
	"featureflow/internal/infrastructure"
	"featureflow/internal/operations"
	"featureflow/pkg/contracts"
	"featureflow/pkg/contracts/domain"
)

// maxWeights bounds the -weights preview
const maxWeights = 100000

type options struct {
	configPath string
	symbols    string
	id         int64
	resolution string
	fdim       float64
	thresh     float64
	weights    bool
	pretty     bool
	version    bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("featurectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "YAML config file (defaults to FEATUREFLOW_CONFIG or ./config.yaml)")
	fs.StringVar(&o.symbols, "symbol", "", "instrument symbol, or spot,derivative for a pair")
	fs.Int64Var(&o.id, "id", 0, "instrument id, used instead of -symbol")
	fs.StringVar(&o.resolution, "resolution", "1Min", "target resolution (1Min, 5Min, 15Min, 30Min, 1H, 4H, 1D)")
	fs.Float64Var(&o.fdim, "fdim", 0, "fractional differencing order override")
	fs.Float64Var(&o.thresh, "thresh", 0, "weight truncation threshold override")
	fs.BoolVar(&o.weights, "weights", false, "print the FFD weights for -fdim and -thresh and exit")
	fs.BoolVar(&o.pretty, "pretty", false, "indent JSON output")
	fs.BoolVar(&o.version, "version", false, "print version information and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if !o.version && !o.weights && o.symbols == "" && o.id == 0 {
		return o, errors.New("one of -symbol or -id is required")
	}
	return o, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		slog.Error("featurectl failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if o.version {
		_, err := fmt.Fprintln(stdout, contracts.GetFullVersionString())
		return err
	}

	load := config.Load
	if o.configPath != "" {
		load = func() (*config.Config, error) { return config.LoadFile(o.configPath) }
	}
	cfg, err := load()
	if err != nil {
		return err
	}

	if o.weights {
		fdim, thresh := cfg.Pipeline.Fdim, cfg.Pipeline.Thresh
		if o.fdim > 0 {
			fdim = o.fdim
		}
		if o.thresh > 0 {
			thresh = o.thresh
		}
		w, err := features.Weights(fdim, thresh, maxWeights)
		if err != nil {
			return err
		}
		return writeJSON(stdout, map[string]interface{}{
			"fdim": fdim, "thresh": thresh, "width": len(w), "weights": w,
		}, o.pretty)
	}

	req, err := buildRequest(cfg, o)
	if err != nil {
		return err
	}

	// The command is a single run; logs go to stderr and metrics are not exported.
	cfg.Logging.Output = "stderr"
	logger, err := infrastructure.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, logger, infrastructure.NoopProviders(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Stop(context.Background()); err != nil {
			logger.Warn("shutdown", slog.String("error", err.Error()))
		}
	}()

	results, err := a.Coordinator.Run(ctx, req)
	if err != nil {
		return err
	}
	return writeJSON(stdout, map[string]interface{}{
		"resolution":  req.Resolution,
		"instruments": req.Instruments,
		"results":     results,
	}, o.pretty)
}

// buildRequest resolves the instruments named on the command line against the
// configured instrument list
func buildRequest(cfg *config.Config, o options) (operations.PipelineRequest, error) {
	res, err := domain.ParseResolution(o.resolution)
	if err != nil {
		return operations.PipelineRequest{}, err
	}
	req := operations.PipelineRequest{Resolution: res}

	if o.id > 0 {
		inst, ok := cfg.Instruments.ByID(o.id)
		if !ok {
			return req, fmt.Errorf("instrument id %d is not configured", o.id)
		}
		req.Instruments = append(req.Instruments, inst)
	} else {
		for _, symbol := range strings.Split(o.symbols, ",") {
			symbol = strings.TrimSpace(symbol)
			inst, ok := cfg.Instruments.BySymbol(symbol)
			if !ok {
				return req, fmt.Errorf("instrument %q is not configured", symbol)
			}
			req.Instruments = append(req.Instruments, inst)
		}
	}

	if o.fdim > 0 {
		req.Overrides.Fdim = &o.fdim
	}
	if o.thresh > 0 {
		req.Overrides.Thresh = &o.thresh
	}
	return req, req.Validate()
}

func writeJSON(w io.Writer, v interface{}, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
