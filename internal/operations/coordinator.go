package operations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"featureflow/internal/config"
	apperrors "featureflow/internal/errors"
	"featureflow/internal/features"
	"featureflow/internal/infrastructure"
	"featureflow/internal/marketdata"
	"featureflow/internal/pubsub"
	"featureflow/internal/storage"
	"featureflow/pkg/contracts/domain"
)

// Deps are the collaborators of a Coordinator. Source and Store are required;
// the rest may be nil.
type Deps struct {
	Source   marketdata.Source
	Store    storage.Store
	Broker   *pubsub.Broker
	Notifier Notifier
	Sink     Sink
	Metrics  *infrastructure.PipelineMetrics
	Tracer   trace.Tracer
	Logger   *slog.Logger
}

// Coordinator schedules feature pipelines. Every run is keyed; the KeyGuard keeps
// one execution per key in flight and each run commits a single batch.
type Coordinator struct {
	params          Params
	vpinParams      Params
	base            domain.Resolution
	resolutions     []domain.Resolution
	vpinResolutions []domain.Resolution
	vpinSpecs       config.VpinSpecList
	instruments     config.InstrumentList
	pairs           []domain.InstrumentPair
	marker          string
	width           int
	workers         int
	runTimeout      time.Duration
	retry           infrastructure.RetryPolicy

	source   marketdata.Source
	store    storage.Store
	broker   *pubsub.Broker
	notifier Notifier
	sink     Sink
	metrics  *infrastructure.PipelineMetrics

	registry *Registry
	order    []Step
	guard    *KeyGuard
	tracer   *RunTracer
	logger   *slog.Logger
}

// NewCoordinator builds a coordinator from validated configuration.
func NewCoordinator(cfg *config.Config, deps Deps) (*Coordinator, error) {
	if deps.Source == nil || deps.Store == nil {
		return nil, apperrors.NewConfigError("coordinator needs a market data source and a store", nil)
	}
	pairs, err := cfg.ResolvePairs()
	if err != nil {
		return nil, apperrors.NewConfigError("resolve pairs", err)
	}
	registry, err := NewPipelineRegistry()
	if err != nil {
		return nil, err
	}
	order, err := registry.Order()
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	params := ParamsFrom(cfg.Pipeline)
	vpinParams := params
	vpinParams.MaxIMFs = cfg.Vpin.MaxIMFs

	retry := infrastructure.RetryPolicyFrom(cfg.Retry)
	metrics := deps.Metrics
	retry.OnRetry = func(ctx context.Context, _ int, _ time.Duration, _ error) {
		metrics.RecordRetry(ctx, "store_write")
	}

	workers := cfg.Pipeline.Workers
	if workers < 1 {
		workers = 1
	}

	return &Coordinator{
		params:          params,
		vpinParams:      vpinParams,
		base:            cfg.MarketData.BaseResolution,
		resolutions:     cfg.Pipeline.Resolutions,
		vpinResolutions: cfg.Vpin.Resolutions,
		vpinSpecs:       cfg.Vpin.Specs,
		instruments:     cfg.Instruments,
		pairs:           pairs,
		marker:          cfg.Premium.DerivativeMarker,
		width:           cfg.SpectrumWidth(),
		workers:         workers,
		runTimeout:      cfg.Pipeline.RunTimeout,
		retry:           retry,
		source:          deps.Source,
		store:           deps.Store,
		broker:          deps.Broker,
		notifier:        deps.Notifier,
		sink:            deps.Sink,
		metrics:         metrics,
		registry:        registry,
		order:           order,
		guard:           NewKeyGuard(),
		tracer:          NewRunTracer(deps.Tracer, metrics),
		logger:          logger.With(slog.String("component", "coordinator")),
	}, nil
}

// Params returns the configured pipeline parameters.
func (c *Coordinator) Params() Params { return c.params }

// Width returns the spectrum width the store accepts.
func (c *Coordinator) Width() int { return c.width }

// Steps lists the pipeline steps in execution order.
func (c *Coordinator) Steps() []Step { return c.order }

// Run executes an on-demand request. One instrument runs its series pipeline; a
// pair runs both series pipelines and the premium index concurrently. Per-run
// failures are reported in the results, only invalid requests return an error.
func (c *Coordinator) Run(ctx context.Context, req PipelineRequest) ([]RunResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p := c.params.With(req.Overrides)
	if err := p.Validate(c.width); err != nil {
		return nil, err
	}

	if len(req.Instruments) == 1 {
		return []RunResult{c.RunSeries(ctx, req.Instruments[0], req.Resolution, p)}, nil
	}

	pair := domain.InstrumentPair{Spot: req.Instruments[0], Derivative: req.Instruments[1]}
	results := make([]RunResult, 3)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	g.Go(func() error {
		results[0] = c.RunSeries(gctx, pair.Spot, req.Resolution, p)
		return nil
	})
	g.Go(func() error {
		results[1] = c.RunSeries(gctx, pair.Derivative, req.Resolution, p)
		return nil
	})
	g.Go(func() error {
		results[2] = c.RunPremium(gctx, pair, req.Resolution, p)
		return nil
	})
	_ = g.Wait()
	return results, nil
}

// RunSeries fetches bars for inst and runs resample, fracdiff and emd at res on
// the time clock.
func (c *Coordinator) RunSeries(ctx context.Context, inst domain.Instrument, res domain.Resolution, p Params) RunResult {
	key := SeriesKey(inst.ID, res, 0)
	return c.run(ctx, runSpec{
		kind: KindSeries,
		key:  key,
		inst: inst,
		res:  res,
		compute: func(ctx context.Context) (storage.Batch, []StepSummary, error) {
			bars, err := c.source.FetchBars(ctx, inst, res, p.BackoffTicks)
			if err != nil {
				return storage.Batch{}, nil, err
			}
			state := NewOperationState(infrastructure.GetRunID(ctx), key)
			state.Instrument, state.Resolution, state.Params = inst, res, p
			state.Input = bars

			err = c.execute(ctx, state)
			steps := state.Summaries(c.order)
			if err != nil {
				return storage.Batch{}, steps, err
			}
			return storage.Batch{
				Series: []domain.Series{state.Series},
				Ffd:    state.Ffd,
				Emd:    state.Emd,
			}, steps, nil
		},
	})
}

// RunVpinSeries featurizes stored imbalance bars of one builder at res. Records
// carry vpinID and use the VPIN spectrum width.
func (c *Coordinator) RunVpinSeries(ctx context.Context, inst domain.Instrument, vpinID int64, res domain.Resolution) RunResult {
	key := SeriesKey(inst.ID, res, vpinID)
	p := c.vpinParams
	return c.run(ctx, runSpec{
		kind:   KindSeries,
		key:    key,
		inst:   inst,
		res:    res,
		vpinID: vpinID,
		compute: func(ctx context.Context) (storage.Batch, []StepSummary, error) {
			var bars []domain.VpinBar
			err := infrastructure.Retry(ctx, c.retry, "read_vpin_bars", func(ctx context.Context) error {
				var err error
				bars, err = c.store.VpinBars(ctx, inst.ID, vpinID, p.BackoffTicks)
				return err
			})
			if err != nil {
				return storage.Batch{}, nil, err
			}
			if len(bars) == 0 {
				return storage.Batch{}, nil, apperrors.NewInsufficientDataError("no stored vpin bars").
					WithContext("vpin_id", vpinID)
			}

			state := NewOperationState(infrastructure.GetRunID(ctx), key)
			state.Instrument, state.Resolution, state.VpinID, state.Params = inst, res, vpinID, p
			state.VpinInput = bars

			err = c.execute(ctx, state)
			steps := state.Summaries(c.order)
			if err != nil {
				return storage.Batch{}, steps, err
			}
			return storage.Batch{Ffd: state.Ffd, Emd: state.Emd}, steps, nil
		},
	})
}

// RunVpinBars extends the imbalance bars of one builder from base-resolution
// bars and announces them on the vpin_ohlcv topic. Sampling resumes from the
// latest stored bar, so only bars closing after it are written.
func (c *Coordinator) RunVpinBars(ctx context.Context, inst domain.Instrument, spec config.VpinSpec) RunResult {
	return c.run(ctx, runSpec{
		kind:   KindVpin,
		key:    VpinKey(inst.ID, spec.ID),
		inst:   inst,
		res:    c.base,
		vpinID: spec.ID,
		compute: func(ctx context.Context) (storage.Batch, []StepSummary, error) {
			var stored []domain.VpinBar
			err := infrastructure.Retry(ctx, c.retry, "read_vpin_bars", func(ctx context.Context) error {
				var err error
				stored, err = c.store.VpinBars(ctx, inst.ID, spec.ID, 1)
				return err
			})
			if err != nil {
				return storage.Batch{}, nil, err
			}
			var last *domain.VpinBar
			if len(stored) > 0 {
				last = &stored[len(stored)-1]
			}

			bars, err := c.source.FetchBars(ctx, inst, c.base, c.params.BackoffTicks)
			if err != nil {
				return storage.Batch{}, nil, err
			}
			if last != nil && len(bars) > 0 && bars[0].Epoch.After(last.Epoch.Add(c.base.Duration())) {
				c.logger.WarnContext(ctx, "vpin increments missing since last bar",
					slog.String("key", VpinKey(inst.ID, spec.ID)),
					slog.Time("last_bar", last.Epoch),
					slog.Time("first_increment", bars[0].Epoch))
			}
			vb, err := features.ResumeImbalanceBars(bars, ImbalanceParams(spec), last)
			if err != nil {
				return storage.Batch{}, nil, err
			}
			if len(vb) == 0 {
				return storage.Batch{}, nil, apperrors.NewInsufficientDataError("no imbalance bar closed").
					WithContext("increments", len(bars)).
					WithContext("warmup", spec.Warmup)
			}
			return storage.Batch{VpinBars: vb}, nil, nil
		},
		after: func(ctx context.Context, _ storage.Batch) {
			if c.broker == nil {
				return
			}
			msg := pubsub.Message{
				Topic:        pubsub.TopicVpinOHLCV,
				Source:       string(KindVpin),
				InstrumentID: inst.ID,
				VpinID:       spec.ID,
			}
			if err := c.broker.Publish(ctx, msg); err != nil {
				c.logger.WarnContext(ctx, "vpin trigger not published", slog.String("error", err.Error()))
			}
		},
	})
}

// RunPremium computes the premium index of pair at res. An invalid pair is
// skipped with a warning and produces no rows.
func (c *Coordinator) RunPremium(ctx context.Context, pair domain.InstrumentPair, res domain.Resolution, p Params) RunResult {
	key := PremiumKey(pair.Spot.ID, pair.Derivative.ID, res)
	if err := features.ValidatePair(pair, c.marker); err != nil {
		c.logger.WarnContext(ctx, "premium pair rejected",
			slog.String("key", key),
			slog.String("reason", err.Error()))
		c.metrics.RecordRun(ctx, string(KindPremium), string(RunSkipped), 0)
		return RunResult{Kind: KindPremium, Key: key, Status: RunSkipped, Message: err.Error()}
	}

	return c.run(ctx, runSpec{
		kind: KindPremium,
		key:  key,
		inst: pair.Spot,
		res:  res,
		compute: func(ctx context.Context) (storage.Batch, []StepSummary, error) {
			var spot, deriv []domain.Bar
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				var err error
				spot, err = c.fetchResampled(gctx, pair.Spot, res, p.BackoffTicks)
				return err
			})
			g.Go(func() error {
				var err error
				deriv, err = c.fetchResampled(gctx, pair.Derivative, res, p.BackoffTicks)
				return err
			})
			if err := g.Wait(); err != nil {
				return storage.Batch{}, nil, err
			}

			records := features.PremiumIndex(pair, c.marker, res, spot, deriv)
			if len(records) == 0 {
				return storage.Batch{}, nil, apperrors.NewInsufficientDataError("spot and derivative share no epochs")
			}
			return storage.Batch{Premium: records}, nil, nil
		},
	})
}

func (c *Coordinator) fetchResampled(ctx context.Context, inst domain.Instrument, res domain.Resolution, limit int) ([]domain.Bar, error) {
	bars, err := c.source.FetchBars(ctx, inst, res, limit)
	if err != nil {
		return nil, err
	}
	return features.Resample(bars, res)
}

// ImbalanceParams maps a configured builder onto the algorithm parameters.
func ImbalanceParams(spec config.VpinSpec) features.ImbalanceParams {
	return features.ImbalanceParams{
		VpinID:        spec.ID,
		ExpectedTicks: spec.ExpectedTicks,
		Warmup:        spec.Warmup,
		Span:          spec.Span,
		MinTicks:      spec.MinTicks,
		MaxTicks:      spec.MaxTicks,
		Log1p:         spec.Log1p,
	}
}

type runSpec struct {
	kind    RunKind
	key     string
	inst    domain.Instrument
	res     domain.Resolution
	vpinID  int64
	compute func(ctx context.Context) (storage.Batch, []StepSummary, error)
	after   func(ctx context.Context, b storage.Batch)
}

// run wraps compute with the key guard, tracing, the run timeout, the single
// batch commit and notification.
func (c *Coordinator) run(ctx context.Context, spec runSpec) RunResult {
	start := time.Now()
	ctx = infrastructure.EnsureTraceID(ctx)
	ctx = infrastructure.WithRunID(ctx, uuid.NewString())
	logger := c.logger.With(
		slog.String("kind", string(spec.kind)),
		slog.String("key", spec.key),
		slog.String("run_id", infrastructure.GetRunID(ctx)),
	)

	ctx, span := c.tracer.TraceRun(ctx, spec.kind, spec.key)

	var (
		batch storage.Batch
		steps []StepSummary
	)
	err := c.guard.Do(ctx, spec.key, func(ctx context.Context) (err error) {
		batch, steps = storage.Batch{}, nil
		defer func() {
			if r := recover(); r != nil {
				err = apperrors.NewComputationError(fmt.Sprintf("run panicked: %v", r), nil)
			}
		}()

		if c.runTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.runTimeout)
			defer cancel()
		}

		b, s, err := spec.compute(ctx)
		steps = s
		if err != nil {
			return err
		}
		if err := c.commit(ctx, b); err != nil {
			return err
		}
		batch = b
		if spec.after != nil {
			spec.after(ctx, b)
		}
		return nil
	})

	status := statusOf(err)
	elapsed := time.Since(start)
	c.tracer.RecordRunCompletion(ctx, span, spec.kind, status, elapsed, err)

	result := RunResult{
		Kind:    spec.kind,
		Key:     spec.key,
		Status:  status,
		Records: batch.Counts(),
		Steps:   steps,
		Elapsed: elapsed.Seconds(),
	}

	switch status {
	case RunCompleted:
		logger.InfoContext(ctx, "run completed",
			slog.Int("records", batch.Len()),
			slog.Duration("elapsed", elapsed))
		c.notify(ctx, EventRecordsWritten, spec, batch.Counts(), nil)
	case RunSkipped:
		result.Message = err.Error()
		logger.InfoContext(ctx, "run skipped", slog.String("reason", err.Error()))
	case RunCoalesced:
		result.Message = err.Error()
		logger.DebugContext(ctx, "run coalesced")
	case RunFailed:
		result.Message = err.Error()
		logger.ErrorContext(ctx, "run failed",
			slog.String("error", err.Error()),
			slog.String("error_type", errorType(err)),
			slog.Duration("elapsed", elapsed))
		c.notify(ctx, EventRunFailed, spec, nil, err)
	}
	return result
}

// commit writes b in one transaction, retrying transient storage errors, then
// hands it to the export sink.
func (c *Coordinator) commit(ctx context.Context, b storage.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	err := infrastructure.Retry(ctx, c.retry, "store_write", func(ctx context.Context) error {
		return c.store.Write(ctx, b)
	})
	if err != nil {
		return err
	}
	for entity, n := range b.Counts() {
		c.metrics.RecordWritten(ctx, entity, n)
	}

	if c.sink != nil {
		if err := c.sink.Export(ctx, b); err != nil {
			c.logger.WarnContext(ctx, "export failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (c *Coordinator) notify(ctx context.Context, eventType string, spec runSpec, records map[string]int, err error) {
	if c.notifier == nil {
		return
	}
	n := Notification{
		Type:         eventType,
		Kind:         spec.kind,
		Key:          spec.key,
		InstrumentID: spec.inst.ID,
		VpinID:       spec.vpinID,
		Records:      records,
		TraceID:      infrastructure.GetTraceID(ctx),
		Time:         time.Now().UTC(),
	}
	if spec.res.Valid() {
		n.Resolution = spec.res.String()
	}
	if err != nil {
		n.Error = err.Error()
	}
	c.notifier.Notify(ctx, n)
}

// execute walks the registered steps in dependency order. When a step cannot run
// every later step is marked skipped.
func (c *Coordinator) execute(ctx context.Context, state *OperationState) error {
	for _, step := range c.order {
		state.SetStage(step.ID(), NewStepState(step.ID(), step.Name()))
	}
	state.Start()

	for i, step := range c.order {
		st := state.GetStage(step.ID())

		err := ctx.Err()
		if err == nil {
			err = step.Validate(state)
		}
		if err == nil {
			err = c.executeStage(ctx, state, step, st)
		} else {
			st.Skip(err.Error())
		}

		if err != nil {
			for _, rest := range c.order[i+1:] {
				state.GetStage(rest.ID()).Skip(fmt.Sprintf("%s did not complete", step.ID()))
			}
			state.Fail(err)
			return err
		}
	}

	state.Complete()
	return nil
}

func (c *Coordinator) executeStage(ctx context.Context, state *OperationState, step Step, st *StepState) error {
	st.Start()
	sctx, span := c.tracer.TraceStage(ctx, step.ID())
	err := step.Execute(sctx, state)
	n := produced(step.ID(), state)

	switch {
	case err == nil:
		st.Complete(n)
	case apperrors.IsInsufficientData(err):
		st.Skip(err.Error())
	default:
		st.Fail(err)
	}
	c.tracer.RecordStageCompletion(sctx, span, step.ID(), st.Duration(), n, err)

	c.logger.DebugContext(ctx, "step finished",
		slog.String("key", state.Key),
		slog.String("step", step.ID()),
		slog.Int("produced", n),
		slog.Bool("ok", err == nil))
	return err
}
