package operations

import (
	"fmt"
	"math"
	"time"

	"featureflow/internal/config"
	apperrors "featureflow/internal/errors"
	"featureflow/internal/features"
	"featureflow/pkg/contracts/domain"
)

// Pipeline step identifiers
const (
	StageIDResample = "resample"
	StageIDFracDiff = "fracdiff"
	StageIDEMD      = "emd"
)

// Pipeline step names
const (
	StageNameResample = "Resample"
	StageNameFracDiff = "Fractional Differencing"
	StageNameEMD      = "Spectral Extraction"
)

// RunKind names the unit of work a run performs
type RunKind string

const (
	KindSeries  RunKind = "series"
	KindVpin    RunKind = "vpin"
	KindPremium RunKind = "premium"
)

// RunStatus is the terminal outcome of one run
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunSkipped   RunStatus = "skipped"
	RunFailed    RunStatus = "failed"
	RunCoalesced RunStatus = "coalesced"
)

// Event types pushed to notifiers
const (
	EventRecordsWritten = "records_written"
	EventRunFailed      = "run_failed"
)

// SeriesKey identifies a (instrument, resolution, vpin) pipeline. vpinID 0 is the time clock.
func SeriesKey(instrumentID int64, res domain.Resolution, vpinID int64) string {
	return fmt.Sprintf("series:%d:%s:%d", instrumentID, res, vpinID)
}

// PremiumKey identifies a (spot, derivative, resolution) premium pipeline.
func PremiumKey(spotID, derivID int64, res domain.Resolution) string {
	return fmt.Sprintf("premium:%d:%d:%s", spotID, derivID, res)
}

// VpinKey identifies an imbalance bar builder for one instrument.
func VpinKey(instrumentID, vpinID int64) string {
	return fmt.Sprintf("vpin:%d:%d", instrumentID, vpinID)
}

// Overrides replace pipeline parameters for a single request. Nil fields keep the
// configured value.
type Overrides struct {
	Fdim         *float64 `json:"fdim,omitempty" validate:"omitempty,gt=0,lt=1"`
	Thresh       *float64 `json:"thresh,omitempty" validate:"omitempty,gt=0"`
	MaxIMFs      *int     `json:"max_imfs,omitempty" validate:"omitempty,gte=1"`
	BackoffTicks *int     `json:"backoff_ticks,omitempty" validate:"omitempty,gte=1"`
}

// PipelineRequest is an on-demand run over one instrument, or a spot/derivative
// pair when two instruments are given.
type PipelineRequest struct {
	Resolution  domain.Resolution   `json:"resolution"`
	Instruments []domain.Instrument `json:"instruments"`
	Overrides   Overrides           `json:"overrides"`
}

// Validate checks the request shape.
func (r PipelineRequest) Validate() error {
	if !r.Resolution.Valid() {
		return apperrors.NewInvalidParameterError("resolution", r.Resolution)
	}
	switch len(r.Instruments) {
	case 1, 2:
	default:
		return apperrors.NewAppValidationError(
			fmt.Sprintf("want one instrument or a pair, got %d", len(r.Instruments)))
	}
	for _, inst := range r.Instruments {
		if inst.ID <= 0 || inst.Symbol == "" {
			return apperrors.NewInvalidParameterError("instrument", inst)
		}
	}
	return nil
}

// Params are the resolved feature parameters of one run.
type Params struct {
	Fdim             float64 `json:"fdim"`
	Thresh           float64 `json:"thresh"`
	MaxIMFs          int     `json:"max_imfs"`
	BackoffTicks     int     `json:"backoff_ticks"`
	DifferenceVolume bool    `json:"difference_volume"`
	SDThresh         float64 `json:"sd_thresh"`
	MaxSiftIters     int     `json:"max_sift_iters"`
	SampleRate       float64 `json:"sample_rate"`
}

// ParamsFrom maps the pipeline section of the application config.
func ParamsFrom(cfg config.PipelineConfig) Params {
	return Params{
		Fdim:             cfg.Fdim,
		Thresh:           cfg.Thresh,
		MaxIMFs:          cfg.MaxIMFs,
		BackoffTicks:     cfg.BackoffTicks,
		DifferenceVolume: cfg.DifferenceVolume,
		SDThresh:         cfg.SDThresh,
		MaxSiftIters:     cfg.MaxSiftIters,
		SampleRate:       cfg.SampleRate,
	}
}

// With applies o on top of p.
func (p Params) With(o Overrides) Params {
	if o.Fdim != nil {
		p.Fdim = *o.Fdim
	}
	if o.Thresh != nil {
		p.Thresh = *o.Thresh
	}
	if o.MaxIMFs != nil {
		p.MaxIMFs = *o.MaxIMFs
	}
	if o.BackoffTicks != nil {
		p.BackoffTicks = *o.BackoffTicks
	}
	return p
}

// Validate checks p against the spectrum width the store was created with.
func (p Params) Validate(width int) error {
	if err := p.FracDiff(0).Validate(); err != nil {
		return err
	}
	if err := p.EMD().Validate(); err != nil {
		return err
	}
	if p.MaxIMFs > width {
		return apperrors.NewAppValidationError(
			fmt.Sprintf("max_imfs %d exceeds store width %d", p.MaxIMFs, width))
	}
	if p.BackoffTicks < 1 || p.BackoffTicks > math.MaxInt32 {
		return apperrors.NewInvalidParameterError("backoff_ticks", p.BackoffTicks)
	}
	return nil
}

// FracDiff returns the differencing parameters for a series tagged vpinID.
func (p Params) FracDiff(vpinID int64) features.FracDiffParams {
	return features.FracDiffParams{
		Fdim:             p.Fdim,
		Thresh:           p.Thresh,
		DifferenceVolume: p.DifferenceVolume,
		VpinID:           vpinID,
	}
}

// EMD returns the decomposition parameters.
func (p Params) EMD() features.EMDParams {
	return features.EMDParams{
		MaxIMFs:      p.MaxIMFs,
		SDThresh:     p.SDThresh,
		MaxSiftIters: p.MaxSiftIters,
		SampleRate:   p.SampleRate,
	}
}

// RunResult reports one run back to the caller that requested it.
type RunResult struct {
	Kind    RunKind        `json:"kind"`
	Key     string         `json:"key"`
	Status  RunStatus      `json:"status"`
	Records map[string]int `json:"records,omitempty"`
	Steps   []StepSummary  `json:"steps,omitempty"`
	Message string         `json:"message,omitempty"`
	Elapsed float64        `json:"elapsed_seconds"`
}

// StepSummary is the JSON view of a finished step.
type StepSummary struct {
	ID       string     `json:"id"`
	Status   StepStatus `json:"status"`
	Duration float64    `json:"duration_seconds"`
	Message  string     `json:"message,omitempty"`
}

// Notification is pushed to notifiers after a run commits or fails.
type Notification struct {
	Type         string         `json:"type"`
	Kind         RunKind        `json:"kind"`
	Key          string         `json:"key"`
	InstrumentID int64          `json:"instrument_id,omitempty"`
	VpinID       int64          `json:"vpin_id,omitempty"`
	Resolution   string         `json:"resolution,omitempty"`
	Records      map[string]int `json:"records,omitempty"`
	Error        string         `json:"error,omitempty"`
	TraceID      string         `json:"trace_id,omitempty"`
	Time         time.Time      `json:"time"`
}
