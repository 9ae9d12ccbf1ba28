package operations

import (
	"context"

	apperrors "featureflow/internal/errors"
	"featureflow/internal/features"
	"featureflow/pkg/contracts/domain"
)

// ResampleStep aggregates the fetched bars to the run's resolution.
type ResampleStep struct {
	stepBase
}

// NewResampleStep creates the resample step
func NewResampleStep() *ResampleStep {
	return &ResampleStep{stepBase: newStepBase(StageIDResample, StageNameResample)}
}

// Validate requires fetched input.
func (s *ResampleStep) Validate(state *OperationState) error {
	if len(state.Input) == 0 && len(state.VpinInput) == 0 {
		return apperrors.NewInsufficientDataError("no input bars")
	}
	return nil
}

// Execute fills state.Series. Imbalance bars are resampled with their buy/sell
// split and then flattened to plain bars.
func (s *ResampleStep) Execute(ctx context.Context, state *OperationState) error {
	var bars []domain.Bar
	if len(state.VpinInput) > 0 {
		vb, err := features.ResampleVpin(state.VpinInput, state.Resolution)
		if err != nil {
			return err
		}
		bars = make([]domain.Bar, len(vb))
		for i, b := range vb {
			bars[i] = b.AsBar()
		}
	} else {
		var err error
		if bars, err = features.Resample(state.Input, state.Resolution); err != nil {
			return err
		}
	}

	state.Series = domain.Series{
		InstrumentID: state.Instrument.ID,
		Resolution:   state.Resolution,
		Bars:         bars,
	}
	return nil
}

// FracDiffStep fractionally differences the resampled series.
type FracDiffStep struct {
	stepBase
}

// NewFracDiffStep creates the differencing step
func NewFracDiffStep() *FracDiffStep {
	return &FracDiffStep{stepBase: newStepBase(StageIDFracDiff, StageNameFracDiff, StageIDResample)}
}

// Validate requires a resampled series.
func (s *FracDiffStep) Validate(state *OperationState) error {
	if state.Series.Len() == 0 {
		return apperrors.NewInsufficientDataError("empty resampled series")
	}
	return nil
}

// Execute fills state.Ffd.
func (s *FracDiffStep) Execute(ctx context.Context, state *OperationState) error {
	ffd, err := features.FracDiff(state.Series, state.Params.FracDiff(state.VpinID))
	if err != nil {
		return err
	}
	state.Ffd = ffd
	return nil
}

// EMDStep extracts the Hilbert spectrum of the differenced close.
type EMDStep struct {
	stepBase
}

// NewEMDStep creates the spectral step
func NewEMDStep() *EMDStep {
	return &EMDStep{stepBase: newStepBase(StageIDEMD, StageNameEMD, StageIDFracDiff)}
}

// Validate requires differenced records.
func (s *EMDStep) Validate(state *OperationState) error {
	if len(state.Ffd) == 0 {
		return apperrors.NewInsufficientDataError("no differenced records")
	}
	return nil
}

// Execute fills state.Emd.
func (s *EMDStep) Execute(ctx context.Context, state *OperationState) error {
	emd, err := features.EMDRecords(state.Ffd, state.Params.EMD())
	if err != nil {
		return err
	}
	state.Emd = emd
	return nil
}

// produced counts what a step wrote into state.
func produced(stepID string, state *OperationState) int {
	switch stepID {
	case StageIDResample:
		return state.Series.Len()
	case StageIDFracDiff:
		return len(state.Ffd)
	case StageIDEMD:
		return len(state.Emd)
	}
	return 0
}
