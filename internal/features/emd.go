package features

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	apperrors "featureflow/internal/errors"
	"featureflow/pkg/contracts/domain"
)

const (
	// minEMDSamples is the shortest series EMD will decompose.
	minEMDSamples = 4
	// negligibleEnergy stops decomposition once the residual carries no signal.
	negligibleEnergy = 1e-8
)

// EMDParams configures decomposition and spectral extraction.
type EMDParams struct {
	// MaxIMFs is K, the fixed width of every output spectrum.
	MaxIMFs int
	// SDThresh stops sifting when the normalised squared change drops below it.
	SDThresh float64
	// MaxSiftIters bounds sifting per mode.
	MaxSiftIters int
	// SampleRate overrides the rate derived from the epochs when positive.
	SampleRate float64
}

// DefaultEMDParams returns the standard stopping rules for width k.
func DefaultEMDParams(k int) EMDParams {
	return EMDParams{MaxIMFs: k, SDThresh: 0.2, MaxSiftIters: 1000}
}

// Validate checks the parameter domain.
func (p EMDParams) Validate() error {
	if p.MaxIMFs < 1 {
		return apperrors.NewInvalidParameterError("max_imfs", p.MaxIMFs)
	}
	if math.IsNaN(p.SDThresh) || p.SDThresh <= 0 {
		return apperrors.NewInvalidParameterError("sd_thresh", p.SDThresh)
	}
	if p.MaxSiftIters < 1 {
		return apperrors.NewInvalidParameterError("max_sift_iters", p.MaxSiftIters)
	}
	if math.IsNaN(p.SampleRate) || p.SampleRate < 0 {
		return apperrors.NewInvalidParameterError("sample_rate", p.SampleRate)
	}
	return nil
}

// Decomposition is the result of EMD: IMFs ordered from highest to lowest
// frequency plus the monotone (or extremum-poor) residual trend.
type Decomposition struct {
	IMFs     [][]float64
	Residual []float64
}

// Reconstruct sums every IMF and the residual.
func (d Decomposition) Reconstruct() []float64 {
	out := make([]float64, len(d.Residual))
	copy(out, d.Residual)
	for _, imf := range d.IMFs {
		floats.Add(out, imf)
	}
	return out
}

// Decompose runs empirical mode decomposition on x. At most p.MaxIMFs modes are
// extracted; decomposition stops early when the residual has no maximum or no
// minimum left, or its energy is negligible.
func Decompose(x []float64, p EMDParams) (Decomposition, error) {
	if err := p.Validate(); err != nil {
		return Decomposition{}, err
	}
	if len(x) < minEMDSamples {
		return Decomposition{}, apperrors.NewInsufficientDataError(
			fmt.Sprintf("EMD needs at least %d samples, got %d", minEMDSamples, len(x)))
	}
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Decomposition{}, apperrors.NewAppValidationError(
				fmt.Sprintf("non-finite sample at index %d", i))
		}
	}

	residual := make([]float64, len(x))
	copy(residual, x)
	var imfs [][]float64

	for len(imfs) < p.MaxIMFs {
		maxima, minima := findExtrema(residual)
		if len(maxima) == 0 || len(minima) == 0 {
			break
		}
		imf, err := sift(residual, p)
		if err != nil {
			return Decomposition{}, err
		}
		if imf == nil || sumAbs(imf) < negligibleEnergy {
			break
		}
		imfs = append(imfs, imf)
		floats.Sub(residual, imf)
		if sumAbs(residual) < negligibleEnergy {
			break
		}
	}
	return Decomposition{IMFs: imfs, Residual: residual}, nil
}

// sift extracts one IMF from x by repeatedly subtracting the mean of the upper and
// lower envelopes. It returns nil when x stops having envelopes on the first pass.
func sift(x []float64, p EMDParams) ([]float64, error) {
	h := make([]float64, len(x))
	copy(h, x)

	for iter := 0; iter < p.MaxSiftIters; iter++ {
		maxima, minima := findExtrema(h)
		if len(maxima) == 0 || len(minima) == 0 {
			if iter == 0 {
				return nil, nil
			}
			return h, nil
		}
		upper, err := splineEnvelope(h, maxima)
		if err != nil {
			return nil, err
		}
		lower, err := splineEnvelope(h, minima)
		if err != nil {
			return nil, err
		}

		next := make([]float64, len(h))
		var num, den float64
		for t := range h {
			next[t] = h[t] - (upper[t]+lower[t])/2
			d := h[t] - next[t]
			num += d * d
			den += h[t] * h[t]
		}
		h = next
		if den == 0 || num/den < p.SDThresh {
			break
		}
	}
	return h, nil
}

func sumAbs(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += math.Abs(v)
	}
	return s
}

// SampleRate derives samples per second from the first and last epoch.
func SampleRate(epochs []time.Time) (float64, error) {
	if len(epochs) < 2 {
		return 0, apperrors.NewInsufficientDataError("sample rate needs at least two epochs")
	}
	elapsed := epochs[len(epochs)-1].Sub(epochs[0]).Seconds()
	if elapsed <= 0 {
		return 0, apperrors.NewInsufficientDataError("epochs span no time")
	}
	return float64(len(epochs)) / elapsed, nil
}

// ExtractSpectra decomposes x and returns one spectrum per sample. Every spectrum
// has width p.MaxIMFs; modes that were not found are NaN.
func ExtractSpectra(epochs []time.Time, x []float64, p EMDParams) ([]domain.Spectrum, error) {
	if len(epochs) != len(x) {
		return nil, apperrors.NewAppValidationError(
			fmt.Sprintf("epochs (%d) and samples (%d) differ in length", len(epochs), len(x)))
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(x) < minEMDSamples {
		return nil, apperrors.NewInsufficientDataError(
			fmt.Sprintf("EMD needs at least %d samples, got %d", minEMDSamples, len(x)))
	}
	sr := p.SampleRate
	if sr == 0 {
		var err error
		if sr, err = SampleRate(epochs); err != nil {
			return nil, err
		}
	}

	dec, err := Decompose(x, p)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Spectrum, len(x))
	for t := range out {
		out[t] = domain.NewSpectrum(p.MaxIMFs, len(dec.IMFs))
	}
	for m, imf := range dec.IMFs {
		hs, err := HilbertSpectrum(imf, sr)
		if err != nil {
			return nil, err
		}
		for t := range out {
			out[t].IMF[m] = imf[t]
			out[t].IF[m] = hs.Frequency[t]
			out[t].IA[m] = hs.Amplitude[t]
			out[t].IP[m] = hs.Power[t]
		}
	}
	return out, nil
}

// EMDRecords pairs spectra with the FFD records they were computed from.
func EMDRecords(ffd []domain.FfdRecord, p EMDParams) ([]domain.EmdRecord, error) {
	if len(ffd) == 0 {
		return nil, apperrors.NewInsufficientDataError("no differenced records")
	}
	epochs := make([]time.Time, len(ffd))
	closes := make([]float64, len(ffd))
	for i, r := range ffd {
		epochs[i], closes[i] = r.Epoch, r.Close
	}
	spectra, err := ExtractSpectra(epochs, closes, p)
	if err != nil {
		return nil, err
	}
	out := make([]domain.EmdRecord, len(ffd))
	for i, r := range ffd {
		out[i] = domain.EmdRecord{
			InstrumentID: r.InstrumentID,
			Resolution:   r.Resolution,
			VpinID:       r.VpinID,
			Fdim:         r.Fdim,
			Epoch:        r.Epoch,
			Spectrum:     spectra[i],
		}
	}
	return out, nil
}
