package features

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"

	apperrors "featureflow/internal/errors"
)

const (
	normaliseMaxIters = 10
	normaliseTol      = 1e-10
)

// HilbertResult holds the spectral channels of a single IMF.
type HilbertResult struct {
	Frequency []float64 // instantaneous frequency, Hz
	Amplitude []float64 // instantaneous amplitude
	Power     []float64 // amplitude squared
}

// HilbertSpectrum computes the normalised Hilbert transform features of one IMF.
// Phase comes from the amplitude-normalised IMF, amplitude from the raw IMF.
func HilbertSpectrum(imf []float64, sampleRate float64) (HilbertResult, error) {
	n := len(imf)
	if n < minEMDSamples {
		return HilbertResult{}, apperrors.NewInsufficientDataError("IMF too short for Hilbert transform")
	}
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return HilbertResult{}, apperrors.NewInvalidParameterError("sample_rate", sampleRate)
	}

	norm, err := AmplitudeNormalise(imf)
	if err != nil {
		return HilbertResult{}, err
	}

	phaseSignal := AnalyticSignal(norm)
	phase := make([]float64, n)
	for i, z := range phaseSignal {
		phase[i] = cmplx.Phase(z)
	}
	phase = Unwrap(phase)

	freq := Gradient(phase)
	floats.Scale(sampleRate/(2*math.Pi), freq)

	raw := AnalyticSignal(imf)
	amp := make([]float64, n)
	power := make([]float64, n)
	for i, z := range raw {
		amp[i] = cmplx.Abs(z)
		power[i] = amp[i] * amp[i]
	}
	return HilbertResult{Frequency: freq, Amplitude: amp, Power: power}, nil
}

// AnalyticSignal returns x + i*H(x) computed in the frequency domain: negative
// frequencies are zeroed and positive ones doubled.
func AnalyticSignal(x []float64) []complex128 {
	n := len(x)
	if n == 0 {
		return nil
	}
	seq := make([]complex128, n)
	for i, v := range x {
		seq[i] = complex(v, 0)
	}
	fft := fourier.NewCmplxFFT(n)
	coeff := fft.Coefficients(nil, seq)

	for k := range coeff {
		coeff[k] *= complex(hilbertMultiplier(k, n), 0)
	}

	// inverse DFT as conj(DFT(conj(X)))/n, independent of the library's inverse scaling
	for k := range coeff {
		coeff[k] = cmplx.Conj(coeff[k])
	}
	out := fft.Coefficients(nil, coeff)
	scale := complex(1/float64(n), 0)
	for i := range out {
		out[i] = cmplx.Conj(out[i]) * scale
	}
	return out
}

func hilbertMultiplier(k, n int) float64 {
	switch {
	case k == 0:
		return 1
	case n%2 == 0 && k == n/2:
		return 1
	case k < (n+1)/2:
		return 2
	default:
		return 0
	}
}

// AmplitudeNormalise repeatedly divides x by a spline envelope of |x| until that
// envelope is flat at one. It gives up quietly when no envelope can be built.
func AmplitudeNormalise(x []float64) ([]float64, error) {
	out := make([]float64, len(x))
	copy(out, x)

	env, ok, err := absEnvelope(out)
	if err != nil {
		return nil, err
	}
	for iter := 0; ok && iter < normaliseMaxIters; iter++ {
		for i := range out {
			out[i] /= env[i]
		}
		if env, ok, err = absEnvelope(out); err != nil {
			return nil, err
		}
		if ok && math.Abs(floats.Sum(env)-float64(len(env))) < normaliseTol {
			break
		}
	}
	return out, nil
}

// absEnvelope fits the upper envelope of |x|. ok is false when there are no peaks
// or the envelope touches zero.
func absEnvelope(x []float64) ([]float64, bool, error) {
	abs := make([]float64, len(x))
	for i, v := range x {
		abs[i] = math.Abs(v)
	}
	peaks, _ := findExtrema(abs)
	if len(peaks) == 0 {
		return nil, false, nil
	}
	env, err := splineEnvelope(abs, peaks)
	if err != nil {
		return nil, false, err
	}
	if floats.Min(env) <= 0 {
		return nil, false, nil
	}
	return env, true, nil
}

// Unwrap removes 2*pi jumps between consecutive phase samples.
func Unwrap(phase []float64) []float64 {
	out := make([]float64, len(phase))
	if len(phase) == 0 {
		return out
	}
	out[0] = phase[0]
	var offset float64
	for i := 1; i < len(phase); i++ {
		d := phase[i] - phase[i-1]
		switch {
		case d > math.Pi:
			offset -= 2 * math.Pi * math.Ceil((d-math.Pi)/(2*math.Pi))
		case d < -math.Pi:
			offset += 2 * math.Pi * math.Ceil((-d-math.Pi)/(2*math.Pi))
		}
		out[i] = phase[i] + offset
	}
	return out
}

// Gradient returns the unit-spacing derivative of y using central differences in
// the interior and one-sided differences at the ends.
func Gradient(y []float64) []float64 {
	n := len(y)
	out := make([]float64, n)
	if n < 2 {
		return out
	}
	out[0] = y[1] - y[0]
	out[n-1] = y[n-1] - y[n-2]
	for i := 1; i < n-1; i++ {
		out[i] = (y[i+1] - y[i-1]) / 2
	}
	return out
}
