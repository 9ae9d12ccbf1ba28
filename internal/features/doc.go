// Package features implements the numerical core of featureflow: resampling,
// fixed-window fractional differencing, empirical mode decomposition with
// Hilbert spectral features, volume-imbalance (VPIN) bars and the spot/derivative
// premium index.
//
// Every function in this package is pure: inputs are never mutated, there is no
// I/O and no shared state, so callers may run any number of computations
// concurrently. Failures are reported with the application error taxonomy:
//
//   - ValidationError: parameters outside their domain or malformed input
//   - InsufficientDataError: input too short to produce any output
//   - ComputationError: numerical failure such as an unfittable spline
//
// # Files
//
//   - resample.go: OHLC aggregation onto UTC-aligned buckets
//   - fracdiff.go: truncated binomial weights and their convolution
//   - emd.go, envelope.go: extrema detection, spline envelopes and sifting
//   - hilbert.go: analytic signal, amplitude normalisation and IA/IF/IP
//   - imbalance.go: tick-rule signed volume and EWMA thresholded bars
//   - premium.go: pair validation and the premium index
//
// # Usage Example
//
//	bars, err := features.Resample(raw, domain.Res5Min)
//	if err != nil {
//	    return err
//	}
//	ffd, err := features.FracDiff(series, features.FracDiffParams{Fdim: 0.3, Thresh: 1e-4})
//	if err != nil {
//	    return err
//	}
//	spectra, err := features.ExtractSpectra(epochs, closes, features.DefaultEMDParams(16))
package features
