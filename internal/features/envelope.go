package features

import (
	"fmt"

	"gonum.org/v1/gonum/interp"

	apperrors "featureflow/internal/errors"
)

// mirrorKnots is how many extrema are reflected beyond each end of the signal.
const mirrorKnots = 2

// findExtrema returns the interior local maxima and minima of x. A flat run counts
// as one extremum located at its middle sample when both neighbours of the run are
// on the same side. Endpoints are never extrema.
func findExtrema(x []float64) (maxima, minima []int) {
	n := len(x)
	if n < 3 {
		return nil, nil
	}
	i := 1
	for i < n-1 {
		// extend across a plateau starting at i
		j := i
		for j < n-1 && x[j+1] == x[i] {
			j++
		}
		if j == n-1 {
			break
		}
		left, right := x[i-1], x[j+1]
		mid := (i + j) / 2
		switch {
		case x[i] > left && x[i] > right:
			maxima = append(maxima, mid)
		case x[i] < left && x[i] < right:
			minima = append(minima, mid)
		}
		i = j + 1
	}
	return maxima, minima
}

// splineEnvelope evaluates a natural cubic spline through (idx, x[idx]) at every
// sample 0..n-1. The first and last mirrorKnots extrema are reflected about the
// signal boundaries so the spline is anchored beyond the ends.
func splineEnvelope(x []float64, idx []int) (env []float64, err error) {
	n := len(x)
	if len(idx) == 0 {
		return nil, apperrors.NewComputationError("no knots for envelope", nil)
	}

	xs := make([]float64, 0, len(idx)+2*mirrorKnots)
	ys := make([]float64, 0, len(idx)+2*mirrorKnots)

	for j := min(mirrorKnots, len(idx)) - 1; j >= 0; j-- {
		if t := -idx[j]; t < 0 {
			xs = append(xs, float64(t))
			ys = append(ys, x[idx[j]])
		}
	}
	for _, k := range idx {
		xs = append(xs, float64(k))
		ys = append(ys, x[k])
	}
	last := len(idx) - 1
	for j := last; j >= 0 && j > last-mirrorKnots; j-- {
		if t := 2*(n-1) - idx[j]; t > n-1 {
			xs = append(xs, float64(t))
			ys = append(ys, x[idx[j]])
		}
	}
	if len(xs) < 2 {
		return nil, apperrors.NewComputationError("envelope needs at least two knots", nil)
	}

	defer func() {
		if r := recover(); r != nil {
			env = nil
			err = apperrors.NewComputationError(fmt.Sprintf("spline fit panicked: %v", r), nil)
		}
	}()

	var spline interp.NaturalCubic
	if err := spline.Fit(xs, ys); err != nil {
		return nil, apperrors.NewComputationError("spline fit failed", err)
	}
	env = make([]float64, n)
	for t := 0; t < n; t++ {
		env[t] = spline.Predict(float64(t))
	}
	return env, nil
}
