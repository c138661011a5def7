// Package uncertainty propagates counting errors through sums, ratios and
// products of correlated quantities, using the first-order formulas from
// https://en.wikipedia.org/wiki/Propagation_of_uncertainty#Example_formulas.
//
// Terms whose denominator is zero, or that evaluate to a non-finite value,
// contribute nothing. This keeps zero-count cells from poisoning a whole
// table, at the cost of understating their error. A negative variance, which
// the table-wide covariance approximation can produce for small cells, is
// clamped to zero.
package uncertainty

import (
	"fmt"
	"math"
)

// SumError returns the absolute error of a + b.
func SumError(aErr, bErr, covariance float64) float64 {
	return root(aErr*aErr + bErr*bErr + 2*covariance)
}

// RatioRelativeError returns the relative error of num / den.
func RatioRelativeError(num, den, numErr, denErr, covariance float64) float64 {
	numTerm := square(safeDiv(numErr, num))
	denTerm := square(safeDiv(denErr, den))
	covTerm := 2 * safeDiv(covariance, num*den)
	return root(numTerm + denTerm - covTerm)
}

// ProductRelativeError returns the relative error of a * b.
// If either a or b is zero its contribution is zero.
func ProductRelativeError(a, b, aErr, bErr, covariance float64) float64 {
	aTerm := square(safeDiv(aErr, a))
	bTerm := square(safeDiv(bErr, b))
	covTerm := 2 * safeDiv(covariance, a*b)
	return root(aTerm + bTerm + covTerm)
}

// SumErrors applies SumError elementwise with one shared covariance.
func SumErrors(aErr, bErr []float64, covariance float64) ([]float64, error) {
	if err := aligned(len(aErr), len(bErr)); err != nil {
		return nil, err
	}
	out := make([]float64, len(aErr))
	for i := range aErr {
		out[i] = SumError(aErr[i], bErr[i], covariance)
	}
	return out, nil
}

// RatioRelativeErrors applies RatioRelativeError elementwise with one shared covariance.
func RatioRelativeErrors(num, den, numErr, denErr []float64, covariance float64) ([]float64, error) {
	if err := aligned(len(num), len(den), len(numErr), len(denErr)); err != nil {
		return nil, err
	}
	out := make([]float64, len(num))
	for i := range num {
		out[i] = RatioRelativeError(num[i], den[i], numErr[i], denErr[i], covariance)
	}
	return out, nil
}

// ProductRelativeErrors applies ProductRelativeError elementwise with one shared covariance.
func ProductRelativeErrors(a, b, aErr, bErr []float64, covariance float64) ([]float64, error) {
	if err := aligned(len(a), len(b), len(aErr), len(bErr)); err != nil {
		return nil, err
	}
	out := make([]float64, len(a))
	for i := range a {
		out[i] = ProductRelativeError(a[i], b[i], aErr[i], bErr[i], covariance)
	}
	return out, nil
}

// Covariance returns the sample covariance (n-1 denominator) of x and y.
// Fewer than two observations give zero.
func Covariance(x, y []float64) (float64, error) {
	if err := aligned(len(x), len(y)); err != nil {
		return 0, err
	}
	n := len(x)
	if n < 2 {
		return 0, nil
	}

	var meanX, meanY float64
	for i := 0; i < n; i++ {
		meanX += x[i]
		meanY += y[i]
	}
	meanX /= float64(n)
	meanY /= float64(n)

	var sum float64
	for i := 0; i < n; i++ {
		sum += (x[i] - meanX) * (y[i] - meanY)
	}
	return sum / float64(n-1), nil
}

// CountingErrors returns sqrt(c) for every count, the Poisson approximation.
func CountingErrors(counts []float64) []float64 {
	out := make([]float64, len(counts))
	for i, c := range counts {
		out[i] = root(c)
	}
	return out
}

func safeDiv(a, b float64) float64 {
	v := a / b
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func square(v float64) float64 {
	return v * v
}

func root(variance float64) float64 {
	if variance <= 0 || math.IsNaN(variance) {
		return 0
	}
	return math.Sqrt(variance)
}

func aligned(lengths ...int) error {
	for _, l := range lengths[1:] {
		if l != lengths[0] {
			return fmt.Errorf("series are not aligned: lengths %v", lengths)
		}
	}
	return nil
}
