package memory

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"github.com/spf13/cast"
	"gonum.org/v1/gonum/stat"

	"github.com/ethpandaops/dqc/pkg/backend/predicate"
	"github.com/ethpandaops/dqc/pkg/metrics"
)

// Numeric converts the non-null values of a column to floats.
func Numeric(values []any, keep func(i int) bool) ([]float64, error) {
	out := make([]float64, 0, len(values))

	for i, value := range values {
		if keep != nil && !keep(i) {
			continue
		}

		if predicate.IsNull(value) {
			continue
		}

		f, err := cast.ToFloat64E(value)
		if err != nil {
			return nil, fmt.Errorf("%w: non numeric value %v: %w", metrics.ErrMetricResolution, value, err)
		}

		out = append(out, f)
	}

	return out, nil
}

// Summarize computes one column aggregate over numeric values. An empty input
// has no value.
func Summarize(name string, data []float64, ddof int) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var (
		value float64
		err   error
	)

	switch name {
	case metrics.ColumnMin:
		value, err = stats.Min(data)
	case metrics.ColumnMax:
		value, err = stats.Max(data)
	case metrics.ColumnSum:
		value, err = stats.Sum(data)
	case metrics.ColumnMean:
		value, err = stats.Mean(data)
	case metrics.ColumnMedian:
		value, err = stats.Median(data)
	case metrics.ColumnStandardDeviation:
		return StandardDeviation(data, ddof), nil
	default:
		return nil, fmt.Errorf("%w: %s", metrics.ErrUnsupportedMetric, name)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", metrics.ErrMetricResolution, name, err)
	}

	return value, nil
}

// StandardDeviation returns the standard deviation with ddof delta degrees of
// freedom, or nil when there are not more values than ddof.
func StandardDeviation(data []float64, ddof int) any {
	return NewMoments(data).StandardDeviation(ddof)
}

// Moments is the count, mean and sum of squared deviations from the mean of a
// sample. Partial moments merge without revisiting the values.
type Moments struct {
	N    int
	Mean float64
	M2   float64
}

// NewMoments computes the moments of a sample.
func NewMoments(data []float64) Moments {
	n := len(data)

	switch n {
	case 0:
		return Moments{}
	case 1:
		return Moments{N: 1, Mean: data[0]}
	}

	mean, variance := stat.MeanVariance(data, nil)

	return Moments{N: n, Mean: mean, M2: variance * float64(n-1)}
}

// ShiftedMoments recovers the moments from a count, the sum of value - shift
// and the sum of (value - shift)^2. A shift close to the mean keeps both sums
// small, so the subtraction does not cancel.
func ShiftedMoments(n int, shift, sum, sumSq float64) Moments {
	if n == 0 {
		return Moments{}
	}

	count := float64(n)

	return Moments{
		N:    n,
		Mean: shift + sum/count,
		M2:   math.Max(sumSq-sum*sum/count, 0),
	}
}

// Merge combines the moments of two disjoint samples.
func (m Moments) Merge(other Moments) Moments {
	if other.N == 0 {
		return m
	}

	if m.N == 0 {
		return other
	}

	n := m.N + other.N
	delta := other.Mean - m.Mean
	weight := float64(m.N) * float64(other.N) / float64(n)

	return Moments{
		N:    n,
		Mean: m.Mean + delta*float64(other.N)/float64(n),
		M2:   m.M2 + other.M2 + delta*delta*weight,
	}
}

// StandardDeviation returns the standard deviation with ddof delta degrees of
// freedom, or nil when there are not more values than ddof.
func (m Moments) StandardDeviation(ddof int) any {
	if m.N-ddof <= 0 {
		return nil
	}

	return math.Sqrt(math.Max(m.M2, 0) / float64(m.N-ddof))
}
