package analytics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	// MaxCompressedPoints bounds series length before correlation.
	MaxCompressedPoints = 12
	minOverlapPoints    = 3

	strongCorrelation = 0.45
	weakCorrelation   = 0.20
)

// CompressSeries averages values into at most maxPoints equal-width buckets.
// Series already within the bound are returned as a copy.
func CompressSeries(values []float64, maxPoints int) []float64 {
	if maxPoints <= 0 || len(values) <= maxPoints {
		return append([]float64(nil), values...)
	}
	size := int(math.Ceil(float64(len(values)) / float64(maxPoints)))
	out := make([]float64, 0, maxPoints)
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		var sum float64
		for _, v := range values[start:end] {
			sum += v
		}
		out = append(out, sum/float64(end-start))
	}
	return out
}

// Correlation returns the Pearson correlation of the overlapping prefix of a
// and b, rounded to two decimals. Fewer than three overlapping points, or a
// constant series, yields 0.
func Correlation(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < minOverlapPoints {
		return 0
	}
	c := stat.Correlation(a[:n], b[:n], nil)
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0
	}
	return math.Round(c*100) / 100
}

// Movement describes how two theme series move relative to each other.
type Movement struct {
	FromSeries  []float64 `json:"fromSeries"`
	ToSeries    []float64 `json:"toSeries"`
	Correlation float64   `json:"correlation"`
	Summary     string    `json:"summary"`
}

// CompareSeries compresses both series, correlates them and phrases the result.
func CompareSeries(fromLabel string, from []float64, toLabel string, to []float64) Movement {
	fromSeries := CompressSeries(from, MaxCompressedPoints)
	toSeries := CompressSeries(to, MaxCompressedPoints)
	c := Correlation(fromSeries, toSeries)
	return Movement{
		FromSeries:  roundAll(fromSeries),
		ToSeries:    roundAll(toSeries),
		Correlation: c,
		Summary:     MovementSummary(fromLabel, toLabel, c),
	}
}

// MovementSummary phrases a correlation without implying cause.
func MovementSummary(fromLabel, toLabel string, c float64) string {
	abs := math.Abs(c)
	switch {
	case abs >= strongCorrelation && c > 0:
		return fmt.Sprintf("%s and %s tend to move together in this range. This shows timing, not cause.", fromLabel, toLabel)
	case abs >= strongCorrelation:
		return fmt.Sprintf("%s and %s tend to move in opposite directions in this range. This shows timing, not cause.", fromLabel, toLabel)
	case abs >= weakCorrelation && c > 0:
		return fmt.Sprintf("%s and %s sometimes move together. This shows timing, not cause.", fromLabel, toLabel)
	case abs >= weakCorrelation:
		return fmt.Sprintf("%s and %s sometimes move in opposite directions. This shows timing, not cause.", fromLabel, toLabel)
	default:
		return fmt.Sprintf("%s and %s show a mixed pattern over this range.", fromLabel, toLabel)
	}
}

func roundAll(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = math.Round(v*100) / 100
	}
	return out
}
