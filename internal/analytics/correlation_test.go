package analytics

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCorrelation_TooFewPoints(t *testing.T) {
	require.Equal(t, 0.0, Correlation([]float64{1, 2}, []float64{2, 4}))
	require.Equal(t, 0.0, Correlation([]float64{1, 2, 3}, []float64{2, 4}))
}

func TestCorrelation_KnownValues(t *testing.T) {
	require.Equal(t, 1.0, Correlation([]float64{1, 2, 3, 4}, []float64{2, 4, 6, 8}))
	require.Equal(t, -1.0, Correlation([]float64{1, 2, 3, 4}, []float64{8, 6, 4, 2}))
	require.Equal(t, 0.0, Correlation([]float64{1, 1, 1, 1}, []float64{8, 6, 4, 2}))
}

func TestCorrelation_Symmetric(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 40).Draw(t, "n")
		a := rapid.SliceOfN(rapid.Float64Range(0, 1), n, n).Draw(t, "a")
		b := rapid.SliceOfN(rapid.Float64Range(0, 1), n, n).Draw(t, "b")
		if ab, ba := Correlation(a, b), Correlation(b, a); ab != ba {
			t.Fatalf("corr(a,b)=%v corr(b,a)=%v", ab, ba)
		}
	})
}

func TestCompressSeries_Bounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		values := rapid.SliceOfN(rapid.Float64Range(0, 1), 0, 800).Draw(t, "values")
		out := CompressSeries(values, MaxCompressedPoints)
		if len(out) > MaxCompressedPoints && len(values) > MaxCompressedPoints {
			t.Fatalf("compressed %d values into %d points", len(values), len(out))
		}
		if len(values) <= MaxCompressedPoints && len(out) != len(values) {
			t.Fatalf("short series changed length: %d -> %d", len(values), len(out))
		}
		for _, v := range out {
			if v < 0 || v > 1 {
				t.Fatalf("bucket mean out of range: %v", v)
			}
		}
	})
}

func TestCompressSeries_AveragesBuckets(t *testing.T) {
	values := make([]float64, 24)
	for i := range values {
		values[i] = float64(i % 2)
	}
	out := CompressSeries(values, 12)
	require.Len(t, out, 12)
	for _, v := range out {
		require.Equal(t, 0.5, v)
	}
}

func TestMovementSummary(t *testing.T) {
	require.Contains(t, MovementSummary("Sleep", "Mood", 0.8), "tend to move together")
	require.Contains(t, MovementSummary("Sleep", "Mood", -0.5), "opposite directions")
	require.Contains(t, MovementSummary("Sleep", "Mood", 0.3), "sometimes move together")
	require.Contains(t, MovementSummary("Sleep", "Mood", 0.1), "mixed")
	require.Contains(t, MovementSummary("Sleep", "Mood", 0.8), "not cause")
}

func TestCompareSeries(t *testing.T) {
	from := make([]float64, 30)
	to := make([]float64, 30)
	for i := range from {
		from[i] = float64(i) / 30
		to[i] = float64(i) / 60
	}
	m := CompareSeries("Sleep", from, "Mood", to)
	require.LessOrEqual(t, len(m.FromSeries), MaxCompressedPoints)
	require.Equal(t, len(m.FromSeries), len(m.ToSeries))
	require.Equal(t, 1.0, m.Correlation)
}
