package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func patchesWithMeans(means ...float64) []Patch {
	out := make([]Patch, len(means))
	for i, m := range means {
		out[i] = Patch{Tile: "T", Row: i * 128, MeanDiff: m}
	}
	return out
}

func TestSummarizePatches(t *testing.T) {
	s := SummarizePatches(patchesWithMeans(-0.2, 0.1, math.NaN(), 0.4, 0.0))

	assert.Equal(t, 4, s.Count)
	assert.InDelta(t, -0.2, s.Min, 1e-12)
	assert.InDelta(t, 0.4, s.Max, 1e-12)
	assert.InDelta(t, 0.075, s.Mean, 1e-12)
	assert.Greater(t, s.StdDev, 0.0)
	assert.InDelta(t, 0.0, s.Median, 1e-12)
}

func TestSummarizePatches_Empty(t *testing.T) {
	assert.Equal(t, PatchSummary{}, SummarizePatches(nil))
	assert.Equal(t, PatchSummary{}, SummarizePatches(patchesWithMeans(math.NaN())))
}

func TestValueRange(t *testing.T) {
	lo, hi, ok := ValueRange(patchesWithMeans(0.1, -0.3), patchesWithMeans(math.Inf(1), 0.5))
	assert.True(t, ok)
	assert.InDelta(t, -0.3, lo, 1e-12)
	assert.InDelta(t, 0.5, hi, 1e-12)

	_, _, ok = ValueRange(nil)
	assert.False(t, ok)
}
