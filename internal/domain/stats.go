package domain

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// PatchSummary describes the distribution of patch means for one layer.
type PatchSummary struct {
	Count  int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
	P05    float64
	Median float64
	P95    float64
}

// SummarizePatches computes distribution statistics over patch means.
// Non-finite means are ignored; the zero value is returned when none remain.
func SummarizePatches(patches []Patch) PatchSummary {
	values := make([]float64, 0, len(patches))
	for _, p := range patches {
		if isFinite(p.MeanDiff) {
			values = append(values, p.MeanDiff)
		}
	}
	if len(values) == 0 {
		return PatchSummary{}
	}
	sort.Float64s(values)

	s := PatchSummary{
		Count:  len(values),
		Min:    floats.Min(values),
		Max:    floats.Max(values),
		Mean:   stat.Mean(values, nil),
		P05:    stat.Quantile(0.05, stat.Empirical, values, nil),
		Median: stat.Quantile(0.5, stat.Empirical, values, nil),
		P95:    stat.Quantile(0.95, stat.Empirical, values, nil),
	}
	if len(values) > 1 {
		s.StdDev = stat.StdDev(values, nil)
	}
	return s
}

// ValueRange returns the smallest and largest finite patch mean across all
// layers. ok is false when there is no finite value.
func ValueRange(layers ...[]Patch) (lo, hi float64, ok bool) {
	for _, layer := range layers {
		for _, p := range layer {
			if !isFinite(p.MeanDiff) {
				continue
			}
			if !ok {
				lo, hi, ok = p.MeanDiff, p.MeanDiff, true
				continue
			}
			lo = min(lo, p.MeanDiff)
			hi = max(hi, p.MeanDiff)
		}
	}
	return lo, hi, ok
}
