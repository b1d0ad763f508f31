package domain

import (
	"errors"
	"fmt"
	"math"
)

// ErrNotCongruent means two rasters cannot be differenced. Both
// ErrCRSMismatch and ErrShapeMismatch match it with errors.Is.
var ErrNotCongruent = errors.New("rasters are not congruent")

var (
	ErrCRSMismatch   = fmt.Errorf("%w: CRS mismatch", ErrNotCongruent)
	ErrShapeMismatch = fmt.Errorf("%w: shape mismatch", ErrNotCongruent)
)

// Difference returns post - pre. Pixels where either input is NaN are NaN.
// The result carries pre's transform and CRS.
func Difference(pre, post Raster) (Raster, error) {
	if pre.CRS != post.CRS {
		return Raster{}, ErrCRSMismatch
	}
	if !pre.SameShape(post.Grid) || len(pre.Data) != len(post.Data) {
		return Raster{}, fmt.Errorf("%w: pre %s, post %s", ErrShapeMismatch, pre.Shape(), post.Shape())
	}

	out := NewGrid(pre.Width, pre.Height)
	nan := float32(math.NaN())
	for i := range out.Data {
		a, b := pre.Data[i], post.Data[i]
		if math.IsNaN(float64(a)) || math.IsNaN(float64(b)) {
			out.Data[i] = nan
			continue
		}
		out.Data[i] = b - a
	}
	return Raster{Grid: out, Transform: pre.Transform, CRS: pre.CRS}, nil
}
