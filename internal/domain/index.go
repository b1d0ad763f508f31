package domain

import (
	"fmt"
	"math"
	"strings"
)

// Index names a spectral index produced by the pipeline.
type Index string

// Supported indices.
const (
	NDVI Index = "ndvi"
	NDBI Index = "ndbi"
	NDWI Index = "ndwi"
)

// AllIndices lists the indices in processing order.
var AllIndices = []Index{NDVI, NDBI, NDWI}

// ParseIndex accepts an index name in any case.
func ParseIndex(s string) (Index, error) {
	switch Index(strings.ToLower(strings.TrimSpace(s))) {
	case NDVI:
		return NDVI, nil
	case NDBI:
		return NDBI, nil
	case NDWI:
		return NDWI, nil
	}
	return "", fmt.Errorf("unknown index %q", s)
}

// NDWIVariant selects which normalized difference water index is computed.
type NDWIVariant string

// NDWI variants.
const (
	NDWIGao       NDWIVariant = "gao"       // (NIR - SWIR1) / (NIR + SWIR1), vegetation water content
	NDWIMcFeeters NDWIVariant = "mcfeeters" // (GREEN - NIR) / (GREEN + NIR), open water
)

// ParseNDWIVariant accepts "gao" or "mcfeeters".
func ParseNDWIVariant(s string) (NDWIVariant, error) {
	switch NDWIVariant(strings.ToLower(strings.TrimSpace(s))) {
	case NDWIGao:
		return NDWIGao, nil
	case NDWIMcFeeters:
		return NDWIMcFeeters, nil
	}
	return "", fmt.Errorf("unknown NDWI formula %q", s)
}

// Formula is the normalized difference (A - B) / (A + B).
type Formula struct {
	Index Index
	A     Band
	B     Band
}

func (f Formula) String() string {
	return fmt.Sprintf("(%s - %s) / (%s + %s)", f.A, f.B, f.A, f.B)
}

// FormulaSet maps each index to its formula.
type FormulaSet map[Index]Formula

// NewFormulaSet returns the formulas for NDVI, NDBI, and the chosen NDWI variant.
func NewFormulaSet(ndwi NDWIVariant) FormulaSet {
	set := FormulaSet{
		NDVI: {Index: NDVI, A: NIR, B: Red},
		NDBI: {Index: NDBI, A: SWIR1, B: NIR},
	}
	switch ndwi {
	case NDWIMcFeeters:
		set[NDWI] = Formula{Index: NDWI, A: Green, B: NIR}
	default:
		set[NDWI] = Formula{Index: NDWI, A: NIR, B: SWIR1}
	}
	return set
}

// ComputeIndex evaluates f over every pixel of the stack. The result keeps
// the stack's shape, transform, and CRS. Pixels with a zero denominator or a
// non-finite operand are NaN.
func ComputeIndex(stack BandStack, f Formula) (Raster, error) {
	if err := stack.Validate(); err != nil {
		return Raster{}, err
	}
	a := stack.Band(f.A)
	b := stack.Band(f.B)

	out := NewGrid(a.Width, a.Height)
	for i := range out.Data {
		out.Data[i] = float32(NormalizedDifference(float64(a.Data[i]), float64(b.Data[i])))
	}
	return Raster{Grid: out, Transform: stack.Transform, CRS: stack.CRS}, nil
}

// NormalizedDifference returns (a - b) / (a + b), or NaN when the
// denominator is zero or either operand is not finite.
func NormalizedDifference(a, b float64) float64 {
	if !isFinite(a) || !isFinite(b) {
		return math.NaN()
	}
	den := a + b
	if den == 0 {
		return math.NaN()
	}
	return (a - b) / den
}
