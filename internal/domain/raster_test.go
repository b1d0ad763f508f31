package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeoTransform_Apply(t *testing.T) {
	tr := GeoTransform{600000, 10, 0, 2300000, 0, -10}

	x, y := tr.Apply(128, 128)
	assert.InDelta(t, 601280, x, 1e-9)
	assert.InDelta(t, 2298720, y, 1e-9)
}

func TestGeoTransform_BoundsOrdersCorners(t *testing.T) {
	tr := NorthUp(96, 20, 0.5)

	b := tr.Bounds(0, 0, 2, 4)
	assert.Equal(t, Bounds{MinX: 96, MinY: 18, MaxX: 97, MaxY: 20}, b)
}

func TestBounds(t *testing.T) {
	b := Bounds{MinX: 95.5, MinY: 17.05, MaxX: 98.4, MaxY: 27.5}

	assert.True(t, b.IsGeographic())
	assert.False(t, Bounds{MinX: 600000, MaxX: 601280}.IsGeographic())
	assert.True(t, b.Contains(Bounds{MinX: 96, MinY: 18, MaxX: 97, MaxY: 20}))
	assert.InDelta(t, 2.9, b.Width(), 1e-9)
	assert.True(t, b.Intersects(Bounds{MinX: 98, MinY: 27, MaxX: 99, MaxY: 28}))
	assert.False(t, b.Intersects(Bounds{MinX: 98.4, MinY: 17, MaxX: 99, MaxY: 28}), "touching edges do not overlap")

	ext := b.Extend(Bounds{MinX: 90, MinY: 20, MaxX: 96, MaxY: 30})
	assert.Equal(t, Bounds{MinX: 90, MinY: 17.05, MaxX: 98.4, MaxY: 30}, ext)
}

func TestRaster_ValidCount(t *testing.T) {
	r := Raster{Grid: NewNoDataGrid(3, 1)}
	assert.Zero(t, r.ValidCount())

	r.Set(1, 0, 0.5)
	r.Set(2, 0, float32(math.Inf(-1)))
	assert.Equal(t, 1, r.ValidCount())
}

func TestBandStack_Validate(t *testing.T) {
	s := constStack(4, 4, [BandCount]float32{})
	assert.NoError(t, s.Validate())

	s.Bands[SWIR2] = NewGrid(2, 2)
	assert.ErrorIs(t, s.Validate(), ErrBandShapes)
}

func TestLayout(t *testing.T) {
	l := Layout{IndicesDir: "idx", PatchStatsDir: "ps", VisualsDir: "vis", PatchMapsDir: "maps", StackDir: "stacks"}

	assert.Equal(t, "idx/ndvi/pre/T47QKV.tif", l.IndexPath(NDVI, PhasePre, "T47QKV"))
	assert.Equal(t, "idx/ndwi/diff/T47QKV_diff.tif", l.DiffPath(NDWI, "T47QKV"))
	assert.Equal(t, "ps/ndbi/patch_stats_T47QKV_diff", l.PatchStatsBase(NDBI, "T47QKV_diff"))
	assert.Equal(t, "stacks/post", l.StackDirFor(PhasePost))
	assert.Equal(t, "T47QKV_diff", PatchLayerStem("ps/ndbi/patch_stats_T47QKV_diff.geojson"))
	assert.Equal(t, "vis/ndvi/diff/T47QKV_diff.png", l.VisualPath(NDVI, PhaseDiff, "T47QKV_diff"))
}
