package domain

import (
	"fmt"
	"math"
)

// NoData is the no-data value written to every raster the pipeline produces.
var NoData = math.NaN()

// Grid is a single band of float32 samples in row-major order.
type Grid struct {
	Width  int
	Height int
	Data   []float32
}

// NewGrid allocates a width x height grid filled with zeros.
func NewGrid(width, height int) Grid {
	return Grid{Width: width, Height: height, Data: make([]float32, width*height)}
}

// NewNoDataGrid allocates a width x height grid filled with NaN.
func NewNoDataGrid(width, height int) Grid {
	g := NewGrid(width, height)
	nan := float32(math.NaN())
	for i := range g.Data {
		g.Data[i] = nan
	}
	return g
}

// At returns the sample at (col, row).
func (g Grid) At(col, row int) float32 {
	return g.Data[row*g.Width+col]
}

// Set stores v at (col, row).
func (g Grid) Set(col, row int, v float32) {
	g.Data[row*g.Width+col] = v
}

// SameShape reports whether g and o have identical dimensions.
func (g Grid) SameShape(o Grid) bool {
	return g.Width == o.Width && g.Height == o.Height
}

// Shape renders the grid dimensions as "HxW" for logs and errors.
func (g Grid) Shape() string {
	return fmt.Sprintf("%dx%d", g.Height, g.Width)
}

// GeoTransform is an affine pixel-to-map transform in GDAL coefficient order:
// originX, pixelWidth, rowRotation, originY, colRotation, pixelHeight.
type GeoTransform [6]float64

// NorthUp builds the transform (res, 0, left, 0, -res, top) used for
// geographic output grids.
func NorthUp(left, top, res float64) GeoTransform {
	return GeoTransform{left, res, 0, top, 0, -res}
}

// Apply maps a pixel-corner coordinate (col, row) to map coordinates.
func (t GeoTransform) Apply(col, row float64) (x, y float64) {
	x = t[0] + col*t[1] + row*t[2]
	y = t[3] + col*t[4] + row*t[5]
	return x, y
}

// PixelSize returns the absolute pixel width and height.
func (t GeoTransform) PixelSize() (float64, float64) {
	return math.Abs(t[1]), math.Abs(t[5])
}

// Bounds returns the envelope of the pixel rectangle [col0,col1) x [row0,row1).
func (t GeoTransform) Bounds(col0, row0, col1, row1 int) Bounds {
	xs := [4]float64{}
	ys := [4]float64{}
	xs[0], ys[0] = t.Apply(float64(col0), float64(row0))
	xs[1], ys[1] = t.Apply(float64(col1), float64(row0))
	xs[2], ys[2] = t.Apply(float64(col0), float64(row1))
	xs[3], ys[3] = t.Apply(float64(col1), float64(row1))

	b := Bounds{MinX: xs[0], MinY: ys[0], MaxX: xs[0], MaxY: ys[0]}
	for i := 1; i < 4; i++ {
		b.MinX = math.Min(b.MinX, xs[i])
		b.MaxX = math.Max(b.MaxX, xs[i])
		b.MinY = math.Min(b.MinY, ys[i])
		b.MaxY = math.Max(b.MaxY, ys[i])
	}
	return b
}

// Bounds is an axis-aligned rectangle in map coordinates.
type Bounds struct {
	MinX float64 `json:"minx"`
	MinY float64 `json:"miny"`
	MaxX float64 `json:"maxx"`
	MaxY float64 `json:"maxy"`
}

// Width returns the east-west extent.
func (b Bounds) Width() float64 { return b.MaxX - b.MinX }

// Height returns the north-south extent.
func (b Bounds) Height() float64 { return b.MaxY - b.MinY }

// Center returns the midpoint of the rectangle.
func (b Bounds) Center() (x, y float64) {
	return (b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2
}

// Contains reports whether o lies entirely within b.
func (b Bounds) Contains(o Bounds) bool {
	return o.MinX >= b.MinX && o.MaxX <= b.MaxX && o.MinY >= b.MinY && o.MaxY <= b.MaxY
}

// Extend grows b to cover o.
func (b Bounds) Extend(o Bounds) Bounds {
	return Bounds{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

// Intersects reports whether b and o overlap.
func (b Bounds) Intersects(o Bounds) bool {
	return b.MinX < o.MaxX && o.MinX < b.MaxX && b.MinY < o.MaxY && o.MinY < b.MaxY
}

// IsGeographic reports whether b is a valid lon/lat rectangle.
func (b Bounds) IsGeographic() bool {
	return b.MinX >= -180 && b.MaxX <= 180 && b.MinY >= -90 && b.MaxY <= 90
}

// Raster is a single-band georeferenced grid. CRS is a WKT or "EPSG:n" string
// and is compared verbatim by [Difference].
type Raster struct {
	Grid
	Transform GeoTransform
	CRS       string
}

// Extent returns the map-space bounds of the whole raster.
func (r Raster) Extent() Bounds {
	return r.Transform.Bounds(0, 0, r.Width, r.Height)
}

// ValidCount returns the number of finite samples.
func (r Raster) ValidCount() int {
	n := 0
	for _, v := range r.Data {
		if isFinite32(v) {
			n++
		}
	}
	return n
}

func isFinite32(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
