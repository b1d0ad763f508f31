package domain

import (
	"errors"
	"fmt"
)

// Band indexes a layer of a band stack.
type Band int

// Stack band order. Values are zero-based slice indices; on disk they are
// GDAL bands 1..6.
const (
	Blue Band = iota
	Green
	Red
	NIR
	SWIR1
	SWIR2
)

// BandCount is the number of bands every stack must carry.
const BandCount = 6

var bandNames = [BandCount]string{"blue", "green", "red", "nir", "swir1", "swir2"}

func (b Band) String() string {
	if b < 0 || int(b) >= BandCount {
		return fmt.Sprintf("band(%d)", int(b))
	}
	return bandNames[b]
}

// SentinelBand describes where a stack band comes from in a Sentinel-2 L2A product.
type SentinelBand struct {
	Band       Band
	Name       string // e.g. "B04"
	Resolution string // IMG_DATA subfolder, "R10m" or "R20m"
}

// SentinelBands lists the source of each stack band, in stack order.
var SentinelBands = [BandCount]SentinelBand{
	{Band: Blue, Name: "B02", Resolution: "R10m"},
	{Band: Green, Name: "B03", Resolution: "R10m"},
	{Band: Red, Name: "B04", Resolution: "R10m"},
	{Band: NIR, Name: "B08", Resolution: "R10m"},
	{Band: SWIR1, Name: "B11", Resolution: "R20m"},
	{Band: SWIR2, Name: "B12", Resolution: "R20m"},
}

// Errors returned when a band stack is malformed.
var (
	ErrBandCount  = errors.New("band stack must have 6 bands")
	ErrBandShapes = errors.New("band stack bands differ in shape")
)

// BandStack is a co-registered 6-band raster for one granule.
type BandStack struct {
	Bands     []Grid
	Transform GeoTransform
	CRS       string
}

// Validate checks that the stack has exactly 6 bands of identical shape.
func (s BandStack) Validate() error {
	if len(s.Bands) != BandCount {
		return fmt.Errorf("%w: got %d", ErrBandCount, len(s.Bands))
	}
	first := s.Bands[0]
	for i, g := range s.Bands[1:] {
		if !g.SameShape(first) || len(g.Data) != g.Width*g.Height {
			return fmt.Errorf("%w: %s is %s, %s is %s", ErrBandShapes,
				Band(i+1), g.Shape(), Blue, first.Shape())
		}
	}
	return nil
}

// Band returns the grid for b. The stack must be valid.
func (s BandStack) Band(b Band) Grid {
	return s.Bands[b]
}

// Width returns the stack width in pixels.
func (s BandStack) Width() int { return s.Bands[0].Width }

// Height returns the stack height in pixels.
func (s BandStack) Height() int { return s.Bands[0].Height }
