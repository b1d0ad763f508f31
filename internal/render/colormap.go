// Package render draws index rasters and patch layers as PNG figures and
// builds the interactive Leaflet map of all patch layers.
package render

import (
	"image/color"
	"math"

	"github.com/couchcryptid/quake-change-etl/internal/domain"
)

// Colormap maps [0,1] onto evenly spaced colour stops with linear
// interpolation between neighbours.
type Colormap struct {
	Name  string
	stops []color.RGBA
}

func hex(v uint32) color.RGBA {
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}

func newColormap(name string, stops ...uint32) Colormap {
	c := Colormap{Name: name, stops: make([]color.RGBA, len(stops))}
	for i, s := range stops {
		c.stops[i] = hex(s)
	}
	return c
}

// Sequential and diverging maps used for index rasters.
var (
	RdYlGn = newColormap("RdYlGn",
		0xa50026, 0xd73027, 0xf46d43, 0xfdae61, 0xfee08b, 0xffffbf,
		0xd9ef8b, 0xa6d96a, 0x66bd63, 0x1a9850, 0x006837)
	Greys = newColormap("Greys",
		0xffffff, 0xf0f0f0, 0xd9d9d9, 0xbdbdbd, 0x969696, 0x737373, 0x525252, 0x252525, 0x000000)
	YlGnBu = newColormap("YlGnBu",
		0xffffd9, 0xedf8b1, 0xc7e9b4, 0x7fcdbb, 0x41b6c4, 0x1d91c0, 0x225ea8, 0x253494, 0x081d58)
	Bwr = newColormap("bwr", 0x0000ff, 0xffffff, 0xff0000)
)

// IndexColormap returns the map for pre and post rasters of idx.
func IndexColormap(idx domain.Index) Colormap {
	switch idx {
	case domain.NDVI:
		return RdYlGn
	case domain.NDBI:
		return Greys
	default:
		return YlGnBu
	}
}

// PatchColormap returns the red-white-<hue> map for patch layers of idx.
func PatchColormap(idx domain.Index) Colormap {
	switch idx {
	case domain.NDVI:
		return newColormap("ndvi_patches", 0xff0000, 0xffffff, 0x008000)
	case domain.NDBI:
		return newColormap("ndbi_patches", 0xff0000, 0xffffff, 0xffd700)
	default:
		return newColormap("ndwi_patches", 0xff0000, 0xffffff, 0x0000ff)
	}
}

// At returns the colour at t, clamped to [0,1]. NaN is fully transparent.
func (c Colormap) At(t float64) color.RGBA {
	if math.IsNaN(t) {
		return color.RGBA{}
	}
	t = math.Max(0, math.Min(1, t))
	pos := t * float64(len(c.stops)-1)
	i := int(pos)
	if i >= len(c.stops)-1 {
		return c.stops[len(c.stops)-1]
	}
	f := pos - float64(i)
	a, b := c.stops[i], c.stops[i+1]
	return color.RGBA{
		R: lerp(a.R, b.R, f),
		G: lerp(a.G, b.G, f),
		B: lerp(a.B, b.B, f),
		A: 0xff,
	}
}

func lerp(a, b uint8, f float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*f))
}
