package render

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/couchcryptid/quake-change-etl/internal/domain"
)

// ErrNoPatches is returned when a patch layer has nothing to draw.
var ErrNoPatches = errors.New("no patches to draw")

var edge = color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff}

// Patches draws each patch footprint filled by its mean difference. The
// figure keeps the lon/lat aspect ratio of the layer extent.
func Patches(patches []domain.Patch, cmap Colormap, norm Norm, title string) (*image.RGBA, error) {
	if len(patches) == 0 {
		return nil, ErrNoPatches
	}
	ext := patches[0].Bounds
	for _, p := range patches[1:] {
		ext = ext.Extend(p.Bounds)
	}
	if ext.Width() <= 0 || ext.Height() <= 0 {
		return nil, ErrNoPatches
	}

	w, h := fitPlot(ext.Width()*1e4, ext.Height()*1e4)
	fig := newFigure(w, h, title)
	sx := float64(w) / ext.Width()
	sy := float64(h) / ext.Height()

	for _, p := range patches {
		r := image.Rect(
			fig.plot.Min.X+int(math.Floor((p.Bounds.MinX-ext.MinX)*sx)),
			fig.plot.Min.Y+int(math.Floor((ext.MaxY-p.Bounds.MaxY)*sy)),
			fig.plot.Min.X+int(math.Ceil((p.Bounds.MaxX-ext.MinX)*sx)),
			fig.plot.Min.Y+int(math.Ceil((ext.MaxY-p.Bounds.MinY)*sy)),
		).Intersect(fig.plot)
		if r.Empty() {
			continue
		}
		draw.Draw(fig.img, r, image.NewUniform(cmap.At(norm.Normalize(p.MeanDiff))), image.Point{}, draw.Src)
		if r.Dx() >= 3 && r.Dy() >= 3 {
			outline(fig.img, r)
		}
	}
	fig.colorbar(cmap, norm)
	return fig.img, nil
}

func outline(img *image.RGBA, r image.Rectangle) {
	for x := r.Min.X; x < r.Max.X; x++ {
		img.SetRGBA(x, r.Min.Y, edge)
		img.SetRGBA(x, r.Max.Y-1, edge)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.SetRGBA(r.Min.X, y, edge)
		img.SetRGBA(r.Max.X-1, y, edge)
	}
}
