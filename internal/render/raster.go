package render

import (
	"image"

	xdraw "golang.org/x/image/draw"

	"github.com/couchcryptid/quake-change-etl/internal/domain"
)

// IndexRange is the fixed value range of index and difference figures.
var IndexRange = Linear{Min: -1, Max: 1}

// Raster draws g through cmap and norm. No-data pixels stay transparent.
func Raster(g domain.Grid, cmap Colormap, norm Norm, title string) *image.RGBA {
	src := image.NewRGBA(image.Rect(0, 0, g.Width, g.Height))
	for row := range g.Height {
		for col := range g.Width {
			src.SetRGBA(col, row, cmap.At(norm.Normalize(float64(g.At(col, row)))))
		}
	}

	w, h := fitPlot(float64(g.Width), float64(g.Height))
	fig := newFigure(w, h, title)
	xdraw.ApproxBiLinear.Scale(fig.img, fig.plot, src, src.Bounds(), xdraw.Src, nil)
	fig.colorbar(cmap, norm)
	return fig.img
}
