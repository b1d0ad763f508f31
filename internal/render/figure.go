package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// MaxPlotSize is the longest side of the plot area in pixels. Larger
// rasters are downsampled to fit.
const MaxPlotSize = 1000

const (
	margin   = 10
	titleH   = 20
	gap      = 8
	barH     = 14
	labelH   = 16
	tickSize = 4
)

var (
	white = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	black = color.RGBA{A: 0xff}
)

// figure is a titled plot area above a horizontal colour bar. The plot
// area starts transparent.
type figure struct {
	img  *image.RGBA
	plot image.Rectangle
}

func newFigure(plotW, plotH int, title string) *figure {
	w := plotW + 2*margin
	h := margin + titleH + plotH + gap + barH + labelH + margin
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(white), image.Point{}, draw.Src)

	top := margin + titleH
	plot := image.Rect(margin, top, margin+plotW, top+plotH)
	draw.Draw(img, plot, image.Transparent, image.Point{}, draw.Src)

	f := &figure{img: img, plot: plot}
	f.text(margin, margin+13, title)
	return f
}

// fitPlot scales w×h down so neither side exceeds MaxPlotSize.
func fitPlot(w, h float64) (int, int) {
	scale := 1.0
	if m := max(w, h); m > MaxPlotSize {
		scale = MaxPlotSize / m
	}
	return max(1, int(w*scale+0.5)), max(1, int(h*scale+0.5))
}

func (f *figure) text(x, y int, s string) {
	d := font.Drawer{
		Dst:  f.img,
		Src:  image.NewUniform(black),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// colorbar draws cmap across the plot width with norm's ticks labelled.
func (f *figure) colorbar(cmap Colormap, norm Norm) {
	bar := image.Rect(f.plot.Min.X, f.plot.Max.Y+gap, f.plot.Max.X, f.plot.Max.Y+gap+barH)
	w := bar.Dx()
	for x := range w {
		t := 0.5
		if w > 1 {
			t = float64(x) / float64(w-1)
		}
		c := cmap.At(t)
		for y := bar.Min.Y; y < bar.Max.Y; y++ {
			f.img.SetRGBA(bar.Min.X+x, y, c)
		}
	}

	face := basicfont.Face7x13
	for _, v := range norm.Ticks() {
		pos := norm.Normalize(v)
		if math.IsNaN(pos) {
			continue
		}
		x := bar.Min.X + int(pos*float64(w-1))
		for y := bar.Max.Y; y < bar.Max.Y+tickSize; y++ {
			f.img.SetRGBA(x, y, black)
		}
		label := strconv.FormatFloat(v, 'f', 3, 64)
		lw := font.MeasureString(face, label).Round()
		lx := min(max(x-lw/2, 0), f.img.Bounds().Dx()-lw)
		f.text(lx, bar.Max.Y+tickSize+11, label)
	}
}

// WritePNG encodes img to path, creating parent directories.
func WritePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
