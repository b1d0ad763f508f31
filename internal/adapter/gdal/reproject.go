package gdal

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/airbusgeo/godal"

	"github.com/couchcryptid/quake-change-etl/internal/domain"
)

// TargetEPSG is the geographic frame of reprojected rasters.
const TargetEPSG = 4326

// densifyPoints is the number of samples taken along each bound edge.
const densifyPoints = 21

// ErrInvalidTargetGrid is returned when a reprojected grid would have a
// non-positive width or height.
var ErrInvalidTargetGrid = errors.New("invalid target grid")

// TargetGrid is the pixel grid a raster is resampled onto.
type TargetGrid struct {
	Transform domain.GeoTransform
	Width     int
	Height    int
}

// Bounds returns the grid extent.
func (g TargetGrid) Bounds() domain.Bounds {
	return g.Transform.Bounds(0, 0, g.Width, g.Height)
}

// TransformBounds projects b from srcCRS into dstCRS. Each edge is densified
// so curved edges in the target frame are enclosed.
func TransformBounds(b domain.Bounds, srcCRS, dstCRS string) (domain.Bounds, error) {
	src, err := spatialRef(srcCRS)
	if err != nil {
		return domain.Bounds{}, fmt.Errorf("source CRS: %w", err)
	}
	defer src.Close()
	dst, err := spatialRef(dstCRS)
	if err != nil {
		return domain.Bounds{}, fmt.Errorf("target CRS: %w", err)
	}
	defer dst.Close()

	tr, err := godal.NewTransform(src, dst)
	if err != nil {
		return domain.Bounds{}, fmt.Errorf("create transform: %w", err)
	}
	defer tr.Close()

	xs, ys := edgePoints(b)
	if err := tr.TransformEx(xs, ys, nil, nil); err != nil {
		return domain.Bounds{}, fmt.Errorf("transform bounds: %w", err)
	}

	out := domain.Bounds{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	for i := range xs {
		if math.IsInf(xs[i], 0) || math.IsInf(ys[i], 0) || math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			continue
		}
		out = out.Extend(domain.Bounds{MinX: xs[i], MinY: ys[i], MaxX: xs[i], MaxY: ys[i]})
	}
	if out.MinX > out.MaxX || out.MinY > out.MaxY {
		return domain.Bounds{}, errors.New("transform bounds: no finite points")
	}
	return out, nil
}

func edgePoints(b domain.Bounds) ([]float64, []float64) {
	n := densifyPoints
	xs := make([]float64, 0, 4*n)
	ys := make([]float64, 0, 4*n)
	for i := range n {
		t := float64(i) / float64(n-1)
		x := b.MinX + t*b.Width()
		y := b.MinY + t*b.Height()
		xs = append(xs, x, x, b.MinX, b.MaxX)
		ys = append(ys, b.MinY, b.MaxY, y, y)
	}
	return xs, ys
}

// PlanGrid derives the EPSG:4326 grid for r: the projected extent is snapped
// outward to multiples of res and the size is the extent divided by res,
// rounded to the nearest integer.
func PlanGrid(r domain.Raster, res float64) (TargetGrid, error) {
	if r.Width <= 0 || r.Height <= 0 || res <= 0 {
		return TargetGrid{}, fmt.Errorf("%w: source %s at resolution %g", ErrInvalidTargetGrid, r.Shape(), res)
	}
	b, err := TransformBounds(r.Extent(), r.CRS, EPSG(TargetEPSG))
	if err != nil {
		return TargetGrid{}, err
	}
	return SnapGrid(b, res)
}

// SnapGrid builds a north-up grid of pixel size res over b. The left and
// top edges snap outward to multiples of res; width and height are the
// remaining extent divided by res, rounded to the nearest pixel.
func SnapGrid(b domain.Bounds, res float64) (TargetGrid, error) {
	left := math.Floor(b.MinX/res) * res
	top := math.Ceil(b.MaxY/res) * res
	w := int(math.Round((b.MaxX - left) / res))
	h := int(math.Round((top - b.MinY) / res))
	if w <= 0 || h <= 0 {
		return TargetGrid{}, fmt.Errorf("%w: %dx%d", ErrInvalidTargetGrid, h, w)
	}
	return TargetGrid{Transform: domain.NorthUp(left, top, res), Width: w, Height: h}, nil
}

// WriteReprojected resamples r onto its EPSG:4326 grid with bilinear
// interpolation and writes it to path with NaN as no-data. The written file
// is re-opened and its georeferencing checked.
func (s *Store) WriteReprojected(path string, r domain.Raster) error {
	grid, err := PlanGrid(r, s.resolution)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	src, err := memDataset(r)
	if err != nil {
		return err
	}
	defer src.Close()

	b := grid.Bounds()
	out, err := src.Warp(path, []string{
		"-of", "GTiff",
		"-t_srs", EPSG(TargetEPSG),
		"-te", ftoa(b.MinX), ftoa(b.MinY), ftoa(b.MaxX), ftoa(b.MaxY),
		"-ts", strconv.Itoa(grid.Width), strconv.Itoa(grid.Height),
		"-r", "bilinear",
		"-srcnodata", "nan",
		"-dstnodata", "nan",
		"-ot", "Float32",
		"-co", "TILED=YES",
		"-co", "COMPRESS=DEFLATE",
	})
	if err != nil {
		return fmt.Errorf("warp %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	info, err := Describe(path)
	if err != nil {
		return fmt.Errorf("verify %s: %w", path, err)
	}
	px, py := info.PixelSize()
	if px < 1e-12 || py < 1e-12 {
		s.logger.Warn("reprojected raster has near-zero pixel size", "path", path, "pixel_x", px, "pixel_y", py)
	}
	s.logger.Debug("reprojected raster written",
		"path", path,
		"crs", EPSG(TargetEPSG),
		"bounds", info.Bounds(),
		"shape", fmt.Sprintf("%dx%d", info.Height, info.Width),
	)
	return nil
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
