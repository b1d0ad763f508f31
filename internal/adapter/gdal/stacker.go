package gdal

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/couchcryptid/quake-change-etl/internal/domain"
)

// StackResolution is the pixel size in metres of clipped band stacks.
const StackResolution = 10.0

var (
	// ErrMissingBand is returned when a granule lacks one of the six bands.
	ErrMissingBand = fmt.Errorf("%w: missing band", domain.ErrGranuleUnusable)
	// ErrNoOverlap is returned when a granule does not intersect the AOI.
	ErrNoOverlap = fmt.Errorf("%w: does not intersect AOI", domain.ErrGranuleUnusable)
)

// bandExts are the image formats searched for in IMG_DATA folders.
var bandExts = []string{".jp2", ".tif"}

// Stacker clips Sentinel-2 L2A granules to an AOI and writes 6-band stacks
// in a projected CRS. 20 m bands are resampled onto the 10 m grid.
type Stacker struct {
	aoi    domain.Bounds
	crs    string
	store  *Store
	logger *slog.Logger
}

// NewStacker creates a Stacker for a lon/lat AOI and target EPSG code.
func NewStacker(aoi domain.Bounds, epsg int, store *Store, logger *slog.Logger) *Stacker {
	return &Stacker{aoi: aoi, crs: EPSG(epsg), store: store, logger: logger}
}

// ListGranules returns the granule directories under dir, sorted by name.
func (s *Stacker) ListGranules(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// StackGranule writes the clipped band stack of granuleDir to out.
func (s *Stacker) StackGranule(granuleDir, out string) error {
	files := make([]string, domain.BandCount)
	for _, sb := range domain.SentinelBands {
		f, err := findBandFile(granuleDir, sb)
		if err != nil {
			return err
		}
		files[sb.Band] = f
	}

	grid, err := s.clipGrid(files[domain.Blue])
	if err != nil {
		return err
	}

	stack := domain.BandStack{
		Bands:     make([]domain.Grid, domain.BandCount),
		Transform: grid.Transform,
		CRS:       s.crs,
	}
	for b, f := range files {
		g, err := s.warpBand(f, grid)
		if err != nil {
			return fmt.Errorf("%s: %w", domain.Band(b), err)
		}
		stack.Bands[b] = g
	}

	if err := s.store.WriteStack(out, stack); err != nil {
		return err
	}
	s.logger.Info("band stack written", "path", out, "shape", stack.Bands[0].Shape())
	return nil
}

// clipGrid returns the 10 m grid covering the overlap of the AOI and the
// granule footprint, both expressed in the stack CRS.
func (s *Stacker) clipGrid(reference string) (TargetGrid, error) {
	info, err := Describe(reference)
	if err != nil {
		return TargetGrid{}, err
	}
	footprint, err := TransformBounds(info.Bounds(), info.CRS, s.crs)
	if err != nil {
		return TargetGrid{}, err
	}
	aoi, err := TransformBounds(s.aoi, EPSG(TargetEPSG), s.crs)
	if err != nil {
		return TargetGrid{}, err
	}
	if !footprint.Intersects(aoi) {
		return TargetGrid{}, ErrNoOverlap
	}
	clip := domain.Bounds{
		MinX: math.Max(footprint.MinX, aoi.MinX),
		MinY: math.Max(footprint.MinY, aoi.MinY),
		MaxX: math.Min(footprint.MaxX, aoi.MaxX),
		MaxY: math.Min(footprint.MaxY, aoi.MaxY),
	}
	return SnapGrid(clip, StackResolution)
}

func (s *Stacker) warpBand(path string, grid TargetGrid) (domain.Grid, error) {
	src, err := open(path)
	if err != nil {
		return domain.Grid{}, err
	}
	defer src.Close()

	b := grid.Bounds()
	ds, err := src.Warp("", []string{
		"-of", "MEM",
		"-t_srs", s.crs,
		"-te", ftoa(b.MinX), ftoa(b.MinY), ftoa(b.MaxX), ftoa(b.MaxY),
		"-ts", strconv.Itoa(grid.Width), strconv.Itoa(grid.Height),
		"-r", "bilinear",
		"-srcnodata", "0",
		"-dstnodata", "nan",
		"-ot", "Float32",
	})
	if err != nil {
		return domain.Grid{}, fmt.Errorf("warp %s: %w", path, err)
	}
	defer ds.Close()
	return readBand(ds.Bands()[0], grid.Width, grid.Height)
}

func findBandFile(granuleDir string, sb domain.SentinelBand) (string, error) {
	pattern := filepath.Join(granuleDir, "GRANULE", "*", "IMG_DATA", sb.Resolution, "*_"+sb.Name+"_*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}
	sort.Strings(matches)
	for _, m := range matches {
		ext := strings.ToLower(filepath.Ext(m))
		for _, want := range bandExts {
			if ext == want {
				return m, nil
			}
		}
	}
	return "", fmt.Errorf("%w %s in %s", ErrMissingBand, sb.Name, sb.Resolution)
}
