package gdal

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/airbusgeo/godal"

	"github.com/couchcryptid/quake-change-etl/internal/domain"
)

var creationOptions = godal.CreationOption("TILED=YES", "COMPRESS=DEFLATE", "BIGTIFF=IF_SAFER")

// Store reads band stacks and reads and writes single-band index rasters.
// It implements pipeline.StackReader and pipeline.RasterStore.
type Store struct {
	resolution float64
	logger     *slog.Logger
}

// NewStore creates a Store that reprojects to EPSG:4326 at resolution degrees per pixel.
func NewStore(resolution float64, logger *slog.Logger) *Store {
	Register()
	return &Store{resolution: resolution, logger: logger}
}

// ReadStack loads the first six bands of a stack GeoTIFF in blue, green,
// red, NIR, SWIR1, SWIR2 order. Files with fewer bands are rejected.
func (s *Store) ReadStack(path string) (domain.BandStack, error) {
	ds, err := open(path)
	if err != nil {
		return domain.BandStack{}, err
	}
	defer ds.Close()

	st := ds.Structure()
	if st.NBands < domain.BandCount {
		return domain.BandStack{}, fmt.Errorf("%s: %w: got %d", path, domain.ErrBandCount, st.NBands)
	}
	gt, err := ds.GeoTransform()
	if err != nil {
		return domain.BandStack{}, fmt.Errorf("%s: geotransform: %w", path, err)
	}

	stack := domain.BandStack{
		Bands:     make([]domain.Grid, domain.BandCount),
		Transform: domain.GeoTransform(gt),
		CRS:       ds.Projection(),
	}
	bands := ds.Bands()
	for b := range domain.BandCount {
		g, err := readBand(bands[b], st.SizeX, st.SizeY)
		if err != nil {
			return domain.BandStack{}, fmt.Errorf("%s: read %s: %w", path, domain.Band(b), err)
		}
		stack.Bands[b] = g
	}
	return stack, stack.Validate()
}

// WriteStack writes a 6-band Float32 GeoTIFF.
func (s *Store) WriteStack(path string, stack domain.BandStack) error {
	if err := stack.Validate(); err != nil {
		return err
	}
	return writeGTiff(path, stack.Bands, stack.Transform, stack.CRS, false)
}

// ReadIndex loads band 1 of a raster with no-data mapped to NaN.
func (s *Store) ReadIndex(path string) (domain.Raster, error) {
	ds, err := open(path)
	if err != nil {
		return domain.Raster{}, err
	}
	defer ds.Close()

	st := ds.Structure()
	if st.NBands < 1 {
		return domain.Raster{}, fmt.Errorf("%s has no bands", path)
	}
	gt, err := ds.GeoTransform()
	if err != nil {
		return domain.Raster{}, fmt.Errorf("%s: geotransform: %w", path, err)
	}
	g, err := readBand(ds.Bands()[0], st.SizeX, st.SizeY)
	if err != nil {
		return domain.Raster{}, fmt.Errorf("%s: read band 1: %w", path, err)
	}
	return domain.Raster{Grid: g, Transform: domain.GeoTransform(gt), CRS: ds.Projection()}, nil
}

// WriteNative writes r as a single-band Float32 GeoTIFF in its own CRS
// with NaN declared as no-data.
func (s *Store) WriteNative(path string, r domain.Raster) error {
	return writeGTiff(path, []domain.Grid{r.Grid}, r.Transform, r.CRS, true)
}

func writeGTiff(path string, bands []domain.Grid, gt domain.GeoTransform, crs string, nodata bool) (err error) {
	if len(bands) == 0 {
		return errors.New("no bands to write")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	w, h := bands[0].Width, bands[0].Height
	ds, err := godal.Create(godal.GTiff, path, len(bands), godal.Float32, w, h, creationOptions)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := ds.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	if err := georeference(ds, gt, crs); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for i, band := range ds.Bands() {
		if nodata {
			if err := band.SetNoData(math.NaN()); err != nil {
				return fmt.Errorf("%s: set nodata: %w", path, err)
			}
		}
		if err := band.Write(0, 0, bands[i].Data, w, h); err != nil {
			return fmt.Errorf("%s: write band %d: %w", path, i+1, err)
		}
	}
	return nil
}

func georeference(ds *godal.Dataset, gt domain.GeoTransform, crs string) error {
	if err := ds.SetGeoTransform([6]float64(gt)); err != nil {
		return fmt.Errorf("set geotransform: %w", err)
	}
	sr, err := spatialRef(crs)
	if err != nil {
		return fmt.Errorf("parse CRS: %w", err)
	}
	defer sr.Close()
	if err := ds.SetSpatialRef(sr); err != nil {
		return fmt.Errorf("set CRS: %w", err)
	}
	return nil
}

// memDataset copies r into an in-memory GDAL dataset.
func memDataset(r domain.Raster) (*godal.Dataset, error) {
	ds, err := godal.Create(godal.Memory, "", 1, godal.Float32, r.Width, r.Height)
	if err != nil {
		return nil, fmt.Errorf("create mem dataset: %w", err)
	}
	if err := georeference(ds, r.Transform, r.CRS); err != nil {
		ds.Close()
		return nil, err
	}
	band := ds.Bands()[0]
	if err := band.SetNoData(math.NaN()); err != nil {
		ds.Close()
		return nil, err
	}
	if err := band.Write(0, 0, r.Data, r.Width, r.Height); err != nil {
		ds.Close()
		return nil, err
	}
	return ds, nil
}
