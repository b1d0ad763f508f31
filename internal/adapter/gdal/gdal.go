// Package gdal reads and writes GeoTIFF rasters through GDAL: band stacks,
// index rasters, reprojection to EPSG:4326, and clipping Sentinel-2 granules
// into band stacks.
package gdal

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/couchcryptid/quake-change-etl/internal/domain"
)

var registerOnce sync.Once

// Register loads the GDAL drivers. It is safe to call more than once.
func Register() {
	registerOnce.Do(godal.RegisterAll)
}

// open opens a dataset read-only, ignoring GDAL warnings.
func open(path string) (*godal.Dataset, error) {
	Register()
	ds, err := godal.Open(path, godal.ErrLogger(func(ec godal.ErrorCategory, code int, msg string) error {
		if ec == godal.CE_Warning {
			return nil
		}
		return fmt.Errorf("gdal error %d: %s", code, msg)
	}))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return ds, nil
}

// spatialRef parses "EPSG:<code>" or a WKT definition.
func spatialRef(crs string) (*godal.SpatialRef, error) {
	if code, ok := epsgCode(crs); ok {
		return godal.NewSpatialRefFromEPSG(code)
	}
	if crs == "" {
		return nil, fmt.Errorf("empty CRS")
	}
	return godal.NewSpatialRefFromWKT(crs)
}

func epsgCode(crs string) (int, bool) {
	rest, ok := strings.CutPrefix(strings.ToUpper(strings.TrimSpace(crs)), "EPSG:")
	if !ok {
		return 0, false
	}
	code, err := strconv.Atoi(rest)
	return code, err == nil
}

// EPSG formats an EPSG code as a CRS string.
func EPSG(code int) string {
	return "EPSG:" + strconv.Itoa(code)
}

// SameCRS reports whether two CRS definitions describe the same system.
func SameCRS(a, b string) bool {
	if a == b {
		return true
	}
	sa, err := spatialRef(a)
	if err != nil {
		return false
	}
	defer sa.Close()
	sb, err := spatialRef(b)
	if err != nil {
		return false
	}
	defer sb.Close()
	return sa.IsSame(sb)
}

// Info summarizes a raster file for verification logs.
type Info struct {
	Path      string
	CRS       string
	Transform domain.GeoTransform
	Width     int
	Height    int
	Bands     int
	NoData    float64
	HasNoData bool
}

// PixelSize returns the absolute pixel width and height.
func (i Info) PixelSize() (float64, float64) {
	return i.Transform.PixelSize()
}

// Bounds returns the raster extent in its own CRS.
func (i Info) Bounds() domain.Bounds {
	return i.Transform.Bounds(0, 0, i.Width, i.Height)
}

// Describe reads the georeferencing of a raster without loading pixels.
func Describe(path string) (Info, error) {
	ds, err := open(path)
	if err != nil {
		return Info{}, err
	}
	defer ds.Close()
	return describe(path, ds)
}

func describe(path string, ds *godal.Dataset) (Info, error) {
	gt, err := ds.GeoTransform()
	if err != nil {
		return Info{}, fmt.Errorf("%s: geotransform: %w", path, err)
	}
	st := ds.Structure()
	info := Info{
		Path:      path,
		CRS:       ds.Projection(),
		Transform: domain.GeoTransform(gt),
		Width:     st.SizeX,
		Height:    st.SizeY,
		Bands:     st.NBands,
	}
	if bands := ds.Bands(); len(bands) > 0 {
		info.NoData, info.HasNoData = bands[0].NoData()
	}
	return info, nil
}

// readBand reads a full band as float32, mapping the band's no-data value to NaN.
func readBand(band godal.Band, width, height int) (domain.Grid, error) {
	g := domain.NewGrid(width, height)
	if err := band.Read(0, 0, g.Data, width, height); err != nil {
		return domain.Grid{}, err
	}
	if nd, ok := band.NoData(); ok && !math.IsNaN(nd) {
		nan := float32(math.NaN())
		for i, v := range g.Data {
			if float64(v) == nd {
				g.Data[i] = nan
			}
		}
	}
	return g, nil
}
