// Package vector reads and writes the pipeline's vector layers: patch
// statistics as GeoJSON and CSV, and the area-of-interest rectangle.
package vector

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/gocarina/gocsv"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/quake-change-etl/internal/domain"
)

// File extensions of a patch layer.
const (
	GeoJSONExt = ".geojson"
	CSVExt     = ".csv"
)

// PatchRow is one CSV record of a patch layer. The CSV carries no geometry.
type PatchRow struct {
	Tile     string  `csv:"tile"`
	Row      int     `csv:"row"`
	Col      int     `csv:"col"`
	MeanDiff float64 `csv:"mean_diff"`
}

// Store reads and writes patch layers and the AOI on disk.
// It implements pipeline.VectorStore.
type Store struct{}

// WritePatches writes base+".geojson" and base+".csv", creating the parent
// directory. An empty slice produces an empty collection and a header-only CSV.
func (Store) WritePatches(base string, patches []domain.Patch) error {
	if err := os.MkdirAll(filepath.Dir(base), 0o755); err != nil {
		return fmt.Errorf("create patch dir: %w", err)
	}
	if err := WriteGeoJSON(base+GeoJSONExt, patches); err != nil {
		return err
	}
	return WriteCSV(base+CSVExt, patches)
}

// FeatureCollection converts patches into polygons with tile, row, col, and
// mean_diff properties.
func FeatureCollection(patches []domain.Patch) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range patches {
		f := geojson.NewFeature(toBound(p.Bounds).ToPolygon())
		f.Properties["tile"] = p.Tile
		f.Properties["row"] = p.Row
		f.Properties["col"] = p.Col
		f.Properties["mean_diff"] = p.MeanDiff
		fc.Append(f)
	}
	return fc
}

// WriteGeoJSON writes patches as a GeoJSON FeatureCollection in EPSG:4326.
func WriteGeoJSON(path string, patches []domain.Patch) error {
	data, err := json.Marshal(FeatureCollection(patches))
	if err != nil {
		return fmt.Errorf("encode geojson %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write geojson: %w", err)
	}
	return nil
}

// WriteCSV writes the patch attributes without geometry.
func WriteCSV(path string, patches []domain.Patch) error {
	rows := make([]*PatchRow, len(patches))
	for i, p := range patches {
		rows[i] = &PatchRow{Tile: p.Tile, Row: p.Row, Col: p.Col, MeanDiff: p.MeanDiff}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		f.Close()
		return fmt.Errorf("encode csv %s: %w", path, err)
	}
	return f.Close()
}

// ReadGeoJSON loads a patch layer written by WriteGeoJSON.
func ReadGeoJSON(path string) ([]domain.Patch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read geojson: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode geojson %s: %w", path, err)
	}

	patches := make([]domain.Patch, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f.Geometry == nil {
			return nil, fmt.Errorf("%s: feature %d has no geometry", path, i)
		}
		p := domain.Patch{Bounds: fromBound(f.Geometry.Bound())}
		var ok bool
		if p.Tile, ok = f.Properties["tile"].(string); !ok {
			return nil, fmt.Errorf("%s: feature %d: missing tile", path, i)
		}
		p.Row = int(number(f.Properties["row"]))
		p.Col = int(number(f.Properties["col"]))
		p.MeanDiff = number(f.Properties["mean_diff"])
		patches = append(patches, p)
	}
	return patches, nil
}

// ReadCSV loads the attribute rows of a patch layer.
func ReadCSV(path string) ([]PatchRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	var rows []PatchRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		if errors.Is(err, gocsv.ErrEmptyCSVFile) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode csv %s: %w", path, err)
	}
	return rows, nil
}

// ReadPatches loads the GeoJSON layer at path.
func (Store) ReadPatches(path string) ([]domain.Patch, error) {
	return ReadGeoJSON(path)
}

// ListLayers lists the GeoJSON layers in dir.
func (Store) ListLayers(dir string) ([]string, error) {
	return ListLayers(dir)
}

// ListLayers returns the GeoJSON patch layers in dir, sorted by name.
// A missing directory yields no layers.
func ListLayers(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+GeoJSONExt))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return math.NaN()
}

func toBound(b domain.Bounds) orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinX, b.MinY}, Max: orb.Point{b.MaxX, b.MaxY}}
}

func fromBound(b orb.Bound) domain.Bounds {
	return domain.Bounds{MinX: b.Min.X(), MinY: b.Min.Y(), MaxX: b.Max.X(), MaxY: b.Max.Y()}
}
