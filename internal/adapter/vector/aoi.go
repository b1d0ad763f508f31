package vector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/quake-change-etl/internal/domain"
)

// WriteAOI writes the area of interest as a one-feature GeoJSON polygon.
func WriteAOI(path, name string, b domain.Bounds) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create aoi dir: %w", err)
	}
	f := geojson.NewFeature(toBound(b).ToPolygon())
	f.Properties["name"] = name
	fc := geojson.NewFeatureCollection().Append(f)

	data, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("encode aoi: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write aoi: %w", err)
	}
	return nil
}

// ReadAOI returns the envelope of every feature in an AOI GeoJSON file.
// Features without a geometry are ignored.
func ReadAOI(path string) (domain.Bounds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Bounds{}, fmt.Errorf("read aoi: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return domain.Bounds{}, fmt.Errorf("decode aoi %s: %w", path, err)
	}

	var bound orb.Bound
	found := false
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		if found {
			bound = bound.Union(f.Geometry.Bound())
		} else {
			bound, found = f.Geometry.Bound(), true
		}
	}
	if !found {
		return domain.Bounds{}, fmt.Errorf("aoi %s has no feature with a geometry", path)
	}
	return fromBound(bound), nil
}

// WriteAOI writes the area of interest to path.
func (Store) WriteAOI(path, name string, b domain.Bounds) error {
	return WriteAOI(path, name, b)
}
