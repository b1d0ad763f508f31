package vector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-change-etl/internal/domain"
)

func samplePatches() []domain.Patch {
	return []domain.Patch{
		{Tile: "T47QKV_diff", Row: 0, Col: 0, MeanDiff: 0.125,
			Bounds: domain.Bounds{MinX: 96.0, MinY: 21.9872, MaxX: 96.0128, MaxY: 22.0}},
		{Tile: "T47QKV_diff", Row: 0, Col: 128, MeanDiff: -0.5,
			Bounds: domain.Bounds{MinX: 96.0128, MinY: 21.9872, MaxX: 96.0256, MaxY: 22.0}},
	}
}

func TestWritePatches_RoundTrip(t *testing.T) {
	base := filepath.Join(t.TempDir(), "ndvi", "patch_stats_T47QKV_diff")

	require.NoError(t, Store{}.WritePatches(base, samplePatches()))

	got, err := Store{}.ReadPatches(base + GeoJSONExt)
	require.NoError(t, err)
	if diff := cmp.Diff(samplePatches(), got); diff != "" {
		t.Errorf("geojson round trip mismatch (-want +got):\n%s", diff)
	}

	rows, err := ReadCSV(base + CSVExt)
	require.NoError(t, err)
	assert.Equal(t, []PatchRow{
		{Tile: "T47QKV_diff", Row: 0, Col: 0, MeanDiff: 0.125},
		{Tile: "T47QKV_diff", Row: 0, Col: 128, MeanDiff: -0.5},
	}, rows)
}

func TestWriteCSV_HasNoGeometry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.csv")
	require.NoError(t, WriteCSV(path, samplePatches()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "tile,row,col,mean_diff\nT47QKV_diff,0,0,0.125\nT47QKV_diff,0,128,-0.5\n", string(data))
}

func TestFeatureCollection_Properties(t *testing.T) {
	fc := FeatureCollection(samplePatches())

	require.Len(t, fc.Features, 2)
	f := fc.Features[1]
	assert.Equal(t, "Polygon", f.Geometry.GeoJSONType())
	assert.Equal(t, "T47QKV_diff", f.Properties["tile"])
	assert.Equal(t, 128, f.Properties["col"])
	assert.Equal(t, -0.5, f.Properties["mean_diff"])
}

func TestWritePatches_Empty(t *testing.T) {
	base := filepath.Join(t.TempDir(), "patch_stats_T46QHM_diff")
	require.NoError(t, Store{}.WritePatches(base, nil))

	got, err := ReadGeoJSON(base + GeoJSONExt)
	require.NoError(t, err)
	assert.Empty(t, got)

	rows, err := ReadCSV(base + CSVExt)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReadGeoJSON_MissingTile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Point","coordinates":[96,22]},"properties":{}}]}`), 0o644))

	_, err := ReadGeoJSON(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing tile")
}

func TestListLayers(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"patch_stats_b_diff.geojson", "patch_stats_a_diff.geojson", "patch_stats_a_diff.csv"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644))
	}

	layers, err := ListLayers(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "patch_stats_a_diff.geojson"),
		filepath.Join(dir, "patch_stats_b_diff.geojson"),
	}, layers)

	none, err := ListLayers(filepath.Join(dir, "absent"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAOI_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aoi", "aoi_bbox.geojson")
	bbox := domain.Bounds{MinX: 95.5, MinY: 17.05, MaxX: 98.4, MaxY: 27.5}

	require.NoError(t, WriteAOI(path, "sagaing_fault", bbox))

	got, err := ReadAOI(path)
	require.NoError(t, err)
	assert.Equal(t, bbox, got)
}

func TestReadAOI_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aoi.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"FeatureCollection","features":[]}`), 0o644))

	_, err := ReadAOI(path)
	require.Error(t, err)
}

func TestReadAOI_NullGeometry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aoi.geojson")
	body := `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":null,"properties":{"name":"aoi_bbox"}}]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	_, err := ReadAOI(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no feature with a geometry")
}

func TestReadAOI_SkipsNullGeometry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aoi.geojson")
	body := `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":null,"properties":{}},
		{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[96,19],[97,19],[97,23],[96,23],[96,19]]]},"properties":{}}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	got, err := ReadAOI(path)
	require.NoError(t, err)
	assert.Equal(t, domain.Bounds{MinX: 96, MinY: 19, MaxX: 97, MaxY: 23}, got)
}
