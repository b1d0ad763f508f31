package pipeline_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-change-etl/internal/adapter/vector"
	"github.com/couchcryptid/quake-change-etl/internal/config"
	"github.com/couchcryptid/quake-change-etl/internal/domain"
	"github.com/couchcryptid/quake-change-etl/internal/observability"
	"github.com/couchcryptid/quake-change-etl/internal/pipeline"
)

// --- mocks ---

type memStacks struct {
	stacks map[string]domain.BandStack
	errs   map[string]error
}

func (m *memStacks) ReadStack(path string) (domain.BandStack, error) {
	if err := m.errs[path]; err != nil {
		return domain.BandStack{}, err
	}
	s, ok := m.stacks[path]
	if !ok {
		return domain.BandStack{}, fmt.Errorf("open %s: %w", path, os.ErrNotExist)
	}
	return s, nil
}

// memRasters keeps rasters in memory and leaves an empty file at each path
// so directory listings see them. Reprojection moves the raster onto a
// lon/lat grid at 0.0001 degrees unless keepCRS is set.
type memRasters struct {
	data         map[string]domain.Raster
	keepCRS      bool
	reprojectErr error
}

func touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, nil, 0o644)
}

func (m *memRasters) ReadIndex(path string) (domain.Raster, error) {
	r, ok := m.data[path]
	if !ok {
		return domain.Raster{}, fmt.Errorf("open %s: %w", path, os.ErrNotExist)
	}
	return r, nil
}

func (m *memRasters) WriteNative(path string, r domain.Raster) error {
	m.data[path] = r
	return touch(path)
}

func (m *memRasters) WriteReprojected(path string, r domain.Raster) error {
	if m.reprojectErr != nil {
		return m.reprojectErr
	}
	if !m.keepCRS {
		r = domain.Raster{Grid: r.Grid, Transform: domain.NorthUp(96.0, 21.0, 0.0001), CRS: "EPSG:4326"}
	}
	m.data[path] = r
	return touch(path)
}

type mockPublisher struct {
	published []domain.Patch
	err       error
}

func (m *mockPublisher) PublishPatches(_ context.Context, _ string, _ domain.Index, patches []domain.Patch) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, patches...)
	return nil
}

type mockLedger struct {
	mu       sync.Mutex
	reports  []*domain.Report
	patches  int
	hotspots []domain.Hotspot
}

func (m *mockLedger) RecordReport(_ context.Context, r *domain.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return nil
}

func (m *mockLedger) RecordPatches(_ context.Context, _ string, _ domain.Index, patches []domain.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patches += len(patches)
	return nil
}

func (m *mockLedger) RecordHotspots(_ context.Context, _ string, hs []domain.Hotspot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hotspots = append(m.hotspots, hs...)
	return nil
}

type mockGeocoder struct{}

func (mockGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (domain.GeocodingResult, error) {
	return domain.GeocodingResult{PlaceName: "Sagaing", FormattedAddress: "Sagaing, Myanmar"}, nil
}

type mockStacker struct {
	granules map[string][]string
	errs     map[string]error
	stacked  []string
}

func (m *mockStacker) ListGranules(dir string) ([]string, error) {
	g, ok := m.granules[dir]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", dir, os.ErrNotExist)
	}
	return g, nil
}

func (m *mockStacker) StackGranule(granuleDir, out string) error {
	if err := m.errs[granuleDir]; err != nil {
		return err
	}
	m.stacked = append(m.stacked, out)
	return nil
}

// --- fixtures ---

type harness struct {
	cfg       *config.Config
	stacks    *memStacks
	rasters   *memRasters
	publisher *mockPublisher
	ledger    *mockLedger
	metrics   *observability.Metrics
	logs      *bytes.Buffer
	deps      pipeline.Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		RawPreDir:          filepath.Join(root, "raw", "pre_event"),
		RawPostDir:         filepath.Join(root, "raw", "post_event"),
		AOIPath:            filepath.Join(root, "aoi", "aoi_bbox.geojson"),
		StackDir:           filepath.Join(root, "stacks"),
		IndicesDir:         filepath.Join(root, "indices"),
		PatchStatsDir:      filepath.Join(root, "patch_stats"),
		VisualsDir:         filepath.Join(root, "visuals"),
		PatchMapsDir:       filepath.Join(root, "patch_maps"),
		InteractiveMapPath: filepath.Join(root, "maps", "map_grouped.html"),
		AOIBBox:            domain.Bounds{MinX: 95.5, MinY: 17.05, MaxX: 98.4, MaxY: 27.5},
		StackEPSG:          32646,
		Indices:            []domain.Index{domain.NDVI},
		NDWIFormula:        domain.NDWIGao,
		PatchSize:          domain.DefaultPatchSize,
		TargetResolution:   0.0001,
		HotspotCount:       2,
	}
	h := &harness{
		cfg:       cfg,
		stacks:    &memStacks{stacks: map[string]domain.BandStack{}, errs: map[string]error{}},
		rasters:   &memRasters{data: map[string]domain.Raster{}},
		publisher: &mockPublisher{},
		ledger:    &mockLedger{},
		metrics:   observability.NewMetricsForTesting(),
		logs:      &bytes.Buffer{},
	}
	h.deps = pipeline.Deps{
		Stacks:    h.stacks,
		Rasters:   h.rasters,
		Vectors:   vector.Store{},
		Publisher: h.publisher,
		Ledger:    h.ledger,
	}
	return h
}

func (h *harness) pipeline() *pipeline.Pipeline {
	logger := slog.New(slog.NewJSONHandler(h.logs, nil))
	return pipeline.New(h.cfg, h.deps, logger, h.metrics)
}

// addStack registers a stack under <stacks>/<phase>/<name>.
func (h *harness) addStack(t *testing.T, phase domain.Phase, name string, s domain.BandStack) string {
	t.Helper()
	path := filepath.Join(h.cfg.Layout().StackDirFor(phase), name)
	require.NoError(t, touch(path))
	h.stacks.stacks[path] = s
	return path
}

// addPair registers identical-shape pre and post stacks for tile.
func (h *harness) addPair(t *testing.T, tile string, pre, post domain.BandStack) {
	t.Helper()
	h.addStack(t, domain.PhasePre, "S2A_MSIL2A_20250320_"+tile+domain.StackSuffix, pre)
	h.addStack(t, domain.PhasePost, "S2B_MSIL2A_20250404_"+tile+domain.StackSuffix, post)
}

// bandStack builds a size×size UTM stack with RED and NIR as given.
func bandStack(size int, red, nir float32) domain.BandStack {
	values := [domain.BandCount]float32{50, 60, red, nir, 150, 120}
	s := domain.BandStack{Transform: domain.NorthUp(600000, 2302560, 10), CRS: "EPSG:32646"}
	for _, v := range values {
		g := domain.NewGrid(size, size)
		for i := range g.Data {
			g.Data[i] = v
		}
		s.Bands = append(s.Bands, g)
	}
	return s
}

// logEntries returns the decoded JSON log records with the given message.
func (h *harness) logEntries(t *testing.T, msg string) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(bytes.NewReader(h.logs.Bytes()))
	for dec.More() {
		var rec map[string]any
		require.NoError(t, dec.Decode(&rec))
		if rec["msg"] == msg {
			out = append(out, rec)
		}
	}
	return out
}

var errBoom = errors.New("boom")
