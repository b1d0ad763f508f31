package pipeline_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-change-etl/internal/adapter/vector"
	"github.com/couchcryptid/quake-change-etl/internal/domain"
	"github.com/couchcryptid/quake-change-etl/internal/pipeline"
)

const tile = "T47QKV"

func TestRun_Indices_EndToEnd(t *testing.T) {
	h := newHarness(t)
	h.addPair(t, tile, bandStack(256, 100, 200), bandStack(256, 100, 200))

	reports, err := h.pipeline().Run(context.Background(), pipeline.StageIndices)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].Count(domain.StatusOK))

	layout := h.cfg.Layout()
	pre := h.rasters.data[layout.IndexPath(domain.NDVI, domain.PhasePre, tile)]
	require.Equal(t, "256x256", pre.Shape())
	for _, v := range pre.Data {
		require.InDelta(t, 1.0/3.0, v, 1e-6)
	}

	diff := h.rasters.data[layout.DiffPath(domain.NDVI, tile)]
	assert.Equal(t, 256*256, diff.ValidCount(), "identical stacks leave no no-data")
	for _, v := range diff.Data {
		require.Zero(t, v)
	}
}

func TestRun_All(t *testing.T) {
	h := newHarness(t)
	h.deps.Geocoder = mockGeocoder{}
	h.addPair(t, tile, bandStack(256, 100, 200), bandStack(256, 100, 200))

	p := h.pipeline()
	reports, err := p.Run(context.Background(), pipeline.StageAll)
	require.NoError(t, err)
	require.Len(t, reports, 5)
	for _, r := range reports {
		assert.Empty(t, r.Failures(), r.Stage)
	}
	assert.Len(t, h.ledger.reports, 5)

	layout := h.cfg.Layout()
	base := layout.PatchStatsBase(domain.NDVI, tile+domain.DiffSuffix)
	patches, err := vector.ReadGeoJSON(base + vector.GeoJSONExt)
	require.NoError(t, err)
	require.Len(t, patches, 4)

	var origins [][2]int
	for _, patch := range patches {
		origins = append(origins, [2]int{patch.Row, patch.Col})
		assert.Equal(t, tile+domain.DiffSuffix, patch.Tile)
		assert.Zero(t, patch.MeanDiff)
		assert.True(t, patch.Bounds.IsGeographic())
	}
	assert.ElementsMatch(t, [][2]int{{0, 0}, {0, 128}, {128, 0}, {128, 128}}, origins)
	assert.FileExists(t, base+vector.CSVExt)

	assert.Len(t, h.publisher.published, 4)
	assert.Equal(t, 4, h.ledger.patches)
	require.Len(t, h.ledger.hotspots, 2)
	assert.Equal(t, "Sagaing", h.ledger.hotspots[0].PlaceName)

	assert.FileExists(t, layout.VisualPath(domain.NDVI, domain.PhasePre, tile))
	assert.FileExists(t, layout.VisualPath(domain.NDVI, domain.PhasePost, tile))
	assert.FileExists(t, layout.VisualPath(domain.NDVI, domain.PhaseDiff, tile+domain.DiffSuffix))
	assert.FileExists(t, layout.PatchMapPath(domain.NDVI, tile+domain.DiffSuffix))
	assert.FileExists(t, h.cfg.InteractiveMapPath)

	assert.InDelta(t, 4.0, testutil.ToFloat64(h.metrics.PatchesEmitted.WithLabelValues("ndvi")), 0)
	assert.InDelta(t, 4.0, testutil.ToFloat64(h.metrics.PatchesPublished), 0)
	assert.InDelta(t, 0.0, testutil.ToFloat64(h.metrics.PipelineRunning), 0)
}

func TestIndices_PartialCompletion(t *testing.T) {
	h := newHarness(t)
	h.addPair(t, "T47QKU", bandStack(64, 100, 200), bandStack(64, 100, 150))
	h.addPair(t, tile, bandStack(64, 100, 200), bandStack(64, 100, 200))
	bad := filepath.Join(h.cfg.Layout().StackDirFor(domain.PhasePre), "S2A_MSIL2A_20250320_T47QKU"+domain.StackSuffix)
	h.stacks.errs[bad] = errBoom

	p := h.pipeline()
	require.Error(t, p.CheckReadiness(context.Background()))

	reports, err := p.Run(context.Background(), pipeline.StageIndices)
	require.NoError(t, err)
	report := reports[0]

	assert.Equal(t, 1, report.Count(domain.StatusFailed))
	assert.Equal(t, 1, report.Count(domain.StatusOK))
	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "T47QKU", failures[0].Tile)
	assert.Equal(t, "read_pre", failures[0].Stage)
	assert.Equal(t, "boom", failures[0].Err)

	assert.Contains(t, h.rasters.data, h.cfg.Layout().DiffPath(domain.NDVI, tile), "later tile still processed")
	require.NoError(t, p.CheckReadiness(context.Background()))
	assert.InDelta(t, 1.0, testutil.ToFloat64(h.metrics.TilesProcessed.WithLabelValues("ndvi", "failed")), 0)

	progress := p.Progress()
	assert.Equal(t, report.RunID, progress.RunID)
	assert.Equal(t, 2, progress.Done)
	assert.Equal(t, 2, progress.Total)
	assert.Equal(t, 1, progress.Failed)
}

func TestIndices_ShapeMismatchSkipped(t *testing.T) {
	h := newHarness(t)
	h.addPair(t, tile, bandStack(64, 100, 200), bandStack(32, 100, 200))

	reports, err := h.pipeline().Run(context.Background(), pipeline.StageIndices)
	require.NoError(t, err)

	failures := reports[0].Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, domain.StatusSkipped, failures[0].Status)
	assert.Equal(t, "difference", failures[0].Stage)
	assert.NotContains(t, h.rasters.data, h.cfg.Layout().DiffPath(domain.NDVI, tile))
}

func TestIndices_ReprojectionFailure(t *testing.T) {
	h := newHarness(t)
	h.rasters.reprojectErr = errBoom
	h.addPair(t, tile, bandStack(16, 100, 200), bandStack(16, 100, 200))

	reports, err := h.pipeline().Run(context.Background(), pipeline.StageIndices)
	require.NoError(t, err)
	require.Len(t, reports[0].Failures(), 1)
	assert.Equal(t, "reproject", reports[0].Failures()[0].Stage)
}

func TestIndices_MissingStackDirIsFatal(t *testing.T) {
	h := newHarness(t)

	reports, err := h.pipeline().Run(context.Background(), pipeline.StageIndices)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pre-event stack directory")
	assert.Empty(t, reports)
}

func TestIndices_NoCommonTilesIsFatal(t *testing.T) {
	h := newHarness(t)
	h.addStack(t, domain.PhasePre, "S2A_T47QKV"+domain.StackSuffix, bandStack(8, 1, 2))
	h.addStack(t, domain.PhasePost, "S2B_T47QKU"+domain.StackSuffix, bandStack(8, 1, 2))

	_, err := h.pipeline().Run(context.Background(), pipeline.StageIndices)
	require.ErrorIs(t, err, domain.ErrNoCommonTiles)
}

func TestIndices_Cancelled(t *testing.T) {
	h := newHarness(t)
	h.addPair(t, tile, bandStack(8, 100, 200), bandStack(8, 100, 200))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reports, err := h.pipeline().Run(ctx, pipeline.StageIndices)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, reports, 1)
	assert.Empty(t, reports[0].Outcomes)
	assert.Len(t, h.ledger.reports, 1, "partial report still recorded")
}

func TestIndices_NDWIVariantSelectable(t *testing.T) {
	h := newHarness(t)
	h.cfg.Indices = []domain.Index{domain.NDWI}
	h.cfg.NDWIFormula = domain.NDWIMcFeeters
	h.addPair(t, tile, bandStack(8, 100, 200), bandStack(8, 100, 200))

	_, err := h.pipeline().Run(context.Background(), pipeline.StageIndices)
	require.NoError(t, err)

	pre := h.rasters.data[h.cfg.Layout().IndexPath(domain.NDWI, domain.PhasePre, tile)]
	assert.InDelta(t, (60.0-200.0)/(60.0+200.0), pre.At(0, 0), 1e-6)
}

func TestPatches_PublishFailureRecorded(t *testing.T) {
	h := newHarness(t)
	h.publisher.err = errBoom
	h.addPair(t, tile, bandStack(128, 100, 200), bandStack(128, 100, 100))

	p := h.pipeline()
	_, err := p.Run(context.Background(), pipeline.StageIndices)
	require.NoError(t, err)
	reports, err := p.Run(context.Background(), pipeline.StagePatches)
	require.NoError(t, err)

	failures := reports[0].Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "publish", failures[0].Stage)
	assert.Equal(t, 1, failures[0].Patches)
	assert.FileExists(t, h.cfg.Layout().PatchStatsBase(domain.NDVI, tile+domain.DiffSuffix)+vector.GeoJSONExt)
}

func TestPatches_RejectsNonGeographicBlocks(t *testing.T) {
	h := newHarness(t)
	h.rasters.keepCRS = true
	h.addPair(t, tile, bandStack(256, 100, 200), bandStack(256, 100, 100))

	p := h.pipeline()
	_, err := p.Run(context.Background(), pipeline.StageIndices)
	require.NoError(t, err)
	reports, err := p.Run(context.Background(), pipeline.StagePatches)
	require.NoError(t, err)

	assert.Zero(t, reports[0].Patches())
	assert.InDelta(t, 4.0, testutil.ToFloat64(h.metrics.PatchesRejected.WithLabelValues("ndvi")), 0)
	rows, err := vector.ReadCSV(h.cfg.Layout().PatchStatsBase(domain.NDVI, tile+domain.DiffSuffix) + vector.CSVExt)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPatches_HotspotsOrderedByMagnitude(t *testing.T) {
	h := newHarness(t)
	h.cfg.HotspotCount = 1
	post := bandStack(256, 100, 200)
	// Drop NIR in the lower-right block so its NDVI falls to zero there.
	nir := post.Bands[domain.NIR]
	for row := 128; row < 256; row++ {
		for col := 128; col < 256; col++ {
			nir.Set(col, row, 100)
		}
	}
	h.addPair(t, tile, bandStack(256, 100, 200), post)

	p := h.pipeline()
	_, err := p.Run(context.Background(), pipeline.StageIndices)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), pipeline.StagePatches)
	require.NoError(t, err)

	require.Len(t, h.ledger.hotspots, 1)
	hs := h.ledger.hotspots[0]
	assert.Equal(t, 128, hs.Row)
	assert.Equal(t, 128, hs.Col)
	assert.InDelta(t, -1.0/3.0, hs.MeanDiff, 1e-6)
	assert.Empty(t, hs.PlaceName, "no geocoder configured")
}

func TestPatches_LogsLayerDistribution(t *testing.T) {
	h := newHarness(t)
	post := bandStack(256, 100, 200)
	nir := post.Bands[domain.NIR]
	for row := 128; row < 256; row++ {
		for col := 128; col < 256; col++ {
			nir.Set(col, row, 100)
		}
	}
	h.addPair(t, tile, bandStack(256, 100, 200), post)

	p := h.pipeline()
	_, err := p.Run(context.Background(), pipeline.StageIndices)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), pipeline.StagePatches)
	require.NoError(t, err)

	entries := h.logEntries(t, "patch layer written")
	require.Len(t, entries, 1)
	e := entries[0]
	assert.InDelta(t, 4.0, e["patches"], 0)
	assert.InDelta(t, -1.0/12.0, e["mean"], 1e-6)
	assert.InDelta(t, 1.0/6.0, e["std_dev"], 1e-6)
	assert.InDelta(t, -1.0/3.0, e["min"], 1e-6)
	assert.InDelta(t, -1.0/3.0, e["p05"], 1e-6)
	assert.InDelta(t, 0.0, e["median"], 1e-6)
	assert.InDelta(t, 0.0, e["p95"], 1e-6)
	assert.InDelta(t, 0.0, e["max"], 1e-6)
}

func TestPatches_MissingDiffDirSkipped(t *testing.T) {
	h := newHarness(t)

	reports, err := h.pipeline().Run(context.Background(), pipeline.StagePatches)
	require.NoError(t, err)
	assert.Equal(t, 1, reports[0].Count(domain.StatusSkipped))
}

func TestStack(t *testing.T) {
	h := newHarness(t)
	stacker := &mockStacker{
		granules: map[string][]string{
			h.cfg.RawPreDir:  {filepath.Join(h.cfg.RawPreDir, "S2A_MSIL2A_20250320_T47QKV.SAFE")},
			h.cfg.RawPostDir: {filepath.Join(h.cfg.RawPostDir, "S2B_MSIL2A_20250404_T47QKV.SAFE"), filepath.Join(h.cfg.RawPostDir, "S2B_far.SAFE")},
		},
		errs: map[string]error{
			filepath.Join(h.cfg.RawPostDir, "S2B_far.SAFE"): domain.ErrGranuleUnusable,
		},
	}
	h.deps.Stacker = stacker

	reports, err := h.pipeline().Run(context.Background(), pipeline.StageStack)
	require.NoError(t, err)
	report := reports[0]
	assert.Equal(t, 2, report.Count(domain.StatusOK))
	assert.Equal(t, 1, report.Count(domain.StatusSkipped))
	assert.Contains(t, stacker.stacked,
		filepath.Join(h.cfg.StackDir, "post", "S2B_MSIL2A_20250404_T47QKV"+domain.StackSuffix))
}

func TestStack_MissingRawDirIsFatal(t *testing.T) {
	h := newHarness(t)
	h.deps.Stacker = &mockStacker{granules: map[string][]string{h.cfg.RawPreDir: nil}}

	_, err := h.pipeline().Run(context.Background(), pipeline.StageStack)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "raw post-event directory")
}

func TestStack_RequiresStacker(t *testing.T) {
	_, err := newHarness(t).pipeline().Run(context.Background(), pipeline.StageStack)
	require.Error(t, err)
}

func TestAOI(t *testing.T) {
	h := newHarness(t)

	reports, err := h.pipeline().Run(context.Background(), pipeline.StageAOI)
	require.NoError(t, err)
	assert.Equal(t, 1, reports[0].Count(domain.StatusOK))

	got, err := vector.ReadAOI(h.cfg.AOIPath)
	require.NoError(t, err)
	assert.Equal(t, h.cfg.AOIBBox, got)
}

func TestPlot_NoLayersSkipped(t *testing.T) {
	h := newHarness(t)

	reports, err := h.pipeline().Run(context.Background(), pipeline.StagePlot)
	require.NoError(t, err)
	assert.Equal(t, 1, reports[0].Count(domain.StatusSkipped))
}

func TestMap_WritesEvenWithoutLayers(t *testing.T) {
	h := newHarness(t)

	_, err := h.pipeline().Run(context.Background(), pipeline.StageMap)
	require.NoError(t, err)
	assert.FileExists(t, h.cfg.InteractiveMapPath)
}

func TestParseStage(t *testing.T) {
	for _, s := range []string{"aoi", "stack", "indices", "patches", "visualize", "plot", "map", "all"} {
		st, err := pipeline.ParseStage(s)
		require.NoError(t, err)
		assert.Equal(t, pipeline.Stage(s), st)
	}
	_, err := pipeline.ParseStage("download")
	require.Error(t, err)
}

func TestRun_StageErrorWrapsStageName(t *testing.T) {
	h := newHarness(t)
	_, err := h.pipeline().Run(context.Background(), pipeline.StageIndices)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage indices")
	assert.False(t, errors.Is(err, domain.ErrNoCommonTiles))
}
