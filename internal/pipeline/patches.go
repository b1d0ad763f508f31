package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/quake-change-etl/internal/domain"
)

// Patches aggregates every difference raster of each configured index into
// patch layers, optionally publishing and recording them, and reports the
// strongest changes of every tile as hotspots.
func (p *Pipeline) Patches(ctx context.Context) (*domain.Report, error) {
	report := domain.NewReport(string(StagePatches))
	for _, idx := range p.cfg.Indices {
		diffs, err := listDiffs(p.layout.DiffDir(idx))
		t := p.begin(report, idx, len(diffs))
		if err != nil {
			t.record(skipped(idx, "", "list_diffs", err), 0)
			continue
		}

		var hotspots []domain.Hotspot
		for _, path := range diffs {
			if err := ctx.Err(); err != nil {
				t.done()
				return report, err
			}
			start := time.Now()
			o, patches := p.patchLayer(ctx, report.RunID, idx, path)
			t.record(o, time.Since(start))
			hotspots = append(hotspots, domain.TopHotspots(idx, patches, p.cfg.HotspotCount)...)
		}
		t.done()
		p.reportHotspots(ctx, report.RunID, hotspots)
	}
	return report, nil
}

// patchLayer aggregates one difference raster. The returned patches are
// nil unless the layer was written.
func (p *Pipeline) patchLayer(ctx context.Context, runID string, idx domain.Index, path string) (domain.Outcome, []domain.Patch) {
	stem := domain.Stem(path)
	tile, ok := domain.ExtractTileID(stem)
	if !ok {
		return skipped(idx, stem, "tile_id", fmt.Errorf("no tile ID in %s", path)), nil
	}

	r, err := p.deps.Rasters.ReadIndex(path)
	if err != nil {
		return failed(idx, tile, "read_diff", err), nil
	}
	if !r.Extent().IsGeographic() {
		p.logger.Warn("difference raster is not in lon/lat", "index", idx, "tile", tile, "bounds", r.Extent())
	}

	patches, stats := domain.AggregatePatches(r, stem, p.cfg.PatchSize)
	for _, b := range stats.Rejected {
		p.logger.Warn("patch bounds outside lon/lat range, skipping",
			"index", idx, "tile", tile, "row", b.Row, "col", b.Col, "bounds", b.Bounds)
	}
	p.metrics.PatchesRejected.WithLabelValues(string(idx)).Add(float64(len(stats.Rejected)))

	if err := p.deps.Vectors.WritePatches(p.layout.PatchStatsBase(idx, stem), patches); err != nil {
		return failed(idx, tile, "write_patches", err), nil
	}
	p.metrics.PatchesEmitted.WithLabelValues(string(idx)).Add(float64(len(patches)))

	summary := domain.SummarizePatches(patches)
	p.logger.Info("patch layer written",
		"index", idx,
		"tile", tile,
		"patches", len(patches),
		"blocks", stats.Blocks,
		"empty_blocks", stats.Empty,
		"mean", summary.Mean,
		"std_dev", summary.StdDev,
		"min", summary.Min,
		"p05", summary.P05,
		"median", summary.Median,
		"p95", summary.P95,
		"max", summary.Max,
	)

	if p.deps.Ledger != nil {
		if err := p.deps.Ledger.RecordPatches(ctx, runID, idx, patches); err != nil {
			p.logger.Warn("record patches failed", "index", idx, "tile", tile, "error", err)
		}
	}

	if p.deps.Publisher != nil {
		if err := p.deps.Publisher.PublishPatches(ctx, runID, idx, patches); err != nil {
			o := failed(idx, tile, "publish", err)
			o.Patches = len(patches)
			return o, patches
		}
		p.metrics.PatchesPublished.Add(float64(len(patches)))
	}
	return succeeded(idx, tile, len(patches)), patches
}

// reportHotspots labels, logs and records the hotspots of one index.
func (p *Pipeline) reportHotspots(ctx context.Context, runID string, hotspots []domain.Hotspot) {
	if len(hotspots) == 0 {
		return
	}
	hotspots = domain.LabelHotspots(ctx, hotspots, p.deps.Geocoder, p.logger)
	for _, h := range hotspots {
		p.logger.Info("change hotspot",
			"index", h.Index,
			"tile", h.Tile,
			"row", h.Row,
			"col", h.Col,
			"mean_diff", h.MeanDiff,
			"lat", h.Lat,
			"lon", h.Lon,
			"place", h.PlaceName,
		)
	}
	if p.deps.Ledger != nil {
		if err := p.deps.Ledger.RecordHotspots(ctx, runID, hotspots); err != nil {
			p.logger.Warn("record hotspots failed", "error", err)
		}
	}
}
