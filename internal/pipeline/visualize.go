package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/couchcryptid/quake-change-etl/internal/domain"
	"github.com/couchcryptid/quake-change-etl/internal/render"
)

// Visualize renders the pre, post and difference rasters of every tile as
// PNGs. Tiles missing any of the three rasters are skipped.
func (p *Pipeline) Visualize(ctx context.Context) (*domain.Report, error) {
	report := domain.NewReport(string(StageVisualize))
	for _, idx := range p.cfg.Indices {
		diffs, err := listDiffs(p.layout.DiffDir(idx))
		t := p.begin(report, idx, len(diffs))
		if err != nil {
			t.record(skipped(idx, "", "list_diffs", err), 0)
			continue
		}
		for _, path := range diffs {
			if err := ctx.Err(); err != nil {
				t.done()
				return report, err
			}
			start := time.Now()
			tile, ok := domain.ExtractTileID(path)
			if !ok {
				t.record(skipped(idx, domain.Stem(path), "tile_id", fmt.Errorf("no tile ID in %s", path)), 0)
				continue
			}
			t.record(p.visualizeTile(idx, tile), time.Since(start))
		}
		t.done()
	}
	return report, nil
}

func (p *Pipeline) visualizeTile(idx domain.Index, tile string) domain.Outcome {
	name := strings.ToUpper(string(idx))
	figures := []struct {
		phase domain.Phase
		path  string
		stem  string
		cmap  render.Colormap
		title string
	}{
		{domain.PhasePre, p.layout.IndexPath(idx, domain.PhasePre, tile), tile,
			render.IndexColormap(idx), fmt.Sprintf("%s - Pre (%s)", name, tile)},
		{domain.PhasePost, p.layout.IndexPath(idx, domain.PhasePost, tile), tile,
			render.IndexColormap(idx), fmt.Sprintf("%s - Post (%s)", name, tile)},
		{domain.PhaseDiff, p.layout.DiffPath(idx, tile), tile + domain.DiffSuffix,
			render.Bwr, fmt.Sprintf("%s Difference (%s)", name, tile)},
	}

	for _, f := range figures {
		if _, err := os.Stat(f.path); err != nil {
			return skipped(idx, tile, "visualize", fmt.Errorf("missing %s raster: %w", f.phase, err))
		}
	}
	for _, f := range figures {
		r, err := p.deps.Rasters.ReadIndex(f.path)
		if err != nil {
			return failed(idx, tile, "read_"+string(f.phase), err)
		}
		img := render.Raster(r.Grid, f.cmap, render.IndexRange, f.title)
		if err := render.WritePNG(p.layout.VisualPath(idx, f.phase, f.stem), img); err != nil {
			return failed(idx, tile, "render_"+string(f.phase), err)
		}
	}
	p.logger.Info("visualizations saved", "index", idx, "tile", tile)
	return succeeded(idx, tile, 0)
}

// Plot renders every patch layer of an index on a shared colour scale: the
// global finite [min, max] of mean_diff across the index's layers, split at
// zero.
func (p *Pipeline) Plot(ctx context.Context) (*domain.Report, error) {
	report := domain.NewReport(string(StagePlot))
	for _, idx := range p.cfg.Indices {
		layers, loaded, errs := p.loadLayers(idx)

		t := p.begin(report, idx, len(layers))
		lo, hi, ok := domain.ValueRange(loaded...)
		if !ok {
			for i, path := range layers {
				t.record(layerOutcome(idx, path, "plot", errs[i], errors.New("no finite mean_diff in index")), 0)
			}
			if len(layers) == 0 {
				t.record(skipped(idx, "", "plot", errors.New("no patch layers")), 0)
			}
			t.done()
			continue
		}
		p.logger.Info("patch colour range", "index", idx, "min", lo, "max", hi)
		norm := render.TwoSlope{Min: lo, Center: 0, Max: hi}

		for i, path := range layers {
			if err := ctx.Err(); err != nil {
				t.done()
				return report, err
			}
			start := time.Now()
			t.record(p.plotLayer(idx, path, loaded[i], errs[i], norm), time.Since(start))
		}
		t.done()
	}
	return report, nil
}

func (p *Pipeline) plotLayer(idx domain.Index, path string, patches []domain.Patch, readErr error, norm render.Norm) domain.Outcome {
	stem := domain.PatchLayerStem(path)
	if readErr != nil {
		return layerOutcome(idx, path, "plot", readErr, nil)
	}
	title := fmt.Sprintf("%s Diff - %s", strings.ToUpper(string(idx)), stem)
	img, err := render.Patches(patches, render.PatchColormap(idx), norm, title)
	if errors.Is(err, render.ErrNoPatches) {
		return skipped(idx, layerTile(stem), "plot", err)
	}
	if err != nil {
		return failed(idx, layerTile(stem), "plot", err)
	}
	out := p.layout.PatchMapPath(idx, stem)
	if err := render.WritePNG(out, img); err != nil {
		return failed(idx, layerTile(stem), "plot", err)
	}
	p.logger.Info("patch map saved", "index", idx, "path", out)
	return succeeded(idx, layerTile(stem), len(patches))
}

// Map writes the interactive HTML map with one overlay group per index.
func (p *Pipeline) Map(ctx context.Context) (*domain.Report, error) {
	report := domain.NewReport(string(StageMap))
	var groups []render.MapGroup
	for _, idx := range p.cfg.Indices {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		layers, loaded, errs := p.loadLayers(idx)
		group := render.MapGroup{Index: idx}

		t := p.begin(report, idx, len(layers))
		for i, path := range layers {
			stem := domain.PatchLayerStem(path)
			if errs[i] != nil {
				t.record(layerOutcome(idx, path, "map", errs[i], nil), 0)
				continue
			}
			group.Layers = append(group.Layers, render.MapLayer{Stem: stem, Patches: loaded[i]})
			t.record(succeeded(idx, layerTile(stem), len(loaded[i])), 0)
		}
		t.done()
		groups = append(groups, group)
	}

	if err := render.WriteInteractiveMap(p.cfg.InteractiveMapPath, groups); err != nil {
		return report, fmt.Errorf("write interactive map: %w", err)
	}
	p.logger.Info("interactive map saved", "path", p.cfg.InteractiveMapPath)
	return report, nil
}

// loadLayers reads every patch layer of idx. errs[i] is set when layer i
// could not be read.
func (p *Pipeline) loadLayers(idx domain.Index) (layers []string, loaded [][]domain.Patch, errs []error) {
	layers, err := p.deps.Vectors.ListLayers(p.layout.PatchStatsDirFor(idx))
	if err != nil {
		p.logger.Warn("list patch layers failed", "index", idx, "error", err)
		return nil, nil, nil
	}
	loaded = make([][]domain.Patch, len(layers))
	errs = make([]error, len(layers))
	for i, path := range layers {
		loaded[i], errs[i] = p.deps.Vectors.ReadPatches(path)
	}
	return layers, loaded, errs
}

// layerOutcome is a failed outcome for an unreadable layer, or a skipped
// one with reason when the layer was read.
func layerOutcome(idx domain.Index, path, step string, readErr, reason error) domain.Outcome {
	tile := layerTile(domain.PatchLayerStem(path))
	if readErr != nil {
		return failed(idx, tile, step, readErr)
	}
	return skipped(idx, tile, step, reason)
}

func layerTile(stem string) string {
	if tile, ok := domain.ExtractTileID(stem); ok {
		return tile
	}
	return stem
}
