package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/quake-change-etl/internal/domain"
)

// Indices computes every configured index for every tile present in both
// the pre and post stack directories, then writes the reprojected
// difference raster. A missing stack directory or an empty pairing is fatal;
// anything else is recorded as a tile outcome and the batch moves on.
func (p *Pipeline) Indices(ctx context.Context) (*domain.Report, error) {
	pairs, err := p.commonTiles()
	if err != nil {
		return nil, err
	}

	report := domain.NewReport(string(StageIndices))
	for _, idx := range p.cfg.Indices {
		formula := p.formulas[idx]
		p.logger.Info("computing index", "index", idx, "formula", formula.String(), "tiles", len(pairs))

		t := p.begin(report, idx, len(pairs))
		for _, pair := range pairs {
			if err := ctx.Err(); err != nil {
				t.done()
				return report, err
			}
			start := time.Now()
			t.record(p.indexTile(formula, pair), time.Since(start))
		}
		t.done()
	}
	return report, nil
}

// commonTiles pairs the pre and post stacks by tile ID.
func (p *Pipeline) commonTiles() ([]domain.TilePair, error) {
	preDir := p.layout.StackDirFor(domain.PhasePre)
	postDir := p.layout.StackDirFor(domain.PhasePost)

	pre, err := listFiles(preDir)
	if err != nil {
		return nil, fmt.Errorf("pre-event stack directory: %w", err)
	}
	post, err := listFiles(postDir)
	if err != nil {
		return nil, fmt.Errorf("post-event stack directory: %w", err)
	}

	pairs, unmatched, err := domain.PairTiles(pre, post)
	for _, tile := range unmatched {
		p.logger.Warn("tile has no pre/post counterpart, skipping", "tile", tile)
	}
	if err != nil {
		return nil, err
	}
	p.logger.Info("tiles paired", "count", len(pairs), "pre_dir", preDir, "post_dir", postDir)
	return pairs, nil
}

// indexTile runs read, compute, write for both phases, then re-reads the
// written rasters so the difference is computed from what is on disk.
func (p *Pipeline) indexTile(f domain.Formula, pair domain.TilePair) domain.Outcome {
	idx, tile := f.Index, pair.Tile

	sides := []struct {
		phase domain.Phase
		path  string
	}{
		{domain.PhasePre, pair.Pre},
		{domain.PhasePost, pair.Post},
	}
	for _, s := range sides {
		stack, err := p.deps.Stacks.ReadStack(s.path)
		if err != nil {
			return failed(idx, tile, "read_"+string(s.phase), err)
		}
		p.verifyInput(s.path, stack)

		r, err := domain.ComputeIndex(stack, f)
		if err != nil {
			return failed(idx, tile, "compute_"+string(s.phase), err)
		}
		if err := p.deps.Rasters.WriteNative(p.layout.IndexPath(idx, s.phase, tile), r); err != nil {
			return failed(idx, tile, "write_"+string(s.phase), err)
		}
	}

	pre, err := p.deps.Rasters.ReadIndex(p.layout.IndexPath(idx, domain.PhasePre, tile))
	if err != nil {
		return failed(idx, tile, "reread_pre", err)
	}
	post, err := p.deps.Rasters.ReadIndex(p.layout.IndexPath(idx, domain.PhasePost, tile))
	if err != nil {
		return failed(idx, tile, "reread_post", err)
	}

	diff, err := domain.Difference(pre, post)
	if errors.Is(err, domain.ErrNotCongruent) {
		return skipped(idx, tile, "difference", err)
	}
	if err != nil {
		return failed(idx, tile, "difference", err)
	}

	if err := p.deps.Rasters.WriteReprojected(p.layout.DiffPath(idx, tile), diff); err != nil {
		return failed(idx, tile, "reproject", err)
	}

	p.logger.Info("difference written",
		"index", idx,
		"tile", tile,
		"path", p.layout.DiffPath(idx, tile),
		"valid_pixels", diff.ValidCount(),
	)
	return succeeded(idx, tile, 0)
}

// verifyInput logs the georeferencing of the first stack read in a run.
func (p *Pipeline) verifyInput(path string, s domain.BandStack) {
	if p.verified {
		return
	}
	p.verified = true

	px, py := s.Transform.PixelSize()
	p.logger.Debug("input stack",
		"path", path,
		"crs", s.CRS,
		"transform", s.Transform,
		"resolution", []float64{px, py},
		"shape", s.Band(domain.Blue).Shape(),
		"valid_red_pixels", domain.Raster{Grid: s.Band(domain.Red)}.ValidCount(),
	)
	if px == 0 || py == 0 {
		p.logger.Warn("input stack has zero pixel size", "path", path)
	}
}
