package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/couchcryptid/quake-change-etl/internal/domain"
)

// AOI writes the configured bounding box as a GeoJSON polygon.
func (p *Pipeline) AOI(_ context.Context) (*domain.Report, error) {
	if err := p.deps.Vectors.WriteAOI(p.cfg.AOIPath, "aoi_bbox", p.cfg.AOIBBox); err != nil {
		return nil, err
	}
	p.logger.Info("AOI written", "path", p.cfg.AOIPath, "bounds", p.cfg.AOIBBox)

	report := domain.NewReport(string(StageAOI))
	t := p.begin(report, "", 1)
	t.record(succeeded("", filepath.Base(p.cfg.AOIPath), 0), 0)
	t.done()
	return report, nil
}

// Stack clips every raw pre and post granule to the AOI and writes one band
// stack per granule. Granules that miss a band or fall outside the AOI are
// skipped; a missing raw directory is fatal.
func (p *Pipeline) Stack(ctx context.Context) (*domain.Report, error) {
	if p.deps.Stacker == nil {
		return nil, errors.New("no granule stacker configured")
	}

	phases := []struct {
		phase domain.Phase
		dir   string
	}{
		{domain.PhasePre, p.cfg.RawPreDir},
		{domain.PhasePost, p.cfg.RawPostDir},
	}
	granules := make([][]string, len(phases))
	for i, ph := range phases {
		g, err := p.deps.Stacker.ListGranules(ph.dir)
		if err != nil {
			return nil, fmt.Errorf("raw %s-event directory: %w", ph.phase, err)
		}
		granules[i] = g
	}

	report := domain.NewReport(string(StageStack))
	for i, ph := range phases {
		outDir := p.layout.StackDirFor(ph.phase)
		step := "stack_" + string(ph.phase)

		t := p.begin(report, "", len(granules[i]))
		for _, g := range granules[i] {
			if err := ctx.Err(); err != nil {
				t.done()
				return report, err
			}
			start := time.Now()
			name := filepath.Base(g)

			var o domain.Outcome
			err := p.deps.Stacker.StackGranule(g, filepath.Join(outDir, domain.StackName(g)))
			switch {
			case errors.Is(err, domain.ErrGranuleUnusable):
				o = skipped("", name, step, err)
			case err != nil:
				o = failed("", name, step, err)
			default:
				o = succeeded("", name, 0)
			}
			t.record(o, time.Since(start))
		}
		t.done()
	}
	return report, nil
}
