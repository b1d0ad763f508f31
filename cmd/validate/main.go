// Command validate checks the on-disk outputs of a pipeline run: every tile
// pair has pre, post and difference rasters, difference rasters are in
// EPSG:4326 at the configured resolution, and each patch layer's GeoJSON and
// CSV agree and stay inside the lon/lat range.
//
// Paths come from the same environment variables as the pipeline.
//
// Usage:
//
//	go run ./cmd/validate
package main

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/couchcryptid/quake-change-etl/internal/adapter/gdal"
	"github.com/couchcryptid/quake-change-etl/internal/adapter/vector"
	"github.com/couchcryptid/quake-change-etl/internal/config"
	"github.com/couchcryptid/quake-change-etl/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}
	if code := run(cfg); code != 0 {
		os.Exit(code)
	}
}

func run(cfg *config.Config) int {
	gdal.Register()
	layout := cfg.Layout()

	fmt.Println("=== Change Detection Output Validation ===")
	fmt.Println()

	pairs, err := loadPairs(layout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: pair stacks: %v\n", err)
		return 1
	}

	diffs := map[domain.Index][]string{}
	for _, idx := range cfg.Indices {
		paths, _ := filepath.Glob(filepath.Join(layout.DiffDir(idx), "*"+domain.DiffSuffix+".tif"))
		sort.Strings(paths)
		diffs[idx] = paths
	}

	infos := map[string]gdal.Info{}
	layers := map[string][]domain.Patch{}

	phases := []*phase{
		validateCompleteness(cfg.Indices, layout, pairs),
		validateDiffRasters(cfg, diffs, infos),
		validateLayerParity(cfg.Indices, layout, diffs, layers),
		validatePatchBounds(layers, infos),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Tiles: %d paired, %d difference rasters, %d patch layers, %d patches\n",
		len(pairs), len(infos), len(layers), countPatches(layers))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

func loadPairs(layout domain.Layout) ([]domain.TilePair, error) {
	var sides [2][]string
	for i, ph := range []domain.Phase{domain.PhasePre, domain.PhasePost} {
		entries, err := os.ReadDir(layout.StackDirFor(ph))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() {
				sides[i] = append(sides[i], filepath.Join(layout.StackDirFor(ph), e.Name()))
			}
		}
	}
	pairs, unmatched, err := domain.PairTiles(sides[0], sides[1])
	if len(unmatched) > 0 {
		fmt.Printf("note: tiles without a counterpart: %s\n", strings.Join(unmatched, ", "))
	}
	return pairs, err
}

func countPatches(layers map[string][]domain.Patch) int {
	n := 0
	for _, l := range layers {
		n += len(l)
	}
	return n
}

// ── Phase 1: every pair produced its rasters ──

func validateCompleteness(indices []domain.Index, layout domain.Layout, pairs []domain.TilePair) *phase {
	p := &phase{name: "Index rasters complete"}
	for _, idx := range indices {
		for _, pair := range pairs {
			for _, path := range []string{
				layout.IndexPath(idx, domain.PhasePre, pair.Tile),
				layout.IndexPath(idx, domain.PhasePost, pair.Tile),
				layout.DiffPath(idx, pair.Tile),
			} {
				if _, err := os.Stat(path); err != nil {
					p.errorf("%s %s: missing %s", idx, pair.Tile, path)
				}
			}
		}
	}
	return p
}

// ── Phase 2: difference rasters are lon/lat at the target resolution ──

func validateDiffRasters(cfg *config.Config, diffs map[domain.Index][]string, infos map[string]gdal.Info) *phase {
	p := &phase{name: "Difference rasters in EPSG:4326"}
	wgs84 := gdal.EPSG(gdal.TargetEPSG)
	for _, idx := range cfg.Indices {
		for _, path := range diffs[idx] {
			info, err := gdal.Describe(path)
			if err != nil {
				p.errorf("%s: %v", path, err)
				continue
			}
			infos[path] = info

			if !gdal.SameCRS(info.CRS, wgs84) {
				p.errorf("%s: CRS is not %s", filepath.Base(path), wgs84)
			}
			px, py := info.PixelSize()
			if !floatEq(px, cfg.TargetResolution) || !floatEq(py, cfg.TargetResolution) {
				p.errorf("%s: pixel size %gx%g, want %g", filepath.Base(path), px, py, cfg.TargetResolution)
			}
			if b := info.Bounds(); !b.IsGeographic() {
				p.errorf("%s: bounds %+v outside lon/lat range", filepath.Base(path), b)
			}
			if !info.HasNoData || !math.IsNaN(info.NoData) {
				p.errorf("%s: no-data is not NaN", filepath.Base(path))
			}
		}
	}
	return p
}

// ── Phase 3: GeoJSON and CSV layers agree ──

func validateLayerParity(indices []domain.Index, layout domain.Layout, diffs map[domain.Index][]string, layers map[string][]domain.Patch) *phase {
	p := &phase{name: "Patch layers GeoJSON/CSV parity"}
	for _, idx := range indices {
		for _, diff := range diffs[idx] {
			stem := domain.Stem(diff)
			base := layout.PatchStatsBase(idx, stem)

			patches, err := vector.ReadGeoJSON(base + vector.GeoJSONExt)
			if err != nil {
				p.errorf("%s %s: %v", idx, stem, err)
				continue
			}
			layers[diff] = patches

			rows, err := vector.ReadCSV(base + vector.CSVExt)
			if err != nil {
				p.errorf("%s %s: %v", idx, stem, err)
				continue
			}
			compareLayer(p, idx, stem, patches, rows)
		}
	}
	return p
}

func compareLayer(p *phase, idx domain.Index, stem string, patches []domain.Patch, rows []vector.PatchRow) {
	if len(patches) != len(rows) {
		p.errorf("%s %s: %d GeoJSON features vs %d CSV rows", idx, stem, len(patches), len(rows))
		return
	}
	for i, patch := range patches {
		row := rows[i]
		if patch.Tile != row.Tile || patch.Row != row.Row || patch.Col != row.Col {
			p.errorf("%s %s [%d]: GeoJSON (%s,%d,%d) vs CSV (%s,%d,%d)",
				idx, stem, i, patch.Tile, patch.Row, patch.Col, row.Tile, row.Row, row.Col)
			continue
		}
		if !floatEq(patch.MeanDiff, row.MeanDiff) {
			p.errorf("%s %s [%d]: mean_diff %g vs %g", idx, stem, i, patch.MeanDiff, row.MeanDiff)
		}
		if patch.Tile != stem {
			p.errorf("%s %s [%d]: tile %q does not match layer", idx, stem, i, patch.Tile)
		}
	}
}

// ── Phase 4: patch geometry is sane ──

func validatePatchBounds(layers map[string][]domain.Patch, infos map[string]gdal.Info) *phase {
	p := &phase{name: "Patch bounds and values"}
	diffs := make([]string, 0, len(layers))
	for d := range layers {
		diffs = append(diffs, d)
	}
	sort.Strings(diffs)

	for _, diff := range diffs {
		info, hasInfo := infos[diff]
		var extent domain.Bounds
		if hasInfo {
			px, py := info.PixelSize()
			b := info.Bounds()
			extent = domain.Bounds{MinX: b.MinX - px, MinY: b.MinY - py, MaxX: b.MaxX + px, MaxY: b.MaxY + py}
		}
		for i, patch := range layers[diff] {
			if err := checkPatch(patch); err != nil {
				p.errorf("%s [%d]: %v", filepath.Base(diff), i, err)
				continue
			}
			if hasInfo && !extent.Contains(patch.Bounds) {
				p.errorf("%s [%d]: bounds %+v outside raster extent", filepath.Base(diff), i, patch.Bounds)
			}
		}
	}
	return p
}

func checkPatch(patch domain.Patch) error {
	b := patch.Bounds
	switch {
	case b.MinX >= b.MaxX || b.MinY >= b.MaxY:
		return fmt.Errorf("degenerate bounds %+v", b)
	case !b.IsGeographic():
		return fmt.Errorf("bounds %+v outside lon/lat range", b)
	case math.IsNaN(patch.MeanDiff) || math.IsInf(patch.MeanDiff, 0):
		return errors.New("mean_diff is not finite")
	case patch.MeanDiff < -2 || patch.MeanDiff > 2:
		return fmt.Errorf("mean_diff %g outside [-2, 2]", patch.MeanDiff)
	}
	return nil
}

func floatEq(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}
