package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/couchcryptid/quake-change-etl/internal/config"
	"github.com/couchcryptid/quake-change-etl/internal/domain"
	"github.com/couchcryptid/quake-change-etl/internal/observability"
)

// Stage names a runnable step of the pipeline.
type Stage string

// Stages in execution order. StageAll runs indices through map.
const (
	StageAOI       Stage = "aoi"
	StageStack     Stage = "stack"
	StageIndices   Stage = "indices"
	StagePatches   Stage = "patches"
	StageVisualize Stage = "visualize"
	StagePlot      Stage = "plot"
	StageMap       Stage = "map"
	StageAll       Stage = "all"
)

var allStages = []Stage{StageIndices, StagePatches, StageVisualize, StagePlot, StageMap}

// ParseStage validates a stage name.
func ParseStage(s string) (Stage, error) {
	switch st := Stage(s); st {
	case StageAOI, StageStack, StageIndices, StagePatches, StageVisualize, StagePlot, StageMap, StageAll:
		return st, nil
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// StackReader loads 6-band stacks.
type StackReader interface {
	ReadStack(path string) (domain.BandStack, error)
}

// RasterStore persists single-band index rasters.
type RasterStore interface {
	ReadIndex(path string) (domain.Raster, error)
	WriteNative(path string, r domain.Raster) error
	WriteReprojected(path string, r domain.Raster) error
}

// VectorStore persists patch layers and the AOI polygon.
type VectorStore interface {
	WritePatches(base string, patches []domain.Patch) error
	ReadPatches(path string) ([]domain.Patch, error)
	ListLayers(dir string) ([]string, error)
	WriteAOI(path, name string, b domain.Bounds) error
}

// GranuleStacker clips raw granules into band stacks.
type GranuleStacker interface {
	ListGranules(dir string) ([]string, error)
	StackGranule(granuleDir, out string) error
}

// PatchPublisher sends patch records downstream.
type PatchPublisher interface {
	PublishPatches(ctx context.Context, runID string, index domain.Index, patches []domain.Patch) error
}

// Ledger records run history.
type Ledger interface {
	RecordReport(ctx context.Context, r *domain.Report) error
	RecordPatches(ctx context.Context, runID string, index domain.Index, patches []domain.Patch) error
	RecordHotspots(ctx context.Context, runID string, hotspots []domain.Hotspot) error
}

// Deps are the collaborators of a Pipeline. Stacker, Publisher, Ledger and
// Geocoder are optional.
type Deps struct {
	Stacks    StackReader
	Rasters   RasterStore
	Vectors   VectorStore
	Stacker   GranuleStacker
	Publisher PatchPublisher
	Ledger    Ledger
	Geocoder  domain.Geocoder
}

// Pipeline runs the change-detection stages over the configured tree.
// Work is strictly sequential; only Progress and CheckReadiness may be
// called from other goroutines.
type Pipeline struct {
	cfg      *config.Config
	layout   domain.Layout
	formulas domain.FormulaSet
	deps     Deps
	logger   *slog.Logger
	metrics  *observability.Metrics

	ready    atomic.Bool
	verified bool

	mu       sync.Mutex
	progress domain.Progress
}

// New creates a Pipeline.
func New(cfg *config.Config, deps Deps, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		layout:   cfg.Layout(),
		formulas: domain.NewFormulaSet(cfg.NDWIFormula),
		deps:     deps,
		logger:   logger,
		metrics:  metrics,
	}
}

// CheckReadiness returns nil once at least one unit of work has completed.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed any tile yet")
	}
	return nil
}

// Progress returns a snapshot of the running stage.
func (p *Pipeline) Progress() domain.Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// Run executes stage, or every processing stage for StageAll, returning one
// report per stage executed. A fatal error stops the run; per-tile failures
// are recorded in the reports instead.
func (p *Pipeline) Run(ctx context.Context, stage Stage) ([]*domain.Report, error) {
	stages := []Stage{stage}
	if stage == StageAll {
		stages = allStages
	}

	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	var reports []*domain.Report
	for _, st := range stages {
		start := time.Now()
		p.logger.Info("stage started", "stage", st)

		report, err := p.runStage(ctx, st)
		p.metrics.StageDuration.WithLabelValues(string(st)).Observe(time.Since(start).Seconds())
		if report != nil {
			p.finish(ctx, report)
			reports = append(reports, report)
		}
		if err != nil {
			return reports, fmt.Errorf("stage %s: %w", st, err)
		}
	}
	return reports, nil
}

func (p *Pipeline) runStage(ctx context.Context, st Stage) (*domain.Report, error) {
	switch st {
	case StageAOI:
		return p.AOI(ctx)
	case StageStack:
		return p.Stack(ctx)
	case StageIndices:
		return p.Indices(ctx)
	case StagePatches:
		return p.Patches(ctx)
	case StageVisualize:
		return p.Visualize(ctx)
	case StagePlot:
		return p.Plot(ctx)
	case StageMap:
		return p.Map(ctx)
	}
	return nil, fmt.Errorf("unknown stage %q", st)
}

// finish stamps the report, logs its summary and failures, and records it
// in the ledger.
func (p *Pipeline) finish(ctx context.Context, report *domain.Report) {
	report.Finish()
	for _, o := range report.Failures() {
		p.logger.Debug("tile not completed",
			"stage", report.Stage, "index", o.Index, "tile", o.Tile,
			"status", o.Status, "step", o.Stage, "error", o.Err)
	}
	p.logger.Info("stage finished",
		"stage", report.Stage,
		"run_id", report.RunID,
		"summary", report.Summary(),
		"duration", report.Duration(),
	)
	if p.deps.Ledger == nil {
		return
	}
	if err := p.deps.Ledger.RecordReport(context.WithoutCancel(ctx), report); err != nil {
		p.logger.Warn("record run report failed", "run_id", report.RunID, "error", err)
	}
}

// tracker feeds outcomes of one (stage, index) loop into the report,
// metrics, progress snapshot and progress bar.
type tracker struct {
	p      *Pipeline
	report *domain.Report
	bar    *progressbar.ProgressBar
}

func (p *Pipeline) begin(report *domain.Report, idx domain.Index, total int) *tracker {
	p.mu.Lock()
	p.progress = domain.Progress{RunID: report.RunID, Stage: report.Stage, Index: idx, Total: total}
	p.mu.Unlock()

	t := &tracker{p: p, report: report}
	if total > 0 {
		desc := report.Stage
		if idx != "" {
			desc += " " + string(idx)
		}
		t.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(desc),
			progressbar.OptionSetVisibility(p.cfg.Progress),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	return t
}

func (t *tracker) record(o domain.Outcome, elapsed time.Duration) {
	p := t.p
	t.report.Add(o)
	p.metrics.TilesProcessed.WithLabelValues(string(o.Index), string(o.Status)).Inc()
	p.metrics.TileDuration.Observe(elapsed.Seconds())

	if o.Status != domain.StatusOK {
		p.logger.Warn("tile "+string(o.Status),
			"stage", t.report.Stage, "index", o.Index, "tile", o.Tile, "step", o.Stage, "error", o.Err)
	}

	p.mu.Lock()
	p.progress.Done++
	switch o.Status {
	case domain.StatusOK:
		p.progress.OK++
	case domain.StatusSkipped:
		p.progress.Skipped++
	default:
		p.progress.Failed++
	}
	p.mu.Unlock()
	p.ready.Store(true)

	if t.bar != nil {
		_ = t.bar.Add(1)
	}
}

func (t *tracker) done() {
	if t.bar != nil {
		_ = t.bar.Finish()
	}
}

func succeeded(idx domain.Index, tile string, patches int) domain.Outcome {
	return domain.Outcome{Index: idx, Tile: tile, Status: domain.StatusOK, Patches: patches}
}

func failed(idx domain.Index, tile, step string, err error) domain.Outcome {
	return domain.Outcome{Index: idx, Tile: tile, Stage: step, Status: domain.StatusFailed, Err: err.Error()}
}

func skipped(idx domain.Index, tile, step string, err error) domain.Outcome {
	return domain.Outcome{Index: idx, Tile: tile, Stage: step, Status: domain.StatusSkipped, Err: err.Error()}
}

// listFiles returns the regular files in dir, sorted.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// listDiffs returns the difference rasters of one index, sorted.
func listDiffs(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*"+domain.DiffSuffix+".tif"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
