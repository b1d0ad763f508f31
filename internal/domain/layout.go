package domain

import (
	"path/filepath"
	"strings"
)

// Phase is the acquisition period of a raster.
type Phase string

// Raster phases. Diff rasters live under PhaseDiff.
const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
	PhaseDiff Phase = "diff"
)

// Layout resolves the on-disk locations of pipeline outputs.
type Layout struct {
	StackDir      string
	IndicesDir    string
	PatchStatsDir string
	VisualsDir    string
	PatchMapsDir  string
}

// StackDirFor returns the directory holding pre or post band stacks.
func (l Layout) StackDirFor(p Phase) string {
	return filepath.Join(l.StackDir, string(p))
}

// IndexPath returns <indices>/<index>/<pre|post>/<tile>.tif.
func (l Layout) IndexPath(idx Index, p Phase, tile string) string {
	return filepath.Join(l.IndicesDir, string(idx), string(p), tile+".tif")
}

// DiffPath returns <indices>/<index>/diff/<tile>_diff.tif.
func (l Layout) DiffPath(idx Index, tile string) string {
	return filepath.Join(l.IndicesDir, string(idx), string(PhaseDiff), tile+DiffSuffix+".tif")
}

// DiffDir returns the directory holding an index's difference rasters.
func (l Layout) DiffDir(idx Index) string {
	return filepath.Join(l.IndicesDir, string(idx), string(PhaseDiff))
}

// PatchStatsDirFor returns the directory holding an index's patch layers.
func (l Layout) PatchStatsDirFor(idx Index) string {
	return filepath.Join(l.PatchStatsDir, string(idx))
}

// PatchStatsBase returns the patch layer path without extension:
// <patch_stats>/<index>/patch_stats_<stem>. Callers add .geojson or .csv.
func (l Layout) PatchStatsBase(idx Index, stem string) string {
	return filepath.Join(l.PatchStatsDirFor(idx), "patch_stats_"+stem)
}

// VisualPath returns <visuals>/<index>/<phase>/<stem>.png.
func (l Layout) VisualPath(idx Index, p Phase, stem string) string {
	return filepath.Join(l.VisualsDir, string(idx), string(p), stem+".png")
}

// PatchMapPath returns <patch_maps>/<index>/<stem>.png.
func (l Layout) PatchMapPath(idx Index, stem string) string {
	return filepath.Join(l.PatchMapsDir, string(idx), stem+".png")
}

// Stem strips the directory and the final extension from path.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// PatchLayerStem recovers the diff stem ("T47QKV_diff") from a patch layer
// file name ("patch_stats_T47QKV_diff.geojson").
func PatchLayerStem(path string) string {
	return strings.TrimPrefix(Stem(path), "patch_stats_")
}
