package domain

import (
	"errors"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// StackSuffix is the file-name suffix of band stack GeoTIFFs.
const StackSuffix = "_stack.tif"

// DiffSuffix is appended to the tile ID for difference rasters.
const DiffSuffix = "_diff"

// ErrNoCommonTiles means no tile has both a pre and a post stack.
var ErrNoCommonTiles = errors.New("no common tiles between pre and post stacks")

// ErrGranuleUnusable marks a raw granule that cannot be stacked and is skipped.
var ErrGranuleUnusable = errors.New("granule unusable")

var tilePattern = regexp.MustCompile(`T\d{2}[A-Z]{3}`)

// ExtractTileID returns the first MGRS tile identifier in name, e.g. "T47QKV".
func ExtractTileID(name string) (string, bool) {
	id := tilePattern.FindString(filepath.Base(name))
	return id, id != ""
}

// IsStackFile reports whether name looks like a band stack GeoTIFF.
func IsStackFile(name string) bool {
	return strings.HasSuffix(name, StackSuffix)
}

// StackName returns the stack file name for a granule directory:
// "S2A_..._T47QKV_....SAFE" becomes "S2A_..._T47QKV_..._stack.tif".
func StackName(granuleDir string) string {
	return strings.TrimSuffix(filepath.Base(granuleDir), ".SAFE") + StackSuffix
}

// TilePair holds the pre- and post-event stack paths for one tile.
type TilePair struct {
	Tile string
	Pre  string
	Post string
}

// PairTiles matches stack files by tile ID. Files without a tile ID or without
// the stack suffix are ignored; if several files share a tile ID the last one
// in sorted order wins. Pairs are returned sorted by tile. unmatched lists the
// tile IDs present on only one side.
func PairTiles(pre, post []string) (pairs []TilePair, unmatched []string, err error) {
	preByTile := indexByTile(pre)
	postByTile := indexByTile(post)

	for tile, p := range preByTile {
		q, ok := postByTile[tile]
		if !ok {
			unmatched = append(unmatched, tile)
			continue
		}
		pairs = append(pairs, TilePair{Tile: tile, Pre: p, Post: q})
	}
	for tile := range postByTile {
		if _, ok := preByTile[tile]; !ok {
			unmatched = append(unmatched, tile)
		}
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Tile < pairs[j].Tile })
	sort.Strings(unmatched)

	if len(pairs) == 0 {
		return nil, unmatched, ErrNoCommonTiles
	}
	return pairs, unmatched, nil
}

func indexByTile(paths []string) map[string]string {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	out := make(map[string]string, len(sorted))
	for _, p := range sorted {
		if !IsStackFile(filepath.Base(p)) {
			continue
		}
		if tile, ok := ExtractTileID(p); ok {
			out[tile] = p
		}
	}
	return out
}
