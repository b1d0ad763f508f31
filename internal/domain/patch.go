package domain

import "math"

// DefaultPatchSize is the block edge length in pixels.
const DefaultPatchSize = 128

// Patch is the mean change of one block of a difference raster.
type Patch struct {
	Tile     string  `json:"tile"`
	Row      int     `json:"row"`
	Col      int     `json:"col"`
	MeanDiff float64 `json:"mean_diff"`
	Bounds   Bounds  `json:"bounds"`
}

// Block identifies a rejected block by its pixel origin.
type Block struct {
	Row    int
	Col    int
	Bounds Bounds
}

// AggregateStats counts what happened to the blocks of one raster.
type AggregateStats struct {
	Blocks    int     // blocks visited
	Empty     int     // blocks with no finite pixel
	NonFinite int     // blocks whose mean is not finite
	Rejected  []Block // blocks whose bounds leave the lon/lat range
}

// AggregatePatches cuts r into size x size blocks anchored at pixel (0,0)
// and returns one Patch per block with at least one finite pixel. Edge blocks
// may be smaller than size. The mean ignores NaN and Inf pixels. Blocks whose
// bounds fall outside lon [-180,180] or lat [-90,90] are returned in
// AggregateStats.Rejected instead of as patches.
func AggregatePatches(r Raster, tile string, size int) ([]Patch, AggregateStats) {
	var stats AggregateStats
	if size <= 0 {
		size = DefaultPatchSize
	}
	if r.Width == 0 || r.Height == 0 {
		return nil, stats
	}

	var patches []Patch
	for row := 0; row < r.Height; row += size {
		rowEnd := min(row+size, r.Height)
		for col := 0; col < r.Width; col += size {
			colEnd := min(col+size, r.Width)
			stats.Blocks++

			mean, n := blockMean(r.Grid, col, row, colEnd, rowEnd)
			if n == 0 {
				stats.Empty++
				continue
			}
			if math.IsNaN(mean) || math.IsInf(mean, 0) {
				stats.NonFinite++
				continue
			}

			b := r.Transform.Bounds(col, row, colEnd, rowEnd)
			if !b.IsGeographic() {
				stats.Rejected = append(stats.Rejected, Block{Row: row, Col: col, Bounds: b})
				continue
			}

			patches = append(patches, Patch{
				Tile:     tile,
				Row:      row,
				Col:      col,
				MeanDiff: mean,
				Bounds:   b,
			})
		}
	}
	return patches, stats
}

// blockMean averages the finite samples of [col0,col1) x [row0,row1).
func blockMean(g Grid, col0, row0, col1, row1 int) (float64, int) {
	var sum float64
	n := 0
	for row := row0; row < row1; row++ {
		line := g.Data[row*g.Width+col0 : row*g.Width+col1]
		for _, v := range line {
			if !isFinite32(v) {
				continue
			}
			sum += float64(v)
			n++
		}
	}
	if n == 0 {
		return math.NaN(), 0
	}
	return sum / float64(n), n
}
