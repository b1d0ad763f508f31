// Command genmock writes synthetic pre- and post-event band stacks so the
// pipeline can be exercised without Sentinel-2 downloads. Post-event stacks
// carry a square "damage" zone where NIR drops and SWIR1 rises, which shows
// up as negative NDVI and positive NDBI change.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -stack-dir data/satellite/processed/stacks \
//	  -tiles T46QGJ,T47QKV -size 512 -pattern gradient
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/couchcryptid/quake-change-etl/internal/adapter/gdal"
	"github.com/couchcryptid/quake-change-etl/internal/domain"
)

// Surface reflectance of healthy vegetation, scaled by 10000.
var baseReflectance = [domain.BandCount]float64{
	domain.Blue:  450,
	domain.Green: 700,
	domain.Red:   500,
	domain.NIR:   3200,
	domain.SWIR1: 1800,
	domain.SWIR2: 1000,
}

const (
	preDate   = "20250320T040551"
	postDate  = "20250404T040549"
	pixelSize = 10.0
)

type options struct {
	stackDir string
	tiles    []string
	size     int
	epsg     int
	pattern  string
	noise    float64
	seed     uint64
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	stackDir := flag.String("stack-dir", "data/satellite/processed/stacks", "root of the pre/ and post/ stack directories")
	tiles := flag.String("tiles", "T46QGJ,T47QKV", "comma-separated MGRS tile IDs")
	size := flag.Int("size", 512, "stack width and height in pixels")
	epsg := flag.Int("epsg", 32646, "EPSG code of the stack CRS")
	pattern := flag.String("pattern", "gradient", "reflectance pattern: constant or gradient")
	noise := flag.Float64("noise", 25, "standard deviation of per-pixel noise; 0 disables it")
	seed := flag.Uint64("seed", 1, "random seed")
	flag.Parse()

	opts := options{
		stackDir: *stackDir,
		size:     *size,
		epsg:     *epsg,
		pattern:  *pattern,
		noise:    *noise,
		seed:     *seed,
	}
	for _, t := range strings.Split(*tiles, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := domain.ExtractTileID(t); !ok {
			return fmt.Errorf("invalid tile ID %q", t)
		}
		opts.tiles = append(opts.tiles, t)
	}
	if len(opts.tiles) == 0 {
		flag.Usage()
		return fmt.Errorf("no tiles given")
	}
	if opts.size <= 0 {
		return fmt.Errorf("invalid -size %d", opts.size)
	}
	if opts.pattern != "constant" && opts.pattern != "gradient" {
		return fmt.Errorf("invalid -pattern %q", opts.pattern)
	}

	store := gdal.NewStore(0.0001, slog.Default())
	src := rand.NewPCG(opts.seed, opts.seed)

	for i, tile := range opts.tiles {
		gt := domain.NorthUp(600000+float64(i*opts.size)*pixelSize, 2302560, pixelSize)

		pre := opts.stack(gt, src, false)
		prePath := filepath.Join(opts.stackDir, string(domain.PhasePre), granule("S2A", preDate, tile)+domain.StackSuffix)
		if err := store.WriteStack(prePath, pre); err != nil {
			return fmt.Errorf("writing %s: %w", prePath, err)
		}
		log.Printf("wrote %s", prePath)

		post := opts.stack(gt, src, true)
		postPath := filepath.Join(opts.stackDir, string(domain.PhasePost), granule("S2B", postDate, tile)+domain.StackSuffix)
		if err := store.WriteStack(postPath, post); err != nil {
			return fmt.Errorf("writing %s: %w", postPath, err)
		}
		log.Printf("wrote %s", postPath)
	}

	log.Printf("total: %d tiles, %dx%d px, EPSG:%d", len(opts.tiles), opts.size, opts.size, opts.epsg)
	return nil
}

func granule(mission, date, tile string) string {
	return fmt.Sprintf("%s_MSIL2A_%s_N0511_R047_%s_%s", mission, date, tile, date)
}

// stack builds one 6-band stack. damaged applies the post-event change zone
// to the middle quarter of the tile.
func (o options) stack(gt domain.GeoTransform, src rand.Source, damaged bool) domain.BandStack {
	s := domain.BandStack{Transform: gt, CRS: gdal.EPSG(o.epsg)}

	var noise *distuv.Normal
	if o.noise > 0 {
		noise = &distuv.Normal{Mu: 0, Sigma: o.noise, Src: src}
	}

	lo, hi := o.size/4, 3*o.size/4
	for b := range domain.BandCount {
		g := domain.NewGrid(o.size, o.size)
		for row := range o.size {
			for col := range o.size {
				v := baseReflectance[b]
				if o.pattern == "gradient" {
					// Vegetation thins toward the east edge of the tile.
					v *= 1 - 0.3*float64(col)/float64(o.size)
				}
				if damaged && row >= lo && row < hi && col >= lo && col < hi {
					v = damage(domain.Band(b), v)
				}
				if noise != nil {
					v += noise.Rand()
				}
				g.Set(col, row, float32(max(v, 1)))
			}
		}
		s.Bands = append(s.Bands, g)
	}
	return s
}

// damage turns vegetated reflectance into bare soil and rubble.
func damage(b domain.Band, v float64) float64 {
	switch b {
	case domain.NIR:
		return v * 0.45
	case domain.SWIR1:
		return v * 1.6
	case domain.Red:
		return v * 1.8
	}
	return v
}
