package domain

import (
	"context"
	"log/slog"
	"math"
	"sort"
)

// Hotspot is a patch with one of the largest absolute changes in a layer.
type Hotspot struct {
	Patch
	Index     Index   `json:"index"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	PlaceName string  `json:"place_name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// TopHotspots returns up to n patches ordered by descending |MeanDiff|.
// Ties keep the input order.
func TopHotspots(index Index, patches []Patch, n int) []Hotspot {
	if n <= 0 || len(patches) == 0 {
		return nil
	}
	sorted := append([]Patch(nil), patches...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return math.Abs(sorted[i].MeanDiff) > math.Abs(sorted[j].MeanDiff)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}

	out := make([]Hotspot, len(sorted))
	for i, p := range sorted {
		lon, lat := p.Bounds.Center()
		out[i] = Hotspot{Patch: p, Index: index, Lat: lat, Lon: lon}
	}
	return out
}

// LabelHotspots reverse geocodes each hotspot centre. A nil geocoder or a
// failed lookup leaves the hotspot unlabelled.
func LabelHotspots(ctx context.Context, hotspots []Hotspot, geocoder Geocoder, logger *slog.Logger) []Hotspot {
	if geocoder == nil {
		return hotspots
	}
	for i := range hotspots {
		h := &hotspots[i]
		result, err := geocoder.ReverseGeocode(ctx, h.Lat, h.Lon)
		if err != nil {
			logger.Warn("reverse geocoding failed",
				"index", h.Index,
				"tile", h.Tile,
				"lat", h.Lat,
				"lon", h.Lon,
				"error", err,
			)
			continue
		}
		h.PlaceName = result.PlaceName
		h.Address = result.FormattedAddress
	}
	return hotspots
}
