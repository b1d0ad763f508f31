package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"

	"github.com/couchcryptid/quake-change-etl/internal/adapter/vector"
	"github.com/couchcryptid/quake-change-etl/internal/domain"
)

// Default view when no layer has an extent.
const (
	defaultLat  = 20.5
	defaultLon  = 96.5
	defaultZoom = 6
)

var groupTitles = map[domain.Index]string{
	domain.NDVI: "Vegetation (NDVI)",
	domain.NDBI: "Built-Up (NDBI)",
	domain.NDWI: "Water (NDWI)",
}

// MapLayer is one patch layer, named by its diff stem.
type MapLayer struct {
	Stem    string
	Patches []domain.Patch
}

// MapGroup holds the layers of one index; each group is toggled as a unit.
type MapGroup struct {
	Index  domain.Index
	Layers []MapLayer
}

type pageLayer struct {
	Name      string
	GeoJSON   template.JS
	CenterLat float64
	CenterLon float64
	HasExtent bool
}

type pageGroup struct {
	Title  string
	Layers []pageLayer
}

type page struct {
	CenterLat float64
	CenterLon float64
	Zoom      int
	Groups    []pageGroup
}

var mapTemplate = template.Must(template.New("map").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Patch change map</title>
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css">
<script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
<style>html, body, #map { height: 100%; margin: 0; }</style>
</head>
<body>
<div id="map"></div>
<script>
var map = L.map("map").setView([{{.CenterLat}}, {{.CenterLon}}], {{.Zoom}});
L.tileLayer("https://tile.openstreetmap.org/{z}/{x}/{y}.png", {
  maxZoom: 19,
  attribution: "&copy; OpenStreetMap contributors"
}).addTo(map);
var overlays = {};
var style = {fillColor: "#00000000", color: "black", weight: 0.5};
{{range .Groups}}
(function () {
  var group = L.featureGroup();
  {{range .Layers}}
  L.geoJSON({{.GeoJSON}}, {
    style: function () { return style; },
    onEachFeature: function (f, layer) {
      layer.bindTooltip("mean_diff: " + Number(f.properties.mean_diff).toFixed(4));
    }
  }).addTo(group);
  {{if .HasExtent}}
  L.marker([{{.CenterLat}}, {{.CenterLon}}]).bindPopup("Zoom to " + {{.Name}}).on("click", function () {
    map.setView([{{.CenterLat}}, {{.CenterLon}}], 11);
  }).addTo(group);
  {{end}}
  {{end}}
  overlays[{{.Title}}] = group;
})();
{{end}}
L.control.layers(null, overlays, {collapsed: false}).addTo(map);
</script>
</body>
</html>
`))

// InteractiveMap writes a Leaflet page with one toggleable overlay per
// index. Every layer shows patch outlines with a mean_diff tooltip; layers
// with patches also get a marker at their centre. Groups start hidden.
func InteractiveMap(w io.Writer, groups []MapGroup) error {
	p := page{CenterLat: defaultLat, CenterLon: defaultLon, Zoom: defaultZoom}
	var all domain.Bounds
	seen := false

	for _, g := range groups {
		title, ok := groupTitles[g.Index]
		if !ok {
			title = string(g.Index)
		}
		pg := pageGroup{Title: title}
		for _, l := range g.Layers {
			data, err := vector.FeatureCollection(l.Patches).MarshalJSON()
			if err != nil {
				return fmt.Errorf("marshal layer %s: %w", l.Stem, err)
			}
			pl := pageLayer{Name: l.Stem, GeoJSON: template.JS(data)}
			if len(l.Patches) > 0 {
				ext := l.Patches[0].Bounds
				for _, patch := range l.Patches[1:] {
					ext = ext.Extend(patch.Bounds)
				}
				pl.CenterLon, pl.CenterLat = ext.Center()
				pl.HasExtent = true
				if seen {
					all = all.Extend(ext)
				} else {
					all, seen = ext, true
				}
			}
			pg.Layers = append(pg.Layers, pl)
		}
		p.Groups = append(p.Groups, pg)
	}
	if seen {
		p.CenterLon, p.CenterLat = all.Center()
	}
	return mapTemplate.Execute(w, p)
}

// WriteInteractiveMap renders the map to path, creating parent directories.
func WriteInteractiveMap(path string, groups []MapGroup) error {
	var buf bytes.Buffer
	if err := InteractiveMap(&buf, groups); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
