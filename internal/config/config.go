package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/quake-change-etl/internal/domain"
)

// Config holds all pipeline settings. Values come from environment variables,
// then from the optional YAML file named by PIPELINE_CONFIG, then defaults.
type Config struct {
	// Input and output locations.
	RawPreDir          string
	RawPostDir         string
	AOIPath            string
	StackDir           string
	IndicesDir         string
	PatchStatsDir      string
	VisualsDir         string
	PatchMapsDir       string
	InteractiveMapPath string

	AOIBBox          domain.Bounds
	StackEPSG        int
	Indices          []domain.Index
	NDWIFormula      domain.NDWIVariant
	PatchSize        int
	TargetResolution float64
	HotspotCount     int
	Progress         bool

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Patch publishing is enabled when KafkaBrokers is non-empty.
	KafkaBrokers    []string
	KafkaPatchTopic string

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	// Run ledger; empty disables it.
	LedgerPath string
}

// Layout returns the output locations as a domain.Layout.
func (c *Config) Layout() domain.Layout {
	return domain.Layout{
		StackDir:      c.StackDir,
		IndicesDir:    c.IndicesDir,
		PatchStatsDir: c.PatchStatsDir,
		VisualsDir:    c.VisualsDir,
		PatchMapsDir:  c.PatchMapsDir,
	}
}

// KafkaEnabled reports whether patches are published to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Load reads configuration, applying defaults where unset.
func Load() (*Config, error) {
	file, err := loadFile(os.Getenv("PIPELINE_CONFIG"))
	if err != nil {
		return nil, err
	}
	get := func(key, fallback string) string {
		if v, ok := file[key]; ok {
			fallback = v
		}
		return sharedcfg.EnvOrDefault(key, fallback)
	}

	shutdownTimeout, err := time.ParseDuration(get("SHUTDOWN_TIMEOUT", "10s"))
	if err != nil || shutdownTimeout <= 0 {
		return nil, errors.New("invalid SHUTDOWN_TIMEOUT")
	}

	mapboxTimeout, err := time.ParseDuration(get("MAPBOX_TIMEOUT", "5s"))
	if err != nil || mapboxTimeout <= 0 {
		return nil, errors.New("invalid MAPBOX_TIMEOUT")
	}

	bbox, err := parseBBox(get("AOI_BBOX", "95.5,17.05,98.4,27.5"))
	if err != nil {
		return nil, err
	}

	stackEPSG, err := parsePositiveInt(get("STACK_EPSG", "32646"), "STACK_EPSG")
	if err != nil {
		return nil, err
	}

	indices, err := parseIndices(get("INDICES", "ndvi,ndbi,ndwi"))
	if err != nil {
		return nil, err
	}

	ndwi, err := domain.ParseNDWIVariant(get("NDWI_FORMULA", string(domain.NDWIGao)))
	if err != nil {
		return nil, fmt.Errorf("invalid NDWI_FORMULA: %w", err)
	}

	patchSize, err := parsePositiveInt(get("PATCH_SIZE", strconv.Itoa(domain.DefaultPatchSize)), "PATCH_SIZE")
	if err != nil {
		return nil, err
	}

	resolution, err := strconv.ParseFloat(get("TARGET_RESOLUTION_DEG", "0.0001"), 64)
	if err != nil || resolution <= 0 {
		return nil, errors.New("invalid TARGET_RESOLUTION_DEG")
	}

	hotspots, err := strconv.Atoi(get("HOTSPOT_COUNT", "5"))
	if err != nil || hotspots < 0 {
		return nil, errors.New("invalid HOTSPOT_COUNT")
	}

	progress, err := strconv.ParseBool(get("PROGRESS", "true"))
	if err != nil {
		return nil, errors.New("invalid PROGRESS")
	}

	mapboxToken := get("MAPBOX_TOKEN", "")
	mapboxEnabled := mapboxToken != ""
	if v := get("MAPBOX_ENABLED", ""); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		RawPreDir:          get("RAW_PRE_DIR", "data/satellite/raw/pre_event"),
		RawPostDir:         get("RAW_POST_DIR", "data/satellite/raw/post_event"),
		AOIPath:            get("AOI_PATH", "data/aoi/aoi_bbox.geojson"),
		StackDir:           get("STACK_DIR", "data/satellite/processed/stacks"),
		IndicesDir:         get("INDICES_DIR", "data/satellite/processed/indices"),
		PatchStatsDir:      get("PATCH_STATS_DIR", "data/processed/patch_stats"),
		VisualsDir:         get("VISUALS_DIR", "outputs/visuals"),
		PatchMapsDir:       get("PATCH_MAPS_DIR", "outputs/patch_stats_maps"),
		InteractiveMapPath: get("INTERACTIVE_MAP_PATH", "outputs/maps_interactive/map_grouped.html"),

		AOIBBox:          bbox,
		StackEPSG:        stackEPSG,
		Indices:          indices,
		NDWIFormula:      ndwi,
		PatchSize:        patchSize,
		TargetResolution: resolution,
		HotspotCount:     hotspots,
		Progress:         progress,

		HTTPAddr:        get("HTTP_ADDR", ""),
		LogLevel:        get("LOG_LEVEL", "info"),
		LogFormat:       get("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		KafkaBrokers:    sharedcfg.ParseBrokers(get("KAFKA_BROKERS", "")),
		KafkaPatchTopic: get("KAFKA_PATCH_TOPIC", "change-patches"),

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(get("MAPBOX_CACHE_SIZE", "")),

		LedgerPath: get("LEDGER_PATH", "data/processed/runs.db"),
	}

	if cfg.StackDir == "" {
		return nil, errors.New("STACK_DIR is required")
	}
	if cfg.IndicesDir == "" {
		return nil, errors.New("INDICES_DIR is required")
	}
	if cfg.PatchStatsDir == "" {
		return nil, errors.New("PATCH_STATS_DIR is required")
	}
	if cfg.KafkaEnabled() && cfg.KafkaPatchTopic == "" {
		return nil, errors.New("KAFKA_PATCH_TOPIC is required when KAFKA_BROKERS is set")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}

	return cfg, nil
}

// loadFile reads a flat YAML mapping of setting names to values. Keys may be
// written as env names or in lower case ("stack_dir"); sequences are joined
// with commas. A blank path yields no overrides.
func loadFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read PIPELINE_CONFIG: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse PIPELINE_CONFIG %s: %w", path, err)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToUpper(k)
		switch val := v.(type) {
		case nil:
			continue
		case []any:
			parts := make([]string, len(val))
			for i, p := range val {
				parts[i] = fmt.Sprint(p)
			}
			out[key] = strings.Join(parts, ",")
		default:
			out[key] = fmt.Sprint(val)
		}
	}
	return out, nil
}

func parseBBox(s string) (domain.Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return domain.Bounds{}, errors.New("invalid AOI_BBOX: want minlon,minlat,maxlon,maxlat")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return domain.Bounds{}, fmt.Errorf("invalid AOI_BBOX: %w", err)
		}
		v[i] = f
	}
	b := domain.Bounds{MinX: v[0], MinY: v[1], MaxX: v[2], MaxY: v[3]}
	if b.MinX >= b.MaxX || b.MinY >= b.MaxY || !b.IsGeographic() {
		return domain.Bounds{}, errors.New("invalid AOI_BBOX: not a lon/lat rectangle")
	}
	return b, nil
}

func parseIndices(s string) ([]domain.Index, error) {
	var out []domain.Index
	seen := map[domain.Index]bool{}
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		idx, err := domain.ParseIndex(part)
		if err != nil {
			return nil, fmt.Errorf("invalid INDICES: %w", err)
		}
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("INDICES is required")
	}
	return out, nil
}

func parsePositiveInt(s, name string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return n, nil
}

func parseMapboxCacheSize(s string) int {
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return 1000
}
