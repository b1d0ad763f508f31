package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/quake-change-etl/internal/adapter/gdal"
	httpadapter "github.com/couchcryptid/quake-change-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/quake-change-etl/internal/adapter/kafka"
	"github.com/couchcryptid/quake-change-etl/internal/adapter/mapbox"
	"github.com/couchcryptid/quake-change-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/quake-change-etl/internal/adapter/vector"
	"github.com/couchcryptid/quake-change-etl/internal/config"
	"github.com/couchcryptid/quake-change-etl/internal/domain"
	"github.com/couchcryptid/quake-change-etl/internal/observability"
	"github.com/couchcryptid/quake-change-etl/internal/pipeline"
)

func main() {
	stageFlag := flag.String("stage", string(pipeline.StageAll),
		"stage to run: aoi, stack, indices, patches, visualize, plot, map or all")
	flag.Parse()

	stage, err := pipeline.ParseStage(*stageFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	os.Exit(run(cfg, stage, logger, metrics))
}

func run(cfg *config.Config, stage pipeline.Stage, logger *slog.Logger, metrics *observability.Metrics) int {
	store := gdal.NewStore(cfg.TargetResolution, logger)
	deps := pipeline.Deps{
		Stacks:  store,
		Rasters: store,
		Vectors: vector.Store{},
		Stacker: gdal.NewStacker(stackAOI(cfg, logger), cfg.StackEPSG, store, logger),
	}

	// Hotspot geocoding is feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN.
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		deps.Geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	if cfg.KafkaEnabled() {
		writer := kafkaadapter.NewWriter(cfg, logger)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		deps.Publisher = writer
		logger.Info("patch publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaPatchTopic)
	}

	if cfg.LedgerPath != "" {
		ledger, err := sqlite.Open(cfg.LedgerPath)
		if err != nil {
			logger.Error("failed to open run ledger", "path", cfg.LedgerPath, "error", err)
			return 1
		}
		defer func() {
			if err := ledger.Close(); err != nil {
				logger.Error("run ledger close error", "error", err)
			}
		}()
		deps.Ledger = ledger
	}

	p := pipeline.New(cfg, deps, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.HTTPAddr != "" {
		srv := httpadapter.NewServer(cfg.HTTPAddr, p, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}
		}()
	}

	reports, err := p.Run(ctx, stage)
	for _, r := range reports {
		logger.Info("stage summary", "stage", r.Stage, "run_id", r.RunID, "summary", r.Summary(), "patches", r.Patches())
	}
	if err != nil {
		logger.Error("pipeline error", "stage", stage, "error", err)
		return 1
	}
	logger.Info("run complete", "stage", stage)
	return 0
}

// stackAOI prefers the AOI polygon on disk, written by the aoi stage, over
// the configured bounding box.
func stackAOI(cfg *config.Config, logger *slog.Logger) domain.Bounds {
	b, err := vector.ReadAOI(cfg.AOIPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("AOI file unreadable, using AOI_BBOX", "path", cfg.AOIPath, "error", err)
		}
		return cfg.AOIBBox
	}
	return b
}
