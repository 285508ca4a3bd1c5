// SPDX-License-Identifier: MIT

// Command daemon runs the genscene service: HTTP API, worker pool, and
// maintenance scheduler in a single process.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/genscene/genscene/internal/api"
	"github.com/genscene/genscene/internal/config"
	"github.com/genscene/genscene/internal/credits"
	"github.com/genscene/genscene/internal/daemon"
	"github.com/genscene/genscene/internal/dispatch"
	"github.com/genscene/genscene/internal/health"
	"github.com/genscene/genscene/internal/kie"
	"github.com/genscene/genscene/internal/log"
	"github.com/genscene/genscene/internal/media/ffmpeg"
	"github.com/genscene/genscene/internal/models"
	"github.com/genscene/genscene/internal/pipeline"
	"github.com/genscene/genscene/internal/queue"
	"github.com/genscene/genscene/internal/registry"
	"github.com/genscene/genscene/internal/store"
	"github.com/genscene/genscene/internal/telemetry"
	"github.com/genscene/genscene/internal/version"
)

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsed.User = nil
	return parsed.String()
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Config path: explicit via --config, otherwise auto-load
	// ${GENSCENE_DATA_DIR}/config.yaml when it exists (so API-saved config
	// persists across restarts).
	explicitConfigPath := strings.TrimSpace(*configPath)
	effectiveConfigPath := explicitConfigPath
	if effectiveConfigPath == "" {
		dataDir := strings.TrimSpace(config.ParseString("GENSCENE_DATA_DIR", "./data"))
		autoPath := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(autoPath); err == nil {
			effectiveConfigPath = autoPath
		}
	}

	// Precedence: ENV > file > defaults.
	loader := config.NewLoader(effectiveConfigPath)
	cfg, err := loader.Load()
	if err != nil {
		base := log.Base()
		base.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}
	if err := config.Validate(cfg); err != nil {
		base := log.Base()
		base.Fatal().
			Err(err).
			Str("event", "config.invalid").
			Msg("configuration failed validation")
	}

	// Env parsing during Load already initialised the logger, so Configure
	// is a no-op here; SetLevel applies a level set only in the config file.
	log.Configure(log.Config{Level: cfg.Log.Level, Service: "genscene"})
	log.SetLevel(cfg.Log.Level)
	logger := log.WithComponent("daemon")

	switch {
	case explicitConfigPath != "":
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file").
			Str("path", explicitConfigPath).
			Msg("loaded configuration from file")
	case effectiveConfigPath != "":
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file(auto)").
			Str("path", effectiveConfigPath).
			Msg("loaded configuration from file")
	default:
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	assetsDir := filepath.Join(cfg.DataDir, "assets")
	for _, dir := range []string{cfg.DataDir, cfg.MediaDir, assetsDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			logger.Fatal().
				Err(err).
				Str("event", "startup.dir_failed").
				Str("dir", dir).
				Msg("failed to create data directory")
		}
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", cfg.Listen).
		Msg("starting genscene")

	logger.Info().Msgf("→ Data dir: %s", cfg.DataDir)
	logger.Info().Msgf("→ Media dir: %s", cfg.MediaDir)
	logger.Info().Msgf("→ Workers: %d (job timeout %s)", cfg.Workers.Count, cfg.Workers.JobTimeout)
	if cfg.Queue.URL != "" {
		logger.Info().Msgf("→ Queue: redis (%s)", maskURL(cfg.Queue.URL))
	} else {
		logger.Info().Msgf("→ Queue: in-memory (capacity %d)", cfg.Queue.Capacity)
	}
	if cfg.KIE.APIKey != "" {
		logger.Info().Msgf("→ Provider: %s", maskURL(cfg.KIE.BaseURL))
	} else {
		logger.Warn().Msg("→ Provider: no API key configured, pipelines use local fallbacks")
	}
	if cfg.APIToken != "" {
		logger.Info().Msg("→ API token: configured")
	} else {
		logger.Warn().
			Str("security", "weak").
			Msg("→ API token: NOT configured (auth disabled). Set GENSCENE_API_TOKEN for security.")
	}

	telemetryProvider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    "genscene",
		ServiceVersion: version.Version,
		ExporterType:   cfg.OTel.Exporter,
		Endpoint:       cfg.OTel.Endpoint,
		SamplingRate:   cfg.OTel.SamplingRate,
		Insecure:       cfg.OTel.Insecure,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "telemetry.init_failed").
			Msg("failed to initialise tracing")
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "store.open_failed").
			Str("db_path", cfg.DBPath).
			Msg("failed to open job store")
	}

	// The ledger shares the store's database file with its own tables.
	ledger, err := credits.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "ledger.open_failed").
			Str("db_path", cfg.DBPath).
			Msg("failed to open credits ledger")
	}

	var q queue.Queue
	if cfg.Queue.URL != "" {
		q, err = queue.NewRedis(cfg.Queue.URL)
		if err != nil {
			logger.Fatal().
				Err(err).
				Str("event", "queue.connect_failed").
				Msg("failed to connect to redis queue")
		}
	} else {
		q = queue.NewMemory(cfg.Queue.Capacity)
	}

	catalog, err := models.NewRegistry(models.Config{Fallback: cfg.Models.Fallback})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "models.init_failed").
			Msg("failed to build model catalog")
	}

	reg := registry.New()

	// Hot reload support: watch config file and allow SIGHUP/API-triggered
	// reload.
	cfgHolder := config.NewHolder(cfg, loader, effectiveConfigPath)

	// Provider adapters stay nil without an API key; the pipelines then take
	// their local fallback paths.
	var images pipeline.ImageGenerator
	var videos pipeline.VideoGenerator
	if cfg.KIE.APIKey != "" {
		client := kie.New(kie.Config{
			BaseURL:      cfg.KIE.BaseURL,
			APIKey:       cfg.KIE.APIKey,
			PollInterval: cfg.KIE.PollInterval,
			PollAttempts: cfg.KIE.PollAttempts,
		})
		images, videos = client, client
	}

	pipeDeps := pipeline.Deps{
		Registry:     reg,
		Store:        st,
		Models:       catalog,
		Images:       images,
		Videos:       videos,
		Encoder:      ffmpeg.New(cfg.FFmpegPath),
		Settings:     cfgHolder.Get,
		MediaDir:     cfg.MediaDir,
		AssetsDir:    assetsDir,
		ScaffoldUnit: time.Second,
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		Workers:      cfg.Workers.Count,
		PollInterval: cfg.Workers.PollInterval,
		JobTimeout:   cfg.Workers.JobTimeout,
	}, dispatch.Deps{
		Store:    st,
		Registry: reg,
		Ledger:   ledger,
		Queue:    q,
		Models:   catalog,
		Handlers: pipeline.Handlers(pipeDeps),
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "dispatch.init_failed").
			Msg("failed to build dispatcher")
	}

	hm := health.NewManager(version.Version)
	hm.RegisterChecker(health.NewPingChecker("store", st.Ping))
	hm.RegisterChecker(health.NewDirChecker("media_dir", cfg.MediaDir))
	hm.RegisterChecker(health.NewQueueChecker("queue", q.Len))

	apiServer, err := api.New(api.Deps{
		Settings: cfgHolder.Get,
		Dispatch: dispatcher,
		Store:    st,
		Registry: reg,
		Ledger:   ledger,
		Models:   catalog,
		Health:   hm,
		Reload:   cfgHolder.Reload,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "api.init_failed").
			Msg("failed to build API server")
	}

	// Assets cache sweep on the configured schedule.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Cache.Schedule, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := pipeDeps.SweepAssets(sweepCtx); err != nil {
			logger.Error().
				Err(err).
				Str("event", "cache.sweep_failed").
				Msg("assets cache sweep failed")
		}
	}); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "cache.schedule_invalid").
			Str("schedule", cfg.Cache.Schedule).
			Msg("invalid cache sweep schedule")
	}

	mgr, err := daemon.NewManager(daemon.ServerConfig{
		ListenAddr:  cfg.Listen,
		MetricsAddr: cfg.MetricsListen,
	}, daemon.Deps{
		Logger:         logger,
		APIHandler:     apiServer.Handler(),
		MetricsHandler: promhttp.Handler(),
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "manager.creation_failed").
			Msg("failed to create daemon manager")
	}

	// Hooks run LIFO: watcher and registry first, stores last before the
	// tracer flushes.
	mgr.RegisterShutdownHook("telemetry", telemetryProvider.Shutdown)
	mgr.RegisterShutdownHook("store", func(context.Context) error { return st.Close() })
	mgr.RegisterShutdownHook("ledger", func(context.Context) error { return ledger.Close() })
	mgr.RegisterShutdownHook("queue", func(context.Context) error { return q.Close() })
	mgr.RegisterShutdownHook("registry", func(context.Context) error { reg.Stop(); return nil })
	mgr.RegisterShutdownHook("config_watcher", func(context.Context) error { cfgHolder.Stop(); return nil })

	app := daemon.NewApp(logger, mgr, cfgHolder, dispatcher, scheduler)
	if err := app.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon exited with error")
	}

	logger.Info().Msg("server exiting")
}
