package main

import (
	"time"

	"github.com/sybethiesant/flexerr/internal/api"
	"github.com/sybethiesant/flexerr/internal/audit"
	"github.com/sybethiesant/flexerr/internal/circuitbreaker"
	"github.com/sybethiesant/flexerr/internal/config"
	"github.com/sybethiesant/flexerr/internal/database"
	"github.com/sybethiesant/flexerr/internal/engine"
	"github.com/sybethiesant/flexerr/internal/logger"
	"github.com/sybethiesant/flexerr/internal/mediaserver"
	"github.com/sybethiesant/flexerr/internal/mediaserver/jellyfin"
	"github.com/sybethiesant/flexerr/internal/mediaserver/plex"
	"github.com/sybethiesant/flexerr/internal/orchestrator"
	"github.com/sybethiesant/flexerr/internal/orchestrator/radarr"
	"github.com/sybethiesant/flexerr/internal/orchestrator/sonarr"
	"github.com/sybethiesant/flexerr/internal/queue"
	"github.com/sybethiesant/flexerr/internal/scheduler"
	"github.com/sybethiesant/flexerr/internal/store"
)

// app wires every component from configuration. Built once per command.
type app struct {
	cfg       *config.Config
	log       *logger.Logger
	engine    *engine.Engine
	processor *queue.Processor
	scheduler *scheduler.Scheduler
	server    *api.Server
}

func buildApp() (*app, error) {
	cfg := config.Get()

	logger.InitializeLoggers(cfg.GetAppLogLevel(), cfg.GetDatabaseLogLevel())
	log := logger.AppLogger()

	if err := database.Initialize(); err != nil {
		return nil, err
	}
	db := database.Get()

	server := buildMediaServer(cfg)
	orch := buildOrchestrator(cfg)

	ruleStore := store.NewRules(db)
	exclusionStore := store.NewExclusions(db)
	watchlistStore := store.NewWatchlist(db)
	velocityStore := store.NewVelocity(db)
	auditStore := store.NewAudit(db)
	queueStore := queue.NewStore(db)

	sink := audit.Multi{audit.NewLogSink(log), audit.NewDBSink(db, log)}

	eng := engine.New(engine.Deps{
		Rules:        ruleStore,
		Server:       server,
		Orchestrator: orch,
		Watchlist:    watchlistStore,
		Exclusions:   exclusionStore,
		Velocities:   velocityStore,
		Queue:        queueStore,
		Audit:        sink,
		Logger:       log,
		APICallDelay: time.Duration(cfg.Engine.APICallDelayMs) * time.Millisecond,
	})

	processor := queue.NewProcessor(queueStore, eng, sink, log, cfg.Queue.MaxPerRun)

	sched := scheduler.New(scheduler.Config{
		CronSpec:       cfg.Engine.CronSpec,
		ErrorThreshold: cfg.Engine.ErrorThreshold,
		Cooldown:       time.Duration(cfg.Engine.CooldownMinutes) * time.Minute,
	}, eng, processor, log)

	apiServer := api.NewServer(api.Deps{
		Rules:      ruleStore,
		Exclusions: exclusionStore,
		Audit:      auditStore,
		Queue:      queueStore,
		Scheduler:  sched,
		Logger:     log,
	})

	return &app{
		cfg:       cfg,
		log:       log,
		engine:    eng,
		processor: processor,
		scheduler: sched,
		server:    apiServer,
	}, nil
}

func buildMediaServer(cfg *config.Config) mediaserver.Adapter {
	timeout := time.Duration(cfg.MediaServer.Timeout) * time.Second

	var adapter mediaserver.Adapter
	switch cfg.MediaServer.Kind {
	case "jellyfin":
		adapter = jellyfin.New(jellyfin.Config{
			BaseURL: cfg.MediaServer.URL,
			APIKey:  cfg.MediaServer.Token,
			Timeout: timeout,
		})
	default:
		adapter = plex.New(plex.Config{
			BaseURL: cfg.MediaServer.URL,
			Token:   cfg.MediaServer.Token,
			Timeout: timeout,
		})
	}

	return mediaserver.WithBreaker(adapter, circuitbreaker.DefaultConfig())
}

func buildOrchestrator(cfg *config.Config) orchestrator.Adapter {
	var radarrClient *radarr.Client
	if cfg.Radarr.Enabled {
		radarrClient = radarr.New(radarr.Config{
			BaseURL: cfg.Radarr.URL,
			APIKey:  cfg.Radarr.APIKey,
		})
	}

	var sonarrClient *sonarr.Client
	if cfg.Sonarr.Enabled {
		sonarrClient = sonarr.New(sonarr.Config{
			BaseURL: cfg.Sonarr.URL,
			APIKey:  cfg.Sonarr.APIKey,
		})
	}

	return orchestrator.NewService(radarrClient, sonarrClient)
}
