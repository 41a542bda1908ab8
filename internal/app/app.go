// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	gpubsub "cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/brand-monitor/internal/ai"
	"github.com/JakeFAU/brand-monitor/internal/api"
	"github.com/JakeFAU/brand-monitor/internal/archive"
	"github.com/JakeFAU/brand-monitor/internal/clock/system"
	"github.com/JakeFAU/brand-monitor/internal/config"
	"github.com/JakeFAU/brand-monitor/internal/driver"
	"github.com/JakeFAU/brand-monitor/internal/extract"
	"github.com/JakeFAU/brand-monitor/internal/id/uuid"
	"github.com/JakeFAU/brand-monitor/internal/maintenance"
	"github.com/JakeFAU/brand-monitor/internal/monitor"
	"github.com/JakeFAU/brand-monitor/internal/orchestrator"
	pubmem "github.com/JakeFAU/brand-monitor/internal/publisher/memory"
	"github.com/JakeFAU/brand-monitor/internal/publisher/pubsub"
	"github.com/JakeFAU/brand-monitor/internal/search"
	"github.com/JakeFAU/brand-monitor/internal/storage/gcs"
	"github.com/JakeFAU/brand-monitor/internal/storage/local"
	"github.com/JakeFAU/brand-monitor/internal/storage/memory"
	"github.com/JakeFAU/brand-monitor/internal/storage/postgres"
	"github.com/JakeFAU/brand-monitor/internal/worker"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// App holds the shared, long-lived services. It is built once per process
// and handed to the command that runs.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Store        monitor.Store
	Publisher    monitor.Publisher
	Orchestrator *orchestrator.Orchestrator
	Worker       *worker.Worker
	Loop         *driver.Loop
	Pool         *driver.Pool
	Background   *driver.Background
	Scheduler    *driver.Scheduler
	Blacklister  *maintenance.Blacklister

	// Filter, Normalizer and Briefing are nil when no AI key is configured.
	Filter     *maintenance.ContextFilter
	Normalizer *maintenance.TagNormalizer
	Briefing   *maintenance.Briefing

	closers []func()
}

// New creates and initializes an App from cfg. ctx bounds background runs
// kicked through the HTTP surface. It fails fast if any critical service
// cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	logger.Info("initializing application services")

	if err := a.initStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}
	archiver, err := a.initArchive(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initComponents(ctx, archiver); err != nil {
		a.Close()
		return nil, err
	}

	logger.Info("application services initialized")
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	dsn := a.Config.DB.DSN
	if dsn == "" {
		a.Logger.Info("using in-memory store; data is lost on exit")
		a.Store = memory.NewStore()
		return nil
	}
	if a.Config.DB.MigrateOnStart {
		a.Logger.Info("applying database migrations")
		if err := postgres.Migrate(dsn, "up", 0); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}
	store, err := postgres.New(ctx, postgres.Config{
		DSN:             dsn,
		MaxConns:        a.Config.DB.MaxConns,
		MaxConnLifetime: a.Config.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	a.Logger.Info("connected to PostgreSQL")
	a.Store = store
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	ps := a.Config.PubSub
	if ps.ProjectID == "" {
		a.Logger.Info("using in-memory publisher; scan events are not delivered")
		a.Publisher = pubmem.New()
		return nil
	}
	client, err := gpubsub.NewClient(ctx, ps.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := client.Close(); err != nil {
			a.Logger.Warn("close pubsub client", zap.Error(err))
		}
	})
	pub, err := pubsub.New(client, ps.TopicName)
	if err != nil {
		return fmt.Errorf("create pubsub publisher: %w", err)
	}
	a.closers = append(a.closers, pub.Stop)
	a.Logger.Info("publishing scan events to Pub/Sub", zap.String("topic", ps.TopicName))
	a.Publisher = pub
	return nil
}

// initArchive returns nil when archiving is disabled.
func (a *App) initArchive(ctx context.Context) (*archive.Archiver, error) {
	cfg := a.Config.Archive
	var blobs monitor.BlobStore
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		blobs = memory.NewBlobStore()
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		blobs = store
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.Logger.Warn("close storage client", zap.Error(err))
			}
		})
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		blobs = store
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", cfg.Backend)
	}
	a.Logger.Info("archiving raw payloads", zap.String("backend", cfg.Backend))
	return archive.New(blobs, a.Config.Worker.ArchivePrefix), nil
}

func (a *App) initComponents(ctx context.Context, archiver *archive.Archiver) error {
	cfg := a.Config
	clk := system.New()
	ids := uuid.New()

	orch, err := orchestrator.New(orchestrator.Deps{
		Store:     a.Store,
		Publisher: a.Publisher,
		Clock:     clk,
		IDs:       ids,
	}, cfg.Worker.DefaultSources, a.Logger)
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}
	a.Orchestrator = orch

	searchClient, err := search.New(search.Config{
		BaseURL:  cfg.Search.BaseURL,
		Login:    cfg.Search.Login,
		Password: cfg.Search.Password,
		Timeout:  cfg.Search.Timeout,
	}, nil, a.Logger)
	if err != nil {
		return fmt.Errorf("init search client: %w", err)
	}
	extractor := extract.New(extract.Config{
		UserAgent:     cfg.Extract.UserAgent,
		RespectRobots: cfg.Extract.RespectRobots,
		Timeout:       cfg.Extract.Timeout,
		MaxChars:      cfg.Extract.MaxChars,
		SkipDomains:   cfg.Extract.SkipDomains,
	}, nil, a.Logger)

	deps := worker.Deps{
		Store:      a.Store,
		Search:     searchClient,
		Extractor:  extractor,
		Completion: orch,
		Clock:      clk,
		IDs:        ids,
	}
	if archiver != nil {
		deps.Archiver = archiver
	}

	var aiClient *ai.Client
	if cfg.AI.APIKey != "" {
		aiClient, err = ai.New(ai.Config{
			APIKey:      cfg.AI.APIKey,
			BaseURL:     cfg.AI.BaseURL,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			MaxTokens:   cfg.AI.MaxTokens,
			Timeout:     cfg.AI.Timeout,
		}, ai.NewPacer(cfg.AI.CallDelay), a.Logger)
		if err != nil {
			return fmt.Errorf("init ai client: %w", err)
		}
		deps.Analyzer = aiClient
	} else {
		a.Logger.Warn("no ai.api_key configured; analysis and AI maintenance are disabled")
	}

	w, err := worker.New(deps, worker.Config{
		StaleAfter:          cfg.Worker.StaleAfter,
		MaxRetries:          cfg.Worker.MaxRetries,
		TopNExtract:         cfg.Worker.TopNExtract,
		SearchDepth:         cfg.Worker.SearchDepth,
		DefaultLanguage:     cfg.Worker.DefaultLanguage,
		DefaultLocationCode: cfg.Worker.DefaultLocationCode,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("init worker: %w", err)
	}
	a.Worker = w

	if a.Blacklister, err = maintenance.NewBlacklister(a.Store, clk, a.Logger); err != nil {
		return fmt.Errorf("init blacklister: %w", err)
	}
	if aiClient != nil {
		if err := a.initAIMaintenance(aiClient); err != nil {
			return err
		}
	}

	a.Loop = driver.NewLoop(w, driver.LoopConfig{StepDelay: cfg.Driver.StepDelay, Budget: cfg.Driver.Budget}, a.Logger)
	a.Pool = driver.NewPool(a.Loop, cfg.Driver.Concurrency, a.Logger)
	a.Background = driver.NewBackground(ctx, a.Pool, a.Logger)

	schedDeps := driver.SchedulerDeps{
		Store:   a.Store,
		Starter: orch,
		Kicker:  a.Background,
		Clock:   clk,
	}
	if a.Filter != nil {
		schedDeps.Filter = a.Filter
		schedDeps.Normalizer = a.Normalizer
	}
	a.Scheduler, err = driver.NewScheduler(schedDeps, driver.SchedulerConfig{
		Tick:              cfg.Driver.SchedulerTick,
		MaintenanceCron:   cfg.Driver.MaintenanceCron,
		MaintenanceBudget: cfg.Driver.Budget,
		Incremental:       cfg.Driver.Incremental,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	return nil
}

func (a *App) initAIMaintenance(client *ai.Client) error {
	m := a.Config.Maintenance
	var err error
	if a.Filter, err = maintenance.NewContextFilter(a.Store, client, m.FilterBatchSize, a.Logger); err != nil {
		return fmt.Errorf("init context filter: %w", err)
	}
	if a.Normalizer, err = maintenance.NewTagNormalizer(a.Store, client, m.NormalizerBatchSize, a.Logger); err != nil {
		return fmt.Errorf("init tag normalizer: %w", err)
	}
	if a.Briefing, err = maintenance.NewBriefing(a.Store, client, m.BriefingTopThemes, a.Logger); err != nil {
		return fmt.Errorf("init briefing: %w", err)
	}
	a.Orchestrator.SetBriefer(a.Briefing)
	return nil
}

// Server builds the HTTP server over the App's components.
func (a *App) Server() *api.Server {
	deps := api.Deps{
		Scans:       a.Orchestrator,
		Step:        a.Worker,
		Runner:      a.Pool,
		Background:  a.Background,
		Blacklister: a.Blacklister,
		Ready:       a.Ready,
	}
	if a.Filter != nil {
		deps.Filter = a.Filter
		deps.Normalizer = a.Normalizer
		deps.Briefer = a.Briefing
	}
	return api.NewServer(deps, api.Config{
		AuthEnabled:    a.Config.Auth.Enabled,
		APIKey:         a.Config.Auth.APIKey,
		CronSecret:     a.Config.Auth.CronSecret,
		RequestTimeout: a.Config.Server.RequestTimeout,
	}, a.Logger)
}

// Addr is the HTTP listen address.
func (a *App) Addr() string {
	return ":" + strconv.Itoa(a.Config.Server.Port)
}

// Ready pings the database when one is configured.
func (a *App) Ready(ctx context.Context) error {
	if a.Store == nil {
		return errors.New("store is not initialized")
	}
	if p, ok := a.Store.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close waits for any background run, then shuts down services in reverse
// order of creation.
func (a *App) Close() {
	a.Logger.Info("shutting down application services")
	if a.Background != nil {
		a.Background.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.Store != nil {
		a.Store.Close()
	}
	// Best effort; stderr sync fails on some platforms.
	_ = a.Logger.Sync()
}
