// -----------------------------------------------------------------------
// App - composition root wiring storage, queue, services and handlers
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/handlers"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/mediaserver"
	"github.com/ternarybob/specto/internal/metrics"
	"github.com/ternarybob/specto/internal/queue"
	"github.com/ternarybob/specto/internal/queue/workers"
	"github.com/ternarybob/specto/internal/services/embeddings"
	"github.com/ternarybob/specto/internal/services/reconciler"
	"github.com/ternarybob/specto/internal/services/scheduler"
	syncsvc "github.com/ternarybob/specto/internal/services/sync"
	badgerstore "github.com/ternarybob/specto/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Job execution
	QueueManager interfaces.QueueManager
	JobProcessor *workers.JobProcessor

	// Domain services
	SyncService       *syncsvc.Service
	EmbeddingService  *embeddings.Service
	ReconcilerService interfaces.ReconcilerService
	SchedulerService  interfaces.SchedulerService
	Triggers          *scheduler.Triggers

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	ServerHandler    *handlers.ServerHandler
	JobHandler       *handlers.JobHandler
	SchedulerHandler *handlers.SchedulerHandler
	WSHandler        *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize WebSocket handler early: it is the event broadcaster the
	// job processor and embedding service publish through
	app.WSHandler = handlers.NewWebSocketHandler(app.Logger)

	// Initialize services
	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize handlers
	if err := app.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	// Crash recovery before any timer fires: a process killed mid-sync
	// leaves servers stuck in syncing and expired jobs in the queue
	app.recoverInterruptedState()

	// Start queue delivery and worker goroutines AFTER all services are
	// initialized so executors never see a half-built dependency
	if err := app.QueueManager.Start(); err != nil {
		return nil, fmt.Errorf("failed to start queue manager: %w", err)
	}
	if err := app.JobProcessor.Start(); err != nil {
		return nil, fmt.Errorf("failed to start job processor: %w", err)
	}
	app.Logger.Debug().Msg("Job processor started")

	// Queue depth gauge is evaluated at scrape time
	queueMgr := app.QueueManager
	metrics.RegisterQueueDepth(func() float64 {
		size, err := queueMgr.QueueSize(context.Background(), "")
		if err != nil {
			return 0
		}
		return float64(size)
	})

	if cfg.Scheduler.Enabled {
		if err := app.SchedulerService.Start(); err != nil {
			return nil, fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		app.Logger.Info().Msg("Scheduler disabled by configuration, jobs run on manual trigger only")
	}

	app.Logger.Info().
		Bool("scheduler_enabled", cfg.Scheduler.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := badgerstore.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes all business services in dependency order.
//
// QUEUE-BASED JOB ARCHITECTURE:
// 1. QueueManager (Badger-backed) - persistent queue sharing the storage DB
// 2. JobProcessor - claims jobs and routes them to registered executors
// 3. Executors - sync, embedding and server registration workers
// 4. Triggers - enqueue policy shared by cron ticks and operator routes
func (a *App) initServices() error {
	// Queue shares the Badger instance behind the storage manager.
	// StorageManager.DB() returns *badgerhold.Store; unwrap to *badger.DB.
	badgerStore, ok := a.StorageManager.DB().(*badgerhold.Store)
	if !ok {
		return fmt.Errorf("storage manager is not backed by BadgerDB (got %T)", a.StorageManager.DB())
	}

	queueMgr, err := queue.NewBadgerManager(badgerStore.Badger(), a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize queue manager: %w", err)
	}
	a.QueueManager = queueMgr
	a.Logger.Debug().Msg("Queue manager initialized")

	// Media server clients are dialed per run with the server's stored
	// connection settings; timeouts and rate limit come from config
	syncCfg := &a.Config.Sync
	factory := mediaserver.Factory(func(baseURL, apiKey string) mediaserver.Client {
		return mediaserver.NewHTTPClient(baseURL, apiKey,
			mediaserver.WithRequestTimeout(syncCfg.RequestTimeoutDuration()),
			mediaserver.WithItemsTimeout(syncCfg.ItemsRequestTimeoutDuration()),
			mediaserver.WithRateLimit(syncCfg.RateLimitDuration()),
		)
	})

	a.SyncService = syncsvc.NewService(a.StorageManager, factory, a.Logger)
	a.Logger.Debug().Msg("Sync service initialized")

	provisioner := embeddings.NewIndexProvisioner(
		a.StorageManager.VectorIndexStorage(),
		a.Config.Embedding.MaxIndexDimension,
		a.Logger,
	)
	a.EmbeddingService = embeddings.NewService(a.StorageManager, provisioner, a.WSHandler, &a.Config.Embedding, a.Logger)
	a.Logger.Debug().Msg("Embedding service initialized")

	a.ReconcilerService = reconciler.NewService(a.StorageManager, queueMgr, &a.Config.Reconciler, a.Logger)
	a.Logger.Debug().Msg("Reconciler service initialized")

	// Job processor with one executor per job name
	a.JobProcessor = workers.NewJobProcessor(
		queueMgr,
		a.StorageManager.JobResultStorage(),
		a.WSHandler,
		a.Logger,
		a.Config.Queue.Concurrency,
	)
	a.JobProcessor.RegisterExecutor(workers.NewSyncWorker(a.SyncService, a.Logger))
	a.JobProcessor.RegisterExecutor(workers.NewUserSyncWorker(a.SyncService, a.Logger))
	a.JobProcessor.RegisterExecutor(workers.NewActivitySyncWorker(a.SyncService, a.Logger))
	a.JobProcessor.RegisterExecutor(workers.NewEmbeddingWorker(a.EmbeddingService, a.Logger))
	a.JobProcessor.RegisterExecutor(workers.NewServerWorker(a.StorageManager.ServerStorage(), factory, a.Logger))
	a.Logger.Debug().Msg("Job processor initialized")

	a.Triggers = scheduler.NewTriggers(a.StorageManager, queueMgr, &a.Config.Scheduler, a.Logger)

	// Scheduled jobs are always registered so the status API can report
	// them; the global enabled flag only gates Start
	if err := a.initScheduler(); err != nil {
		return err
	}

	return nil
}

// initScheduler registers the recurring jobs with their configured cadence
func (a *App) initScheduler() error {
	a.SchedulerService = scheduler.NewService(a.Logger)

	schedCfg := a.Config.Scheduler
	jobs := []struct {
		name        string
		schedule    string
		description string
		handler     func() error
	}{
		{
			name:        "media-sync",
			schedule:    schedCfg.SyncSchedule,
			description: "Enqueue sync jobs for eligible servers",
			handler:     a.Triggers.EnqueueMediaSyncs,
		},
		{
			name:        "embedding-sync",
			schedule:    schedCfg.EmbeddingSchedule,
			description: "Enqueue embedding jobs for auto-generate servers",
			handler:     a.Triggers.EnqueueEmbeddingSyncs,
		},
		{
			name:        "reconcile",
			schedule:    schedCfg.ReconcileSchedule,
			description: "Repair stuck syncs, stale results and expired jobs",
			handler:     a.runReconcilePass,
		},
		{
			name:        "result-retention",
			schedule:    schedCfg.RetentionSchedule,
			description: "Delete job results past the retention window",
			handler: func() error {
				_, err := a.ReconcilerService.EnforceRetention(context.Background())
				return err
			},
		},
	}

	for _, job := range jobs {
		if err := a.SchedulerService.RegisterJob(job.name, job.schedule, job.description, job.handler); err != nil {
			return fmt.Errorf("failed to register %s job: %w", job.name, err)
		}
	}

	a.Logger.Debug().Int("jobs", len(jobs)).Msg("Scheduler jobs registered")
	return nil
}

// runReconcilePass runs the staleness repair steps. Retention has its own
// schedule; the manual trigger route runs everything via RunAll.
func (a *App) runReconcilePass() error {
	ctx := context.Background()

	var firstErr error
	if _, err := a.ReconcilerService.ReconcileStuckSyncs(ctx); err != nil {
		firstErr = err
	}
	if _, err := a.ReconcilerService.ReconcileStaleResults(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if _, err := a.QueueManager.SweepExpired(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// initHandlers initializes the HTTP handlers
func (a *App) initHandlers() error {
	a.APIHandler = handlers.NewAPIHandler()
	a.ServerHandler = handlers.NewServerHandler(
		a.StorageManager.ServerStorage(),
		a.StorageManager.MediaStorage(),
		a.StorageManager.SessionStorage(),
		a.QueueManager,
		a.Triggers,
		a.Logger,
	)
	a.JobHandler = handlers.NewJobHandler(a.QueueManager, a.StorageManager.JobResultStorage(), a.Logger)
	a.SchedulerHandler = handlers.NewSchedulerHandler(a.SchedulerService, a.ReconcilerService, a.Logger)

	a.Logger.Debug().Msg("HTTP handlers initialized")
	return nil
}

// recoverInterruptedState repairs what a dead process left behind: servers
// stuck in syncing go back to pending, expired queue jobs are swept
func (a *App) recoverInterruptedState() {
	ctx := context.Background()

	reset, err := a.StorageManager.ServerStorage().ResetInterruptedSyncs(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to reset interrupted syncs")
	} else if reset > 0 {
		a.Logger.Info().Int("servers", reset).Msg("Interrupted syncs reset to pending")
	}

	swept, err := a.QueueManager.SweepExpired(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to sweep expired jobs")
	} else if swept > 0 {
		a.Logger.Info().Int("jobs", swept).Msg("Expired jobs swept at boot")
	}
}

// Close closes all application resources
func (a *App) Close() error {
	// Stop scheduler first so no new jobs are enqueued during drain
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	// Stop job processor and wait for in-flight jobs
	if a.JobProcessor != nil {
		if err := a.JobProcessor.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop job processor")
		} else {
			a.Logger.Info().Msg("Job processor stopped")
		}
	}

	// Stop queue delivery
	if a.QueueManager != nil {
		if err := a.QueueManager.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop queue manager")
		}
	}

	// Close storage
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
