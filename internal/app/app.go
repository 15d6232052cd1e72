package app

import (
	"context"
	"fmt"
	"time"

	temporalsdkclient "go.temporal.io/sdk/client"
	"gorm.io/gorm"

	"github.com/pupscan/pupscan-backend/internal/breed"
	"github.com/pupscan/pupscan-backend/internal/clients/classifier"
	"github.com/pupscan/pupscan-backend/internal/clients/gcp"
	openaiclient "github.com/pupscan/pupscan-backend/internal/clients/openai"
	rediscache "github.com/pupscan/pupscan-backend/internal/clients/redis"
	"github.com/pupscan/pupscan-backend/internal/data/repos"
	"github.com/pupscan/pupscan-backend/internal/db"
	httpx "github.com/pupscan/pupscan-backend/internal/http"
	httpH "github.com/pupscan/pupscan-backend/internal/http/handlers"
	"github.com/pupscan/pupscan-backend/internal/jobs/ageprogression"
	"github.com/pupscan/pupscan-backend/internal/observability"
	"github.com/pupscan/pupscan-backend/internal/platform/logger"
	"github.com/pupscan/pupscan-backend/internal/scan"
	"github.com/pupscan/pupscan-backend/internal/temporalx"
	"github.com/pupscan/pupscan-backend/internal/temporalx/temporalworker"
)

type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	Server *httpx.Server
	Cfg    Config

	temporal      temporalsdkclient.Client
	worker        *temporalworker.Runner
	status        rediscache.StatusCache
	traceShutdown func(context.Context) error
	cancel        context.CancelFunc
}

func New() (*App, error) {
	cfg := LoadConfig()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	traceShutdown := observability.InitTracing(context.Background(), log)

	pg, err := db.New(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	theDB := pg.DB()

	scanRepo := repos.NewScanRepo(theDB, log)
	correctionRepo := repos.NewCorrectionRepo(theDB, log)

	classifierClient, err := classifier.New(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init classifier client: %w", err)
	}
	aiClient, err := openaiclient.New(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init openai client: %w", err)
	}
	bucket, err := gcp.NewBucketService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init bucket service: %w", err)
	}
	statusCache, err := rediscache.NewStatusCache(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init status cache: %w", err)
	}

	engine := breed.NewEngine(log, classifierClient, aiClient)

	jobDeps := ageprogression.Deps{
		Log:      log,
		Scans:    scanRepo,
		Bucket:   bucket,
		AI:       aiClient,
		Status:   statusCache,
		Payloads: ageprogression.NewPayloadCache(),
	}

	tc, err := temporalx.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init temporal client: %w", err)
	}

	var dispatcher scan.Dispatcher
	var workerRunner *temporalworker.Runner
	if tc != nil {
		dispatcher = temporalx.NewDispatcher(log, tc)
		if cfg.StartWorker {
			workerRunner, err = temporalworker.NewRunner(log, tc, jobDeps)
			if err != nil {
				tc.Close()
				log.Sync()
				return nil, fmt.Errorf("init temporal worker: %w", err)
			}
		}
	} else {
		dispatcher = ageprogression.NewLocalDispatcher(log, jobDeps, cfg.WallClock)
	}

	notifier := scan.NewLogNotifier(log)
	scanService := scan.NewService(log, scanRepo, correctionRepo, engine, aiClient, bucket, statusCache, dispatcher)
	correctionService := scan.NewCorrectionService(log, theDB, scanRepo, correctionRepo, classifierClient, bucket, notifier)

	server := httpx.NewServer(httpx.RouterConfig{
		Log:           log,
		ScanHandler:   httpH.NewScanHandler(scanService, correctionService, bucket),
		HealthHandler: httpH.NewHealthHandler(),
	})

	return &App{
		Log:           log,
		DB:            theDB,
		Server:        server,
		Cfg:           cfg,
		temporal:      tc,
		worker:        workerRunner,
		status:        statusCache,
		traceShutdown: traceShutdown,
	}, nil
}

// Start launches the background worker when Temporal is configured.
func (a *App) Start() error {
	if a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.worker != nil {
		if err := a.worker.Start(ctx); err != nil {
			return fmt.Errorf("start temporal worker: %w", err)
		}
	}
	return nil
}

func (a *App) Run() error {
	return a.Server.Run(":" + a.Cfg.Port)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.temporal != nil {
		a.temporal.Close()
	}
	if a.status != nil {
		_ = a.status.Close()
	}
	if a.traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.traceShutdown(ctx); err != nil && a.Log != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
