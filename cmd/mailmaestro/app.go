package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq" // PostgreSQL driver

	"mailmaestro/internal/classify"
	"mailmaestro/internal/config"
	"mailmaestro/internal/dedup"
	"mailmaestro/internal/language"
	"mailmaestro/internal/llm"
	"mailmaestro/internal/logger"
	"mailmaestro/internal/mail"
	"mailmaestro/internal/notes"
	"mailmaestro/internal/ocr"
	"mailmaestro/internal/orchestrator"
	"mailmaestro/internal/pipeline"
	"mailmaestro/internal/prompt"
	"mailmaestro/internal/schedule"
	"mailmaestro/internal/server"
	"mailmaestro/pkg/health"
	"mailmaestro/pkg/metrics"
	"mailmaestro/pkg/migrations"
)

type App struct {
	config *config.Config
	logger logger.Logger

	db           *sql.DB
	redisClient  *redis.Client
	mailClient   *mail.IMAPClient
	scheduler    *schedule.Scheduler
	orchestrator *orchestrator.Orchestrator
	healthReg    *health.CheckerRegistry
	httpServer   *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config: cfg,
		logger: log,
	}
}

func (a *App) Initialize(ctx context.Context) error {
	metrics.Register()
	a.healthReg = health.NewCheckerRegistry()

	if err := a.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := a.initRedis(ctx); err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	if err := a.initMail(ctx); err != nil {
		return fmt.Errorf("failed to initialize mail client: %w", err)
	}
	if err := a.initPipeline(ctx); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	return nil
}

func (a *App) initDatabase(ctx context.Context) error {
	pg := a.config.Database.Postgres
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		pg.Host, pg.Port, pg.User, pg.Password, pg.DBName, pg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	if a.config.Database.RunMigrations {
		if err := migrations.Run(db, a.config.Database.MigrationsDir); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		a.logger.InfowCtx(ctx, "migrations applied", "dir", a.config.Database.MigrationsDir)
	}

	a.db = db
	a.healthReg.Register(health.NewPostgresChecker(db))
	return nil
}

func (a *App) initRedis(ctx context.Context) error {
	rc := a.config.Database.Redis
	if !rc.Enabled {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", rc.Host, rc.Port),
		Password: rc.Password,
		DB:       rc.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	a.redisClient = client
	a.healthReg.Register(health.NewRedisChecker(client))
	return nil
}

func (a *App) initMail(ctx context.Context) error {
	client, err := mail.NewIMAPClient(ctx, a.config.Mail, a.logger)
	if err != nil {
		return err
	}
	a.mailClient = client
	return nil
}

func (a *App) initPipeline(ctx context.Context) error {
	var registry *prompt.Registry
	var err error
	if dir := a.config.Pipeline.PromptsDir; dir != "" {
		registry, err = prompt.NewRegistryFromDir(dir)
	} else {
		registry, err = prompt.NewRegistry()
	}
	if err != nil {
		return fmt.Errorf("load prompt templates: %w", err)
	}

	completer := llm.NewClient(a.config.LLM, a.config.CircuitBreaker, a.logger)

	classifier, err := classify.NewClassifier(a.config.Pipeline.Routes, completer, registry, a.logger)
	if err != nil {
		return fmt.Errorf("build classifier: %w", err)
	}

	var dedupRepo dedup.Repository = dedup.NewPostgresRepository(a.db)
	if a.redisClient != nil {
		ttl := time.Duration(a.config.Deduplication.CacheTTLSeconds) * time.Second
		dedupRepo = dedup.NewCachedRepository(dedupRepo, a.redisClient, ttl, a.logger)
	}
	dedupRepo = dedup.NewCircuitBreakerRepository(dedupRepo, a.config.CircuitBreaker)
	guard := dedup.NewGuard(dedup.NewHasher(a.config.Deduplication.HashAlgorithm), dedupRepo, a.logger)

	a.scheduler = schedule.NewScheduler(a.logger)
	store := notes.NewNotionStore(a.config.Notes.APIKey, a.logger)

	extractor := pipeline.NewExtractor(completer, registry, a.logger)
	validator := pipeline.NewValidator(extractor, a.logger)
	composer := pipeline.NewComposer(completer, registry, a.logger)
	dispatcher := pipeline.NewDispatcher(a.mailClient, a.scheduler, store, a.config.Pipeline, a.config.Notes, a.logger)
	proc := pipeline.New(extractor, validator, composer, dispatcher, a.logger)

	opts := orchestrator.Options{
		MaxConcurrency: a.config.Pipeline.MaxConcurrency,
		MarkRead:       true,
		Language:       a.config.Pipeline.Language,
		Env:            a.config.Pipeline.DeploymentEnv,
	}
	if a.config.Pipeline.OCR.Enabled {
		opts.Images = ocr.NewReader(ocr.TesseractEngine{}, a.logger)
	}

	a.orchestrator = orchestrator.New(a.mailClient,
		language.NewDetector(a.logger),
		classifier, guard, proc,
		opts,
		a.logger)
	return nil
}

// RunOnce executes a single triage pass and waits for deferred jobs to fire
// before returning.
func (a *App) RunOnce(ctx context.Context) error {
	summary, err := a.orchestrator.Run(ctx)
	if err != nil {
		return err
	}
	a.logger.InfowCtx(ctx, "run complete",
		"fetched", summary.Fetched,
		"processed", summary.Processed,
		"duplicates", summary.Duplicates,
		"unmatched", summary.Unmatched,
		"failed", summary.Failed,
	)

	// One-shot mode has no long-lived process to carry deferred inserts, so
	// run them now instead of cancelling them on exit.
	a.scheduler.Drain()
	return nil
}

// Serve runs the HTTP trigger server until the context is cancelled.
func (a *App) Serve(ctx context.Context) error {
	srv := server.New(a.orchestrator, a.healthReg, *a.config, a.logger)

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.config.Server.Host, a.config.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  a.config.Server.ReadTimeoutSeconds * time.Second,
		WriteTimeout: a.config.Server.WriteTimeoutSeconds * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infow("HTTP server listening", "addr", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Infow("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Errorw("HTTP server shutdown failed", "error", err)
	}

	a.Shutdown(shutdownCtx)
	return nil
}

func (a *App) Shutdown(ctx context.Context) {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.mailClient != nil {
		if err := a.mailClient.Close(); err != nil {
			a.logger.Warnw("closing mail client failed", "error", err)
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnw("closing redis failed", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warnw("closing postgres failed", "error", err)
		}
	}
}
