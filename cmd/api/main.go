package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/interview-prep-service/internal/api/http"
	"github.com/spec-kit/interview-prep-service/internal/api/http/handlers"
	"github.com/spec-kit/interview-prep-service/internal/auth"
	"github.com/spec-kit/interview-prep-service/internal/config"
	"github.com/spec-kit/interview-prep-service/internal/events"
	"github.com/spec-kit/interview-prep-service/internal/observability"
	"github.com/spec-kit/interview-prep-service/internal/persistence"
	"github.com/spec-kit/interview-prep-service/internal/repository"
	"github.com/spec-kit/interview-prep-service/internal/service"
	"github.com/spec-kit/interview-prep-service/internal/storage"
	"github.com/spec-kit/interview-prep-service/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Tracing, cfg.App.Name, cfg.App.Version)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}

	userRepo, storePinger, closeStore, err := openUserStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open credential store", zap.Error(err))
	}
	defer closeStore()

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	var attempts repository.LoginAttemptRepository
	if redis != nil {
		attempts = repository.NewLoginAttemptRepository(redis.Client, cfg.Auth.LoginAttemptWindow)
	}

	objects, uploadsDir, err := openObjectStore(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("failed to init object storage", zap.Error(err))
	}

	dispatcher := events.NewInMemoryDispatcher()
	worker.StartAuditWorker(service.NewAuditService(dispatcher, logger))

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authService := service.NewAuthService(cfg.Auth, service.AuthDependencies{
		UserRepo:         userRepo,
		LoginAttemptRepo: attempts,
		Hasher:           auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		Tokens:           tokens,
		Dispatcher:       dispatcher,
		Logger:           logger.Named("auth"),
	})
	mediaService := service.NewMediaService(objects, cfg.Storage, logger.Named("media"))
	authMiddleware := auth.NewAuthMiddleware(tokens)

	production := cfg.App.IsProduction()
	metrics := observability.NewMetrics()
	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		BodyLimit:    int(mediaService.MaxBytes()) + 1<<20,
		ErrorHandler: httptransport.ErrorHandler(logger, production),
	})
	httptransport.RegisterMiddlewares(app, httptransport.MiddlewareConfig{
		Logger:         logger,
		Metrics:        metrics,
		Timeout:        cfg.App.RequestTimeout(),
		AllowedOrigins: cfg.App.AllowedOrigins,
		Production:     production,
	})

	deps := map[string]handlers.Pinger{cfg.Store.Driver: storePinger}
	if redis != nil {
		deps["redis"] = redis
	}
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, metrics, deps),
		Auth:           handlers.NewAuthHandler(authService, mediaService),
		AuthMiddleware: authMiddleware,
		UploadsDir:     uploadsDir,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	flushCtx, flushCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer flushCancel()
	if err := shutdownTracing(flushCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}

func openUserStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.UserRepository, handlers.Pinger, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreDriverSQLite:
		db, err := persistence.NewSQLite(cfg.SQLite, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := persistence.RunSQLiteMigrations(ctx, db.DB, logger); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return repository.NewSQLiteUserRepository(db.DB), db, db.Close, nil
	default:
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
				pg.Close()
				return nil, nil, nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		return repository.NewUserRepository(pg.PoolHandle()), pg, pg.Close, nil
	}
}

func openObjectStore(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStore, string, error) {
	if cfg.Driver == config.StorageDriverS3 {
		store, err := storage.NewS3StoreFromConfig(ctx, cfg)
		if err != nil {
			return nil, "", err
		}
		return store, "", nil
	}
	store, err := storage.NewLocalStore(cfg.LocalDir, cfg.PublicBaseURL)
	if err != nil {
		return nil, "", err
	}
	return store, store.Dir(), nil
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
