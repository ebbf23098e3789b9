package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/menu-labeler/internal/auth"
	"github.com/example/menu-labeler/internal/config"
	"github.com/example/menu-labeler/internal/handlers"
	"github.com/example/menu-labeler/internal/imageencoder"
	"github.com/example/menu-labeler/internal/inference"
	"github.com/example/menu-labeler/internal/logging"
	"github.com/example/menu-labeler/internal/repository"
	"github.com/example/menu-labeler/internal/usecase"
	"github.com/example/menu-labeler/internal/writer"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := buildApp(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer cleanup()

	if len(args) > 0 && args[0] == "serve" {
		return serve(cfg, app, logger)
	}
	return label(ctx, cfg, app, logger)
}

type application struct {
	labeling *usecase.LabelingUseCase
	records  handlers.RecordFinder
}

// buildApp wires the labeling use case. Collectors are registered on reg, so
// each call needs its own registry unless it is the process-wide one.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*application, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var cache *usecase.ReplyCache
	if cfg.Redis.Addr != "" {
		redisClient, err := initRedis(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("redis unavailable, continuing without reply cache", zap.Error(err))
		} else {
			closers = append(closers, func() { _ = redisClient.Close() })
			cache = usecase.NewReplyCache(usecase.NewRedisCache(redisClient), cfg.ModelID, cfg.PromptText, cfg.Redis.TTL, logger)
		}
	}

	app := &application{}
	var repo usecase.LabelRepository
	if cfg.Database.DSN != "" {
		labelRepo, err := initRepository(ctx, cfg.Database, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		repo = labelRepo
		app.records = labelRepo
	}

	encoder := imageencoder.NewEncoder(cfg.ImageFolder, imageencoder.ExtensionFilter{
		Extensions:      cfg.Extensions,
		CaseInsensitive: cfg.CaseInsensitive,
	})
	client := inference.NewOpenAIClient(inference.Options{
		APIKey:            cfg.Inference.APIKey,
		BaseURL:           cfg.Inference.BaseURL,
		Model:             cfg.ModelID,
		Timeout:           cfg.Inference.Timeout,
		RequestsPerSecond: cfg.Inference.RequestsPerSecond,
	}, logger)

	app.labeling = usecase.NewLabelingUseCase(encoder, client, cache, repo, usecase.NewMetrics(reg), logger, usecase.Options{
		Model:          cfg.ModelID,
		Prompt:         cfg.PromptText,
		RecordFailures: cfg.RecordFailures,
	})
	return app, cleanup, nil
}

func label(ctx context.Context, cfg *config.Config, app *application, logger *zap.Logger) error {
	results, runErr := app.labeling.Run(ctx)
	if results == nil {
		return runErr
	}

	if err := writer.Write(cfg.OutputFile, results); err != nil {
		logger.Error("failed to write results", zap.Error(err), zap.String("path", cfg.OutputFile))
		return err
	}

	summary := usecase.Summarize(results)
	logger.Info("results written",
		zap.String("path", cfg.OutputFile),
		zap.Int("files", summary.Files),
		zap.Int("menus", summary.Menus),
		zap.Int("receipts", summary.Receipts),
		zap.Int("errors", summary.Errors),
		zap.Int("distinct_dishes", len(summary.Dishes)),
	)
	return runErr
}

func serve(cfg *config.Config, app *application, logger *zap.Logger) error {
	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = cfg.Server.MaxUploadSize

	authMiddleware := auth.JWTMiddleware(cfg.Server.JWTSecret, cfg.Server.JWTAudience)
	handlers.RegisterRoutes(r, app.labeling, app.records, authMiddleware, cfg.Server.MaxUploadSize)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("labeler API listening", zap.String("addr", cfg.Server.Addr))
	return serveHTTPServer(server, 15*time.Second, logger)
}

func initRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, logging.NewOperationError("main.init_redis", "", err)
	}
	logger.Info("connected to redis", zap.String("addr", cfg.Addr))
	return client, nil
}

func initRepository(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*repository.LabelRepository, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	repo := repository.NewLabelRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		return nil, fmt.Errorf("auto migrate failed: %w", err)
	}
	logger.Info("connected to database")
	return repo, nil
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
