package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/autobiz/abp/backend/internal/config"
	"github.com/autobiz/abp/backend/internal/executor"
	"github.com/autobiz/abp/backend/internal/logging"
	brandModel "github.com/autobiz/abp/backend/internal/model/brand"
	"github.com/autobiz/abp/backend/internal/model/usage"
	"github.com/autobiz/abp/backend/internal/provider/printify"
	"github.com/autobiz/abp/backend/internal/provider/replicate"
	"github.com/autobiz/abp/backend/internal/provider/shopify"
	"github.com/autobiz/abp/backend/internal/service/ai"
	"github.com/autobiz/abp/backend/internal/service/brand"
	"github.com/autobiz/abp/backend/internal/service/library"
	"github.com/autobiz/abp/backend/internal/service/tasks"
	usageService "github.com/autobiz/abp/backend/internal/service/usage"
	"github.com/autobiz/abp/backend/internal/store/sqlite"
	"github.com/autobiz/abp/backend/internal/telemetry"
	"github.com/autobiz/abp/backend/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, _, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof)); err != nil {
		logger.Warn("automaxprocs failed", zap.Error(err))
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("worker error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx = logging.WithLogger(ctx, logger)

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	// 工作节点的用量记录写入本地数据库；没有数据库时不记录
	var recorder usage.Recorder = usage.NopRecorder{}
	if cfg.Storage.DatabasePath != "" {
		store, err := sqlite.Open(cfg.Storage.DatabasePath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer store.Close()
		recorder = usageService.NewTracker(store.Usage(), cfg.Usage, logger.Named("usage"))
	}

	rep := replicate.New(cfg.Replicate, replicate.WithRecorder(recorder), replicate.WithLogger(logger.Named("replicate")))
	pfy := printify.New(cfg.Printify, printify.WithRecorder(recorder), printify.WithLogger(logger.Named("printify")))
	shop := shopify.New(cfg.Shopify, shopify.WithRecorder(recorder), shopify.WithLogger(logger.Named("shopify")))

	lib, err := library.NewService(cfg.Storage.LibraryDir, logger.Named("library"))
	if err != nil {
		return err
	}
	brandStore, err := brandModel.NewFileStore(cfg.Storage.BrandTemplates)
	if err != nil {
		return err
	}
	brands, err := brand.NewService(brandStore, logger.Named("brand"))
	if err != nil {
		return err
	}

	// Campaigns stay on the API node.
	deps := tasks.Deps{Library: lib, Brands: brands, Logger: logger.Named("tasks")}
	if rep.Enabled() {
		deps.Media = rep
	}
	if pfy.Enabled() {
		deps.Printify = pfy
	}
	if shop.Enabled() {
		deps.Shopify = shop
	}
	if chatModel, backend, err := ai.NewChatModel(ctx, cfg.AI, rep); err == nil {
		writer, err := ai.NewWriter(ctx, chatModel, backend, logger.Named("writer"))
		if err != nil {
			return err
		}
		deps.Writer = writer
	} else if !errors.Is(err, ai.ErrNoBackend) {
		logger.Warn("failed to initialize chat model", zap.Error(err))
	}

	registry := executor.NewRegistry()
	if err := tasks.Register(registry, deps); err != nil {
		return fmt.Errorf("register job kinds: %w", err)
	}

	secret := cfg.Worker.SharedSecret
	if secret == "" {
		logger.Warn("WORKER_SHARED_SECRET is empty, accepting unauthenticated connections")
	}
	node := worker.New(registry, worker.Options{
		Name:   cfg.Worker.Name,
		CPUs:   cfg.Worker.CPUs,
		Secret: []byte(secret),
	}, logger.Named("worker"))

	srv := &http.Server{
		Addr:              cfg.Worker.Addr,
		Handler:           node.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("worker listening",
		zap.String("addr", srv.Addr),
		zap.Float64("cpus", cfg.Worker.CPUs),
		zap.Int("kinds", len(registry.Kinds())),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
