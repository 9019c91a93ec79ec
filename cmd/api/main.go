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
	"github.com/autobiz/abp/backend/internal/handler"
	"github.com/autobiz/abp/backend/internal/logging"
	brandModel "github.com/autobiz/abp/backend/internal/model/brand"
	"github.com/autobiz/abp/backend/internal/provider/printify"
	"github.com/autobiz/abp/backend/internal/provider/replicate"
	"github.com/autobiz/abp/backend/internal/provider/shopify"
	"github.com/autobiz/abp/backend/internal/service/ai"
	"github.com/autobiz/abp/backend/internal/service/brand"
	"github.com/autobiz/abp/backend/internal/service/campaign"
	"github.com/autobiz/abp/backend/internal/service/jobs"
	"github.com/autobiz/abp/backend/internal/service/library"
	"github.com/autobiz/abp/backend/internal/service/review"
	"github.com/autobiz/abp/backend/internal/service/tasks"
	"github.com/autobiz/abp/backend/internal/service/usage"
	"github.com/autobiz/abp/backend/internal/store/sqlite"
	"github.com/autobiz/abp/backend/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
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
		logger.Fatal("server error", zap.Error(err))
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

	store, err := sqlite.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	tracker := usage.NewTracker(store.Usage(), cfg.Usage, logger.Named("usage"))

	rep := replicate.New(cfg.Replicate, replicate.WithRecorder(tracker), replicate.WithLogger(logger.Named("replicate")))
	pfy := printify.New(cfg.Printify, printify.WithRecorder(tracker), printify.WithLogger(logger.Named("printify")))
	shop := shopify.New(cfg.Shopify, shopify.WithRecorder(tracker), shopify.WithLogger(logger.Named("shopify")))

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

	registry := executor.NewRegistry()
	exec := executor.Select(cfg.Executor, registry, logger.Named("executor"))

	deps := tasks.Deps{Library: lib, Brands: brands, Logger: logger.Named("tasks")}
	if rep.Enabled() {
		deps.Media = rep
	} else {
		logger.Info("Replicate 凭证未配置，跳过媒体生成")
	}
	if pfy.Enabled() {
		deps.Printify = pfy
	}
	if shop.Enabled() {
		deps.Shopify = shop
	}

	var campaigns *campaign.Service
	chatModel, backend, err := ai.NewChatModel(ctx, cfg.AI, rep)
	switch {
	case errors.Is(err, ai.ErrNoBackend):
		logger.Info("未配置文案模型，跳过文案与营销活动功能")
	case err != nil:
		logger.Warn("failed to initialize chat model, continuing without AI functionality", zap.Error(err))
	default:
		writer, err := ai.NewWriter(ctx, chatModel, backend, logger.Named("writer"))
		if err != nil {
			return err
		}
		deps.Writer = writer

		reviewer, err := review.NewService(ctx, chatModel, review.Config{
			Enabled:      cfg.AI.ReviewLLMEnabled,
			HistoryLimit: cfg.AI.ReviewHistoryLimit,
		}, logger.Named("review"))
		if err != nil {
			return err
		}
		if !reviewer.Enabled() {
			logger.Info("review classifier disabled, using heuristic scoring")
		}

		campaigns, err = campaign.NewService(cfg.Storage.CampaignsDir, writer, reviewer,
			campaign.WithBrands(brands),
			campaign.WithExecutor(exec),
			campaign.WithLogger(logger.Named("campaign")),
		)
		if err != nil {
			return err
		}
		deps.Campaigns = campaigns
		logger.Info("AI service initialized", zap.String("backend", backend))
	}

	if err := tasks.Register(registry, deps); err != nil {
		return fmt.Errorf("register job kinds: %w", err)
	}

	jobSvc, err := jobs.NewService(ctx, store.Jobs(), exec, registry, jobs.Options{
		MaxConcurrent: cfg.Executor.MaxConcurrentJobs,
		Timeout:       cfg.Executor.ItemTimeout,
	}, logger.Named("jobs"))
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = jobSvc.Close(cctx)
	}()

	router := handler.NewRouter(handler.Deps{
		Logger:    logger,
		Jobs:      jobSvc,
		Executor:  exec,
		Registry:  registry,
		Library:   lib,
		Brands:    brands,
		Campaigns: campaigns,
		Usage:     tracker,
		Integrations: map[string]bool{
			"replicate": rep.Enabled(),
			"printify":  pfy.Enabled(),
			"shopify":   shop.Enabled(),
			"ai":        deps.Writer != nil,
		},
		Ping: store.Ping,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	logger.Info("backend listening", zap.String("addr", srv.Addr), zap.Int("kinds", len(registry.Kinds())))
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
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
