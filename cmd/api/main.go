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

	"agri-price-api/config"
	"agri-price-api/database"
	"agri-price-api/handlers"
	"agri-price-api/kamis"
	"agri-price-api/logging"
	"agri-price-api/middleware"
	"agri-price-api/prediction"
	"agri-price-api/pricing"
	"agri-price-api/seed"
	"agri-price-api/services"
	"agri-price-api/sms"
	"agri-price-api/store"
	"agri-price-api/syncer"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			return err
		}
	}
	if cfg.Server.SeedFile != "" {
		catalog, err := seed.LoadFile(cfg.Server.SeedFile)
		if err != nil {
			return fmt.Errorf("load seed file: %w", err)
		}
		res, err := seed.Apply(ctx, db, catalog)
		if err != nil {
			return fmt.Errorf("apply seed: %w", err)
		}
		logger.Info("catalog seeded", zap.Int("crops", res.Crops), zap.Int("regions", res.Regions), zap.Int("markets", res.Markets))
	}

	cache, err := services.NewCacheService(cfg.Redis, logger)
	if err != nil {
		logger.Warn("redis unavailable, caching and live events disabled", zap.Error(err))
	}
	defer cache.Close()

	st := store.New(db)
	authService := services.NewAuthService(cfg.JWT)
	engine := prediction.NewEngine(st, cfg.Prediction, logger.Named("prediction"))
	priceService := pricing.NewService(st, logger.Named("pricing"), services.NewSubmissionNotifier(cache, logger))
	smsService := sms.NewService(db, sms.NewSender(cfg.SMS, logger.Named("sms")), logger.Named("sms"))
	if !cfg.SMS.Enabled() {
		logger.Info("TEXTBEE_API_KEY or TEXTBEE_DEVICE_ID not set, sms messages are only logged")
	}

	execCtx, cancelExec := context.WithCancel(context.Background())
	defer cancelExec()
	exec := syncer.NewExecutor(execCtx, cfg.Sync.QueueSize, logger.Named("executor"))
	go func() {
		for err := range exec.Errors() {
			logger.Error("background task failed", zap.Error(err))
		}
	}()

	orchestrator := syncer.New(db, kamis.NewHTMLSource(cfg.Kamis), exec, syncer.Options{
		StaleAfter:  cfg.Sync.StaleAfter(),
		Channel:     services.ChannelSync,
		Publisher:   cache,
		Predictor:   engine,
		Logger:      logger.Named("sync"),
		Cache:       cache,
		CachePrefix: services.PredictionsKeyPrefix,
	})
	orchestrator.StartScheduler(ctx, cfg.Sync.Interval())

	if cfg.Log.Format != "console" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(handlers.Deps{
		Store:        st,
		Auth:         authService,
		Cache:        cache,
		Pricing:      priceService,
		Engine:       engine,
		Orchestrator: orchestrator,
		SMS:          smsService,
		CORS:         middleware.SetupCORS(cfg.CORS),
		UploadMaxMB:  cfg.Server.UploadMaxMB,
		Logger:       logger,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	// A running sync is cancelled and still records its outcome.
	cancelExec()
	exec.Stop()
	return nil
}
