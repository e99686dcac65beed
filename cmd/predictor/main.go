package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agri-price-api/config"
	"agri-price-api/logging"
	"agri-price-api/pgstore"
	"agri-price-api/prediction"
	"agri-price-api/services"
	"agri-price-api/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	predictionsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agriprice_predictor_predictions_generated_total",
		Help: "Total number of predictions computed and stored.",
	})
	pairsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agriprice_predictor_pairs_skipped_total",
		Help: "Total number of pairs skipped for lack of data.",
	})
	predictionsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agriprice_predictor_predictions_failed_total",
		Help: "Total number of prediction failures.",
	})
	cyclesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agriprice_predictor_cycles_published_total",
		Help: "Total number of cycle summaries published to Redis.",
	})
	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agriprice_predictor_cycle_duration_seconds",
		Help:    "Duration of a full prediction cycle.",
		Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
	})
)

type generator interface {
	GenerateAll(ctx context.Context) (prediction.Summary, error)
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// cycleEvent is what dashboards receive on the predictions channel.
type cycleEvent struct {
	Event      string `json:"event"`
	Source     string `json:"source"`
	FinishedAt string `json:"finished_at"`
	prediction.Summary
}

type cycle struct {
	engine    generator
	publisher publisher
	logger    *zap.Logger
	now       func() time.Time
}

func (c *cycle) run(ctx context.Context) {
	start := c.now()
	defer func() {
		cycleDuration.Observe(time.Since(start).Seconds())
	}()

	sum, err := c.engine.GenerateAll(ctx)
	if err != nil {
		predictionsFailed.Inc()
		c.logger.Error("prediction cycle failed", zap.Error(err))
		return
	}
	predictionsGenerated.Add(float64(sum.Generated))
	pairsSkipped.Add(float64(sum.Skipped))
	predictionsFailed.Add(float64(sum.Failed))

	if sum.Pairs == 0 {
		c.logger.Info("no verified prices in window, skipping")
		return
	}

	if sum.Generated > 0 {
		if err := c.publisher.DeletePrefix(ctx, services.PredictionsKeyPrefix); err != nil {
			c.logger.Warn("prediction cache invalidation failed", zap.Error(err))
		}
	}

	ev := cycleEvent{
		Event:      "generated",
		Source:     "predictor",
		FinishedAt: c.now().UTC().Format(time.RFC3339),
		Summary:    sum,
	}
	if err := c.publisher.Publish(ctx, services.ChannelPredictions, ev); err != nil {
		c.logger.Warn("redis publish failed", zap.Error(err))
	} else {
		cyclesPublished.Inc()
	}

	c.logger.Info("prediction cycle completed",
		zap.Int("pairs", sum.Pairs),
		zap.Int("generated", sum.Generated),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
		zap.Duration("took", time.Since(start)))
}

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
	logger = logger.Named("predictor")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgstore.Open(ctx, cfg.Database.GetURL())
	if err != nil {
		logger.Fatal("database unavailable", zap.Error(err))
	}
	defer pool.Close()

	cache, err := services.NewCacheService(cfg.Redis, logger)
	if err != nil {
		logger.Warn("redis unavailable, cycle summaries will not be published", zap.Error(err))
	}
	defer cache.Close()

	go worker.ServeMetrics(ctx, cfg.Worker.MetricsAddr, logger)

	c := &cycle{
		engine:    prediction.NewEngine(pgstore.New(pool), cfg.Prediction, logger.Named("engine")),
		publisher: cache,
		logger:    logger,
		now:       time.Now,
	}
	logger.Info("predictor running",
		zap.Duration("interval", cfg.Worker.PredictInterval()),
		zap.Int("window_days", cfg.Prediction.WindowDays),
		zap.Int("horizon_days", cfg.Prediction.HorizonDays),
		zap.String("model", cfg.Prediction.ModelVersion))

	worker.Tick(ctx, cfg.Worker.PredictInterval(), c.run)
	logger.Info("predictor shutting down")
}
