package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agri-price-api/config"
	"agri-price-api/logging"
	"agri-price-api/models"
	"agri-price-api/pgstore"
	"agri-price-api/services"
	"agri-price-api/sms"
	"agri-price-api/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const dedupeTTL = 36 * time.Hour

var (
	alertsConsidered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agriprice_alerter_alerts_considered_total",
		Help: "Total number of directional predictions considered for alerts.",
	})
	alertsDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agriprice_alerter_alerts_deduped_total",
		Help: "Total number of alerts skipped because they were already sent.",
	})
	smsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agriprice_alerter_sms_sent_total",
		Help: "Total number of alert messages accepted by the gateway.",
	})
	smsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agriprice_alerter_sms_failed_total",
		Help: "Total number of alert messages the gateway rejected.",
	})
	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agriprice_alerter_cycle_duration_seconds",
		Help:    "Duration of a full alert cycle.",
		Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
	})
)

type alertStore interface {
	RisingOrFalling(ctx context.Context, since time.Time, minConfidence float64) ([]pgstore.Alert, error)
	Subscribers(ctx context.Context, cropID, regionID uint) ([]string, error)
	LogSMS(ctx context.Context, logs []models.SMSLog) error
}

// claimer marks an alert as sent. Claim reports whether this call won the
// key; Release gives it back after a failed send.
type claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type redisClaimer struct {
	client *redis.Client
}

// Claim always succeeds without redis, so alerts may repeat after a restart.
func (r redisClaimer) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return true, nil
	}
	return r.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

func (r redisClaimer) Release(ctx context.Context, key string) error {
	if r.client == nil {
		return nil
	}
	return r.client.Del(ctx, key).Err()
}

func dedupeKey(a pgstore.Alert) string {
	return fmt.Sprintf("agriprice:alert:%d:%s", a.PredictionID, a.PredictionDate.Format("2006-01-02"))
}

func composeMessage(a pgstore.Alert) string {
	verb := "rise"
	if a.Trend == models.TrendFalling {
		verb = "fall"
	}
	change := 0.0
	if a.CurrentPrice > 0 {
		change = math.Abs(a.PredictedPrice-a.CurrentPrice) / a.CurrentPrice * 100
	}
	msg := fmt.Sprintf("AgriPrice: %s in %s expected to %s %.1f%% to KES %.2f in %d days (now KES %.2f).",
		a.Crop, a.Region, verb, change, a.PredictedPrice, a.HorizonDays, a.CurrentPrice)
	if a.Recommendation != "" {
		msg += " " + a.Recommendation
	}
	return msg
}

type alerter struct {
	store         alertStore
	sender        sms.Sender
	claims        claimer
	lookback      time.Duration
	minConfidence float64
	logger        *zap.Logger
	now           func() time.Time
}

func (a *alerter) run(ctx context.Context) {
	start := a.now()
	defer func() {
		cycleDuration.Observe(time.Since(start).Seconds())
	}()

	alerts, err := a.store.RisingOrFalling(ctx, start.Add(-a.lookback), a.minConfidence)
	if err != nil {
		a.logger.Error("query predictions failed", zap.Error(err))
		return
	}
	if len(alerts) == 0 {
		a.logger.Debug("no directional predictions, skipping")
		return
	}

	var sent, skipped int
	for _, al := range alerts {
		alertsConsidered.Inc()
		n, err := a.deliver(ctx, al)
		if err != nil {
			a.logger.Error("alert failed",
				zap.Uint("prediction_id", al.PredictionID),
				zap.String("crop", al.Crop),
				zap.String("region", al.Region),
				zap.Error(err))
			continue
		}
		if n == 0 {
			skipped++
		}
		sent += n
	}
	a.logger.Info("alert cycle completed",
		zap.Int("predictions", len(alerts)),
		zap.Int("messages", sent),
		zap.Int("skipped", skipped),
		zap.Duration("took", time.Since(start)))
}

// deliver sends one alert to every subscriber and returns how many
// messages went out.
func (a *alerter) deliver(ctx context.Context, al pgstore.Alert) (int, error) {
	phones, err := a.store.Subscribers(ctx, al.CropID, al.RegionID)
	if err != nil {
		return 0, fmt.Errorf("load subscribers: %w", err)
	}
	if len(phones) == 0 {
		return 0, nil
	}

	key := dedupeKey(al)
	claimed, err := a.claims.Claim(ctx, key, dedupeTTL)
	if err != nil {
		return 0, fmt.Errorf("claim alert: %w", err)
	}
	if !claimed {
		alertsDeduped.Inc()
		return 0, nil
	}

	msg := composeMessage(al)
	ref, sendErr := a.sender.Send(ctx, phones, msg)

	logs := make([]models.SMSLog, 0, len(phones))
	for _, p := range phones {
		l := models.SMSLog{Recipient: p, Message: msg, Status: models.SMSStatusSent, ProviderRef: ref}
		if sendErr != nil {
			l.Status = models.SMSStatusFailed
			l.Error = sendErr.Error()
		}
		logs = append(logs, l)
	}
	if err := a.store.LogSMS(ctx, logs); err != nil {
		a.logger.Warn("sms log write failed", zap.Error(err))
	}

	if sendErr != nil {
		smsFailed.Add(float64(len(phones)))
		if err := a.claims.Release(ctx, key); err != nil {
			a.logger.Warn("alert claim not released", zap.String("key", key), zap.Error(err))
		}
		return 0, fmt.Errorf("send: %w", sendErr)
	}
	smsSent.Add(float64(len(phones)))
	return len(phones), nil
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
	logger = logger.Named("alerter")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgstore.Open(ctx, cfg.Database.GetURL())
	if err != nil {
		logger.Fatal("database unavailable", zap.Error(err))
	}
	defer pool.Close()

	cache, err := services.NewCacheService(cfg.Redis, logger)
	if err != nil {
		logger.Warn("redis unavailable, alerts are not deduplicated across restarts", zap.Error(err))
	}
	defer cache.Close()

	if !cfg.SMS.Enabled() {
		logger.Info("TEXTBEE_API_KEY or TEXTBEE_DEVICE_ID not set, alerts are only logged")
	}

	go worker.ServeMetrics(ctx, cfg.Worker.MetricsAddr, logger)

	interval := cfg.Worker.AlertInterval()
	a := &alerter{
		store:         pgstore.New(pool),
		sender:        sms.NewSender(cfg.SMS, logger.Named("sms")),
		claims:        redisClaimer{client: cache.Client()},
		lookback:      2 * interval,
		minConfidence: cfg.Worker.AlertMinConfidence,
		logger:        logger,
		now:           time.Now,
	}
	logger.Info("alerter running",
		zap.Duration("interval", interval),
		zap.Float64("min_confidence", cfg.Worker.AlertMinConfidence))

	worker.Tick(ctx, interval, a.run)
	logger.Info("alerter shutting down")
}
