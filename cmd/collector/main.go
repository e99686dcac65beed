package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"agri-price-api/config"
	"agri-price-api/kamis"
	"agri-price-api/logging"
	"agri-price-api/models"
	"agri-price-api/pgstore"
	"agri-price-api/services"
	"agri-price-api/sms"
	"agri-price-api/worker"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// ReportPayload is one farmer price report published by the USSD/SMS
// gateway. Price may be a JSON number or a string such as "Ksh 4,500/bag".
type ReportPayload struct {
	TS            string          `json:"ts"`
	ReporterPhone string          `json:"reporter_phone"`
	Crop          string          `json:"crop"`
	Region        string          `json:"region"`
	Market        string          `json:"market"`
	Price         json.RawMessage `json:"price"`
	Unit          string          `json:"unit"`
}

var (
	msgsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agriprice_collector_messages_received_total",
		Help: "Total number of MQTT messages received by collector.",
	})
	msgsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agriprice_collector_messages_stored_total",
		Help: "Total number of reports stored as pending price entries.",
	})
	msgsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agriprice_collector_messages_duplicate_total",
		Help: "Total number of reports matching an existing entry.",
	})
	msgsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agriprice_collector_messages_failed_total",
		Help: "Total number of messages rejected or failed to store.",
	})
)

type reportStore interface {
	InsertReport(ctx context.Context, r pgstore.Report) (uint, bool, error)
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

type collector struct {
	store     reportStore
	publisher publisher
	logger    *zap.Logger
	now       func() time.Time
}

// parseReport validates a raw payload. An unparseable timestamp falls back
// to the receive time.
func parseReport(raw []byte, now time.Time) (pgstore.Report, error) {
	var p ReportPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return pgstore.Report{}, fmt.Errorf("invalid payload: %w", err)
	}
	p.Crop = strings.TrimSpace(p.Crop)
	p.Region = strings.TrimSpace(p.Region)
	if p.Crop == "" || p.Region == "" {
		return pgstore.Report{}, errors.New("crop and region are required")
	}

	priceText, err := priceString(p.Price)
	if err != nil {
		return pgstore.Report{}, err
	}
	price, unit, err := kamis.ParsePrice(priceText)
	if err != nil {
		return pgstore.Report{}, err
	}
	if !strings.Contains(priceText, "/") {
		unit = ""
	}
	if p.Unit != "" {
		unit = strings.ToLower(strings.TrimSpace(p.Unit))
	}

	date := now
	if p.TS != "" {
		if d, err := kamis.ParseDate(p.TS); err == nil {
			date = d
		}
	}
	if models.Day(date).After(models.Day(now)) {
		return pgstore.Report{}, fmt.Errorf("report date %s is in the future", date.Format("2006-01-02"))
	}

	phone := ""
	if p.ReporterPhone != "" {
		if normalized, err := sms.NormalizePhone(p.ReporterPhone); err == nil {
			phone = normalized
		}
	}

	return pgstore.Report{
		ReporterPhone: phone,
		Crop:          p.Crop,
		Region:        p.Region,
		Market:        strings.TrimSpace(p.Market),
		Price:         price,
		Unit:          unit,
		Date:          models.Day(date),
	}, nil
}

func priceString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("price is required")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("invalid price: %w", err)
		}
		return s, nil
	}
	return string(raw), nil
}

type submissionEvent struct {
	Event     string `json:"event"`
	EntryID   uint   `json:"entry_id"`
	Crop      string `json:"crop"`
	Region    string `json:"region"`
	Price     string `json:"price"`
	EntryDate string `json:"entry_date"`
	Source    string `json:"source"`
}

func (c *collector) processMessage(ctx context.Context, raw []byte) {
	msgsReceived.Inc()

	report, err := parseReport(raw, c.now())
	if err != nil {
		msgsFailed.Inc()
		c.logger.Warn("report rejected", zap.Error(err))
		return
	}

	id, created, err := c.store.InsertReport(ctx, report)
	if err != nil {
		msgsFailed.Inc()
		if errors.Is(err, pgstore.ErrUnknownName) {
			c.logger.Warn("report rejected", zap.Error(err))
		} else {
			c.logger.Error("db insert failed", zap.Error(err))
		}
		return
	}
	if !created {
		msgsDuplicate.Inc()
		c.logger.Debug("duplicate report ignored", zap.String("crop", report.Crop), zap.String("region", report.Region))
		return
	}
	msgsStored.Inc()

	ev := submissionEvent{
		Event:     "submitted",
		EntryID:   id,
		Crop:      report.Crop,
		Region:    report.Region,
		Price:     report.Price.StringFixed(2),
		EntryDate: report.Date.Format("2006-01-02"),
		Source:    string(models.SourceFarmer),
	}
	if err := c.publisher.Publish(ctx, services.ChannelSubmissions, ev); err != nil {
		c.logger.Debug("submission event not published", zap.Uint("entry_id", id), zap.Error(err))
	}
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
	logger = logger.Named("collector")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgstore.Open(ctx, cfg.Database.GetURL())
	if err != nil {
		logger.Fatal("database unavailable", zap.Error(err))
	}
	defer pool.Close()

	cache, err := services.NewCacheService(cfg.Redis, logger)
	if err != nil {
		logger.Warn("redis unavailable, submission events disabled", zap.Error(err))
	}
	defer cache.Close()

	go worker.ServeMetrics(ctx, cfg.Worker.MetricsAddr, logger)

	c := &collector{store: pgstore.New(pool), publisher: cache, logger: logger, now: time.Now}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTT.URL)
	opts.SetClientID("agriprice-collector-" + time.Now().Format("20060102150405"))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetDefaultPublishHandler(func(client mqtt.Client, message mqtt.Message) {
		c.processMessage(ctx, message.Payload())
	})
	opts.OnConnect = func(client mqtt.Client) {
		token := client.Subscribe(cfg.MQTT.Topic, 1, nil)
		token.Wait()
		if token.Error() != nil {
			logger.Error("mqtt subscribe failed", zap.Error(token.Error()))
			return
		}
		logger.Info("subscribed", zap.String("topic", cfg.MQTT.Topic))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if token.Error() != nil {
		logger.Fatal("mqtt connection failed", zap.Error(token.Error()))
	}

	logger.Info("collector running", zap.String("mqtt", cfg.MQTT.URL), zap.String("metrics", cfg.Worker.MetricsAddr))

	<-ctx.Done()
	logger.Info("collector shutting down")
	client.Disconnect(250)
}
