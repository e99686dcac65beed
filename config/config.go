package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Redis      RedisConfig
	CORS       CORSConfig
	Kamis      KamisConfig
	Sync       SyncConfig
	Prediction PredictionConfig
	SMS        SMSConfig
	MQTT       MQTTConfig
	Worker     WorkerConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port        int
	UploadMaxMB int
	SeedFile    string
}

type DatabaseConfig struct {
	Driver      string
	Host        string
	Port        int
	User        string
	Password    string
	Name        string
	SSLMode     string
	Path        string
	AutoMigrate bool
}

// JWTConfig signs access and refresh tokens with separate secrets.
type JWTConfig struct {
	AccessSecret        string
	AccessExpiryMinutes int
	RefreshSecret       string
	RefreshExpiryHours  int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins string
}

type KamisConfig struct {
	BaseURL     string
	ProductIDs  []int
	PerPage     int
	Concurrency int
	TimeoutSec  int
	UserAgent   string
}

type SyncConfig struct {
	IntervalHours int
	StaleAfterMin int
	QueueSize     int
}

type PredictionConfig struct {
	WindowDays   int
	MinPoints    int
	HorizonDays  int
	ModelVersion string
}

type SMSConfig struct {
	BaseURL  string
	APIKey   string
	DeviceID string
}

type MQTTConfig struct {
	URL   string
	Topic string
}

// WorkerConfig drives the predictor, collector and alerter binaries.
type WorkerConfig struct {
	MetricsAddr        string
	PredictIntervalMin int
	AlertIntervalMin   int
	AlertMinConfidence float64
}

func (w WorkerConfig) PredictInterval() time.Duration {
	return time.Duration(w.PredictIntervalMin) * time.Minute
}

func (w WorkerConfig) AlertInterval() time.Duration {
	return time.Duration(w.AlertIntervalMin) * time.Minute
}

type LogConfig struct {
	Level  string
	Format string
}

func (d DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// GetURL returns the postgres URL form used by the pgx worker pools.
func (d DatabaseConfig) GetURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

func (k KamisConfig) Timeout() time.Duration {
	return time.Duration(k.TimeoutSec) * time.Second
}

func (s SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalHours) * time.Hour
}

func (s SyncConfig) StaleAfter() time.Duration {
	return time.Duration(s.StaleAfterMin) * time.Minute
}

func (s SMSConfig) Enabled() bool {
	return s.APIKey != "" && s.DeviceID != ""
}

func LoadConfig() (*Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	ints := map[string]int{
		"SERVER_PORT":              8080,
		"UPLOAD_MAX_MB":            10,
		"DB_PORT":                  5432,
		"JWT_ACCESS_EXPIRY_MIN":    15,
		"JWT_REFRESH_EXPIRY_HOURS": 168,
		"REDIS_PORT":               6379,
		"REDIS_DB":                 0,
		"KAMIS_PER_PAGE":           3000,
		"KAMIS_CONCURRENCY":        4,
		"KAMIS_TIMEOUT_SEC":        20,
		"SYNC_INTERVAL_HOURS":      24,
		"SYNC_STALE_AFTER_MIN":     120,
		"SYNC_QUEUE_SIZE":          4,
		"PREDICTION_WINDOW_DAYS":   30,
		"PREDICTION_MIN_POINTS":    3,
		"PREDICTION_HORIZON_DAYS":  7,
		"PREDICT_INTERVAL_MIN":     60,
		"ALERT_INTERVAL_MIN":       30,
	}
	parsed := make(map[string]int, len(ints))
	for key, fallback := range ints {
		v, err := getIntEnv(key, fallback)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		parsed[key] = v
	}

	productIDs, err := getIntRangeEnv("KAMIS_PRODUCT_IDS", 1, 273)
	if err != nil {
		return nil, fmt.Errorf("invalid KAMIS_PRODUCT_IDS: %w", err)
	}

	alertMin, err := strconv.ParseFloat(getEnv("ALERT_MIN_CONFIDENCE", "0.3"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ALERT_MIN_CONFIDENCE: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:        parsed["SERVER_PORT"],
			UploadMaxMB: parsed["UPLOAD_MAX_MB"],
			SeedFile:    getEnv("SEED_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:      getEnv("DB_DRIVER", "postgres"),
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        parsed["DB_PORT"],
			User:        getEnv("DB_USER", "agriprice"),
			Password:    getEnv("DB_PASSWORD", "agriprice_dev_password"),
			Name:        getEnv("DB_NAME", "agriprice"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			Path:        getEnv("DB_PATH", "agriprice.db"),
			AutoMigrate: getEnv("DB_AUTO_MIGRATE", "true") == "true",
		},
		JWT: JWTConfig{
			AccessSecret:        getEnv("JWT_ACCESS_SECRET", "dev-access-secret"),
			AccessExpiryMinutes: parsed["JWT_ACCESS_EXPIRY_MIN"],
			RefreshSecret:       getEnv("JWT_REFRESH_SECRET", "dev-refresh-secret"),
			RefreshExpiryHours:  parsed["JWT_REFRESH_EXPIRY_HOURS"],
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     parsed["REDIS_PORT"],
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       parsed["REDIS_DB"],
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Kamis: KamisConfig{
			BaseURL:     getEnv("KAMIS_BASE_URL", "https://kamis.kilimo.go.ke/site/market"),
			ProductIDs:  productIDs,
			PerPage:     parsed["KAMIS_PER_PAGE"],
			Concurrency: parsed["KAMIS_CONCURRENCY"],
			TimeoutSec:  parsed["KAMIS_TIMEOUT_SEC"],
			UserAgent:   getEnv("KAMIS_USER_AGENT", "agri-price-tracker/1.0"),
		},
		Sync: SyncConfig{
			IntervalHours: parsed["SYNC_INTERVAL_HOURS"],
			StaleAfterMin: parsed["SYNC_STALE_AFTER_MIN"],
			QueueSize:     parsed["SYNC_QUEUE_SIZE"],
		},
		Prediction: PredictionConfig{
			WindowDays:   parsed["PREDICTION_WINDOW_DAYS"],
			MinPoints:    parsed["PREDICTION_MIN_POINTS"],
			HorizonDays:  parsed["PREDICTION_HORIZON_DAYS"],
			ModelVersion: getEnv("PREDICTION_MODEL_VERSION", "linear-v1"),
		},
		SMS: SMSConfig{
			BaseURL:  getEnv("TEXTBEE_BASE_URL", "https://api.textbee.dev/api/v1"),
			APIKey:   getEnv("TEXTBEE_API_KEY", ""),
			DeviceID: getEnv("TEXTBEE_DEVICE_ID", ""),
		},
		MQTT: MQTTConfig{
			URL:   getEnv("MQTT_URL", "tcp://localhost:1883"),
			Topic: getEnv("MQTT_TOPIC", "agriprice/reports/+"),
		},
		Worker: WorkerConfig{
			MetricsAddr:        getEnv("METRICS_ADDR", ":9100"),
			PredictIntervalMin: parsed["PREDICT_INTERVAL_MIN"],
			AlertIntervalMin:   parsed["ALERT_INTERVAL_MIN"],
			AlertMinConfidence: alertMin,
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if cfg.Prediction.MinPoints < 2 {
		return nil, fmt.Errorf("PREDICTION_MIN_POINTS must be at least 2, got %d", cfg.Prediction.MinPoints)
	}
	if cfg.Prediction.HorizonDays < 1 || cfg.Prediction.HorizonDays > 30 {
		return nil, fmt.Errorf("PREDICTION_HORIZON_DAYS must be within 1..30, got %d", cfg.Prediction.HorizonDays)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getIntEnv(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	return strconv.Atoi(value)
}

// getIntRangeEnv parses a list such as "1-10,42,77" into individual ids.
// An unset variable yields the inclusive range [lo, hi].
func getIntRangeEnv(key string, lo, hi int) ([]int, error) {
	value := os.Getenv(key)
	if value == "" {
		ids := make([]int, 0, hi-lo+1)
		for i := lo; i <= hi; i++ {
			ids = append(ids, i)
		}
		return ids, nil
	}

	var ids []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if from, to, ok := strings.Cut(part, "-"); ok {
			a, err := strconv.Atoi(strings.TrimSpace(from))
			if err != nil {
				return nil, err
			}
			b, err := strconv.Atoi(strings.TrimSpace(to))
			if err != nil {
				return nil, err
			}
			if b < a {
				return nil, fmt.Errorf("descending range %q", part)
			}
			for i := a; i <= b; i++ {
				ids = append(ids, i)
			}
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, n)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no product ids in %q", value)
	}
	return ids, nil
}
