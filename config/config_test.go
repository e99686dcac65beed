package config

import (
	"os"
	"testing"
)

func TestDatabaseConnectionStrings(t *testing.T) {
	db := DatabaseConfig{Host: "db.example.com", Port: 5433, User: "agriprice", Password: "p@ss", Name: "prices", SSLMode: "require"}

	wantDSN := "host=db.example.com port=5433 user=agriprice password=p@ss dbname=prices sslmode=require"
	if got := db.GetDSN(); got != wantDSN {
		t.Errorf("GetDSN() = %q, want %q", got, wantDSN)
	}

	db = DatabaseConfig{Host: "pg", Port: 5432, User: "u", Password: "p", Name: "agri", SSLMode: "disable"}
	if got, want := db.GetURL(), "postgres://u:p@pg:5432/agri?sslmode=disable"; got != want {
		t.Errorf("GetURL() = %q, want %q", got, want)
	}
}

func TestEnvHelpers(t *testing.T) {
	const key = "AGRIPRICE_TEST_VALUE"
	tests := []struct {
		name    string
		value   *string
		wantStr string
		wantInt int
		wantErr bool
	}{
		{name: "unset", wantStr: "fallback", wantInt: 42},
		{name: "number", value: strPtr("7"), wantStr: "7", wantInt: 7},
		{name: "padded number", value: strPtr(" 12 "), wantStr: " 12 ", wantInt: 12},
		{name: "word", value: strPtr("seven"), wantStr: "seven", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Unsetenv(key)
			if tt.value != nil {
				t.Setenv(key, *tt.value)
			}
			if got := getEnv(key, "fallback"); got != tt.wantStr {
				t.Errorf("getEnv() = %q, want %q", got, tt.wantStr)
			}
			got, err := getIntEnv(key, 42)
			if tt.wantErr {
				if err == nil {
					t.Errorf("getIntEnv() = %d, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("getIntEnv() error: %v", err)
			}
			if got != tt.wantInt {
				t.Errorf("getIntEnv() = %d, want %d", got, tt.wantInt)
			}
		})
	}
}

func strPtr(s string) *string { return &s }

func TestGetIntRangeEnv(t *testing.T) {
	t.Run("default range", func(t *testing.T) {
		os.Unsetenv("TEST_RANGE_VAR")
		got, err := getIntRangeEnv("TEST_RANGE_VAR", 1, 5)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 5 || got[0] != 1 || got[4] != 5 {
			t.Errorf("getIntRangeEnv() = %v, want [1 2 3 4 5]", got)
		}
	})

	t.Run("mixed list", func(t *testing.T) {
		t.Setenv("TEST_RANGE_VAR", "1-3, 10,12")
		got, err := getIntRangeEnv("TEST_RANGE_VAR", 1, 5)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []int{1, 2, 3, 10, 12}
		if len(got) != len(want) {
			t.Fatalf("getIntRangeEnv() = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("getIntRangeEnv()[%d] = %d, want %d", i, got[i], want[i])
			}
		}
	})

	t.Run("descending range rejected", func(t *testing.T) {
		t.Setenv("TEST_RANGE_VAR", "9-3")
		if _, err := getIntRangeEnv("TEST_RANGE_VAR", 1, 5); err == nil {
			t.Error("expected error for descending range")
		}
	})
}

func clearEnv() {
	for _, key := range []string{
		"SERVER_PORT", "DB_DRIVER", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
		"JWT_ACCESS_SECRET", "JWT_ACCESS_EXPIRY_MIN", "JWT_REFRESH_SECRET", "JWT_REFRESH_EXPIRY_HOURS",
		"REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD", "REDIS_DB", "CORS_ALLOWED_ORIGINS",
		"KAMIS_PRODUCT_IDS", "SYNC_INTERVAL_HOURS", "SYNC_STALE_AFTER_MIN",
		"PREDICTION_MIN_POINTS", "PREDICTION_HORIZON_DAYS", "TEXTBEE_API_KEY", "TEXTBEE_DEVICE_ID",
		"PREDICT_INTERVAL_MIN", "ALERT_INTERVAL_MIN", "ALERT_MIN_CONFIDENCE",
	} {
		os.Unsetenv(key)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Host != "localhost" {
		t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, "localhost")
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %q, want postgres", cfg.Database.Driver)
	}
	if cfg.JWT.AccessExpiryMinutes != 15 {
		t.Errorf("JWT.AccessExpiryMinutes = %d, want 15", cfg.JWT.AccessExpiryMinutes)
	}
	if cfg.JWT.AccessSecret == cfg.JWT.RefreshSecret {
		t.Error("access and refresh secrets should differ by default")
	}
	if cfg.Redis.Port != 6379 {
		t.Errorf("Redis.Port = %d, want 6379", cfg.Redis.Port)
	}
	if cfg.CORS.AllowedOrigins != "*" {
		t.Errorf("CORS.AllowedOrigins = %q, want %q", cfg.CORS.AllowedOrigins, "*")
	}
	if len(cfg.Kamis.ProductIDs) != 273 {
		t.Errorf("len(Kamis.ProductIDs) = %d, want 273", len(cfg.Kamis.ProductIDs))
	}
	if cfg.Sync.StaleAfter().Minutes() != 120 {
		t.Errorf("Sync.StaleAfter() = %v, want 2h", cfg.Sync.StaleAfter())
	}
	if cfg.Prediction.MinPoints != 3 || cfg.Prediction.WindowDays != 30 {
		t.Errorf("Prediction = %+v, want min 3 window 30", cfg.Prediction)
	}
	if cfg.SMS.Enabled() {
		t.Error("SMS should be disabled without credentials")
	}
	if cfg.Worker.PredictInterval().Minutes() != 60 || cfg.Worker.AlertMinConfidence != 0.3 {
		t.Errorf("Worker = %+v, want 60m interval and 0.3 confidence", cfg.Worker)
	}
}

func TestLoadConfigCustom(t *testing.T) {
	clearEnv()
	t.Setenv("SERVER_PORT", "3000")
	t.Setenv("DB_HOST", "db.prod")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("JWT_REFRESH_EXPIRY_HOURS", "48")
	t.Setenv("KAMIS_PRODUCT_IDS", "1,2,3")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Database.Host != "db.prod" {
		t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, "db.prod")
	}
	if cfg.Database.Port != 5433 {
		t.Errorf("Database.Port = %d, want 5433", cfg.Database.Port)
	}
	if cfg.JWT.RefreshExpiryHours != 48 {
		t.Errorf("JWT.RefreshExpiryHours = %d, want 48", cfg.JWT.RefreshExpiryHours)
	}
	if len(cfg.Kamis.ProductIDs) != 3 {
		t.Errorf("Kamis.ProductIDs = %v, want 3 ids", cfg.Kamis.ProductIDs)
	}
}

func TestLoadConfigInvalidPort(t *testing.T) {
	clearEnv()
	t.Setenv("SERVER_PORT", "invalid")

	_, err := LoadConfig()
	if err == nil {
		t.Error("expected error for invalid SERVER_PORT")
	}
}

func TestLoadConfigRejectsBadPredictionSettings(t *testing.T) {
	clearEnv()
	t.Setenv("PREDICTION_MIN_POINTS", "1")
	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for PREDICTION_MIN_POINTS=1")
	}

	clearEnv()
	t.Setenv("PREDICTION_HORIZON_DAYS", "45")
	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for PREDICTION_HORIZON_DAYS=45")
	}
}
