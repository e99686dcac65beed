// Package pgstore is the raw-SQL pgx repository used by the worker binaries.
// It reads and writes the same tables the gorm models define.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agri-price-api/models"
	"agri-price-api/prediction"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var ErrUnknownName = errors.New("unknown crop or region")

type Store struct {
	pool *pgxpool.Pool
}

var _ prediction.Store = (*Store)(nil)

// Open connects and pings the database.
func Open(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("db pool init: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return pool, nil
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Observations(ctx context.Context, pair prediction.Pair, from, to time.Time) ([]prediction.Observation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pe.id, pe.entry_date, pe.price::float8, pe.created_at
		FROM price_entries pe
		JOIN crops c ON c.id = pe.crop_id AND c.unit = pe.unit
		WHERE pe.crop_id = $1 AND pe.region_id = $2 AND pe.is_verified
		  AND pe.entry_date BETWEEN $3 AND $4
		ORDER BY pe.entry_date, pe.id
	`, pair.CropID, pair.RegionID, models.Day(from), models.Day(to))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (prediction.Observation, error) {
		var o prediction.Observation
		var id int64
		err := row.Scan(&id, &o.Date, &o.Price, &o.CreatedAt)
		o.ID = uint(id)
		return o, err
	})
}

func (s *Store) ActivePairs(ctx context.Context, from, to time.Time) ([]prediction.Pair, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT crop_id, region_id
		FROM price_entries
		WHERE is_verified AND entry_date BETWEEN $1 AND $2
		ORDER BY crop_id, region_id
	`, models.Day(from), models.Day(to))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (prediction.Pair, error) {
		var crop, region int64
		err := row.Scan(&crop, &region)
		return prediction.Pair{CropID: uint(crop), RegionID: uint(region)}, err
	})
}

func (s *Store) SavePrediction(ctx context.Context, p *models.Prediction) error {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO predictions (crop_id, region_id, prediction_date, current_price, predicted_price,
			confidence_score, trend, recommendation, horizon_days, sample_size, clamped, model_version,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		ON CONFLICT (crop_id, region_id, prediction_date) DO UPDATE SET
			current_price = EXCLUDED.current_price,
			predicted_price = EXCLUDED.predicted_price,
			confidence_score = EXCLUDED.confidence_score,
			trend = EXCLUDED.trend,
			recommendation = EXCLUDED.recommendation,
			horizon_days = EXCLUDED.horizon_days,
			sample_size = EXCLUDED.sample_size,
			clamped = EXCLUDED.clamped,
			model_version = EXCLUDED.model_version,
			updated_at = now()
		RETURNING id
	`, p.CropID, p.RegionID, models.Day(p.PredictionDate), p.CurrentPrice.String(), p.PredictedPrice.String(),
		p.ConfidenceScore, string(p.Trend), p.Recommendation, p.HorizonDays, p.SampleSize, p.Clamped, p.ModelVersion,
	).Scan(&id)
	if err != nil {
		return err
	}
	p.ID = uint(id)
	return nil
}

// Report is one farmer price report received outside the HTTP API.
type Report struct {
	ReporterPhone string
	Crop          string
	Region        string
	Market        string
	Price         decimal.Decimal
	Unit          string
	Date          time.Time
}

// InsertReport resolves the report's names and stores it as an unverified
// farmer entry. It returns false when the same entry already exists.
func (s *Store) InsertReport(ctx context.Context, r Report) (uint, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback(ctx)

	var cropID, regionID int64
	var unit string
	err = tx.QueryRow(ctx, `SELECT id, unit FROM crops WHERE LOWER(name) = $1 AND active`,
		strings.ToLower(strings.TrimSpace(r.Crop))).Scan(&cropID, &unit)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("%w: crop %q", ErrUnknownName, r.Crop)
	}
	if err != nil {
		return 0, false, err
	}
	err = tx.QueryRow(ctx, `SELECT id FROM regions WHERE LOWER(name) = $1 AND active`,
		strings.ToLower(strings.TrimSpace(r.Region))).Scan(&regionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("%w: region %q", ErrUnknownName, r.Region)
	}
	if err != nil {
		return 0, false, err
	}

	var marketID *int64
	if name := strings.TrimSpace(r.Market); name != "" {
		var id int64
		err = tx.QueryRow(ctx, `SELECT id FROM markets WHERE LOWER(name) = $1 AND region_id = $2 AND active`,
			strings.ToLower(name), regionID).Scan(&id)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return 0, false, err
		}
		if err == nil {
			marketID = &id
		}
	}

	var submittedBy *int64
	if r.ReporterPhone != "" {
		var id int64
		err = tx.QueryRow(ctx, `SELECT id FROM users WHERE phone = $1 ORDER BY id LIMIT 1`, r.ReporterPhone).Scan(&id)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return 0, false, err
		}
		if err == nil {
			submittedBy = &id
		}
	}

	if r.Unit != "" {
		unit = strings.ToLower(r.Unit)
	}

	// NULL market_id never conflicts in the unique index, hence NOT EXISTS.
	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO price_entries (crop_id, region_id, market_id, entry_date, source, price, unit,
			is_verified, submitted_by, notes, created_at, updated_at)
		SELECT $1::bigint, $2::bigint, $3::bigint, $4::date, $5::varchar, $6::numeric, $7::varchar,
			false, $8::bigint, $9::text, now(), now()
		WHERE NOT EXISTS (
			SELECT 1 FROM price_entries
			WHERE crop_id = $1::bigint AND region_id = $2::bigint AND market_id IS NOT DISTINCT FROM $3::bigint
			  AND entry_date = $4::date AND source = $5::varchar
		)
		RETURNING id
	`, cropID, regionID, marketID, models.Day(r.Date), string(models.SourceFarmer), r.Price.String(), unit,
		submittedBy, "reported via mqtt").Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, false, err
	}
	return uint(id), true, nil
}

// Alert is a directional prediction joined with its catalog names.
type Alert struct {
	PredictionID   uint
	CropID         uint
	RegionID       uint
	Crop           string
	Region         string
	Trend          models.Trend
	CurrentPrice   float64
	PredictedPrice float64
	Confidence     float64
	HorizonDays    int
	Recommendation string
	PredictionDate time.Time
}

// RisingOrFalling returns non-stable predictions updated since the given
// time with at least minConfidence.
func (s *Store) RisingOrFalling(ctx context.Context, since time.Time, minConfidence float64) ([]Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.crop_id, p.region_id, c.name, r.name, p.trend,
			p.current_price::float8, p.predicted_price::float8, p.confidence_score,
			p.horizon_days, COALESCE(p.recommendation, ''), p.prediction_date
		FROM predictions p
		JOIN crops c ON c.id = p.crop_id
		JOIN regions r ON r.id = p.region_id
		WHERE p.updated_at >= $1 AND p.trend <> $2 AND p.confidence_score >= $3
		ORDER BY p.id
	`, since, string(models.TrendStable), minConfidence)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Alert, error) {
		var a Alert
		var id, crop, region int64
		var trend string
		err := row.Scan(&id, &crop, &region, &a.Crop, &a.Region, &trend,
			&a.CurrentPrice, &a.PredictedPrice, &a.Confidence,
			&a.HorizonDays, &a.Recommendation, &a.PredictionDate)
		a.PredictionID, a.CropID, a.RegionID = uint(id), uint(crop), uint(region)
		a.Trend = models.Trend(trend)
		return a, err
	})
}

// Subscribers returns the active phone numbers subscribed to a pair.
func (s *Store) Subscribers(ctx context.Context, cropID, regionID uint) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT phone FROM sms_subscriptions
		WHERE crop_id = $1 AND region_id = $2 AND active
		ORDER BY phone
	`, cropID, regionID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// LogSMS appends delivery rows, one per recipient, in a single batch.
func (s *Store) LogSMS(ctx context.Context, logs []models.SMSLog) error {
	if len(logs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range logs {
		batch.Queue(`
			INSERT INTO sms_logs (recipient, message, status, provider_ref, error, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
		`, l.Recipient, l.Message, l.Status, l.ProviderRef, l.Error)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}
