package prediction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agri-price-api/config"
	"agri-price-api/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store is the persistence the engine needs. Observations must return only
// verified entries.
type Store interface {
	Observations(ctx context.Context, pair Pair, from, to time.Time) ([]Observation, error)
	ActivePairs(ctx context.Context, from, to time.Time) ([]Pair, error)
	SavePrediction(ctx context.Context, p *models.Prediction) error
}

type Engine struct {
	store  Store
	cfg    config.PredictionConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewEngine(store Store, cfg config.PredictionConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// WithClock replaces the engine clock; used by tests and backfills.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) DefaultHorizon() int { return e.cfg.HorizonDays }

// Window returns the inclusive [from, to] entry-date range the engine reads.
func (e *Engine) Window() (time.Time, time.Time) {
	to := models.Day(e.now())
	return to.AddDate(0, 0, -(e.cfg.WindowDays - 1)), to
}

// Predict computes and stores the forecast for one pair. A horizon of 0
// selects the configured default.
func (e *Engine) Predict(ctx context.Context, pair Pair, horizon int) (*Forecast, *models.Prediction, error) {
	if horizon == 0 {
		horizon = e.cfg.HorizonDays
	}
	from, to := e.Window()
	obs, err := e.store.Observations(ctx, pair, from, to)
	if err != nil {
		return nil, nil, fmt.Errorf("load observations: %w", err)
	}

	f, err := Compute(obs, horizon, e.cfg.MinPoints)
	if err != nil {
		return nil, nil, err
	}
	f.Pair = pair

	row := &models.Prediction{
		CropID:          pair.CropID,
		RegionID:        pair.RegionID,
		PredictionDate:  to,
		CurrentPrice:    decimal.NewFromFloat(f.CurrentPrice).Round(2),
		PredictedPrice:  decimal.NewFromFloat(f.PredictedPrice).Round(2),
		ConfidenceScore: f.Confidence,
		Trend:           f.Trend,
		Recommendation:  f.Recommendation,
		HorizonDays:     f.HorizonDays,
		SampleSize:      f.SampleSize,
		Clamped:         f.Clamped,
		ModelVersion:    e.cfg.ModelVersion,
	}
	if err := e.store.SavePrediction(ctx, row); err != nil {
		return nil, nil, fmt.Errorf("save prediction: %w", err)
	}
	return &f, row, nil
}

type Summary struct {
	Pairs     int `json:"pairs"`
	Generated int `json:"generated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// GenerateAll refreshes every pair with verified data in the window.
func (e *Engine) GenerateAll(ctx context.Context) (Summary, error) {
	from, to := e.Window()
	pairs, err := e.store.ActivePairs(ctx, from, to)
	if err != nil {
		return Summary{}, fmt.Errorf("list pairs: %w", err)
	}
	return e.GenerateFor(ctx, pairs), nil
}

// GenerateFor refreshes the given pairs. Pairs without enough data are
// skipped; other failures are logged and counted.
func (e *Engine) GenerateFor(ctx context.Context, pairs []Pair) Summary {
	s := Summary{Pairs: len(pairs)}
	for _, p := range pairs {
		if ctx.Err() != nil {
			s.Failed += len(pairs) - s.Generated - s.Skipped - s.Failed
			break
		}
		_, _, err := e.Predict(ctx, p, 0)
		switch {
		case err == nil:
			s.Generated++
		case errors.Is(err, ErrInsufficientData):
			s.Skipped++
		default:
			s.Failed++
			e.logger.Warn("prediction failed",
				zap.Uint("crop_id", p.CropID),
				zap.Uint("region_id", p.RegionID),
				zap.Error(err))
		}
	}
	e.logger.Info("predictions generated",
		zap.Int("pairs", s.Pairs),
		zap.Int("generated", s.Generated),
		zap.Int("skipped", s.Skipped),
		zap.Int("failed", s.Failed))
	return s
}
