package store

import (
	"context"
	"time"

	"agri-price-api/apperr"
	"agri-price-api/models"
	"agri-price-api/prediction"

	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"
)

var _ prediction.Store = (*Store)(nil)

// Observations returns verified prices for a pair, oldest first. Entries
// quoted in a unit other than the crop's own are left out of the series.
func (s *Store) Observations(ctx context.Context, pair prediction.Pair, from, to time.Time) ([]prediction.Observation, error) {
	var rows []struct {
		ID        uint
		EntryDate time.Time
		Price     decimal.Decimal
		CreatedAt time.Time
	}
	err := s.db.WithContext(ctx).Model(&models.PriceEntry{}).
		Select("price_entries.id, price_entries.entry_date, price_entries.price, price_entries.created_at").
		Joins("JOIN crops ON crops.id = price_entries.crop_id AND crops.unit = price_entries.unit").
		Where("price_entries.crop_id = ? AND price_entries.region_id = ? AND price_entries.is_verified = ?", pair.CropID, pair.RegionID, true).
		Where("price_entries.entry_date >= ? AND price_entries.entry_date <= ?", models.Day(from), models.Day(to)).
		Order("price_entries.entry_date ASC").Order("price_entries.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]prediction.Observation, len(rows))
	for i, r := range rows {
		out[i] = prediction.Observation{
			ID:        r.ID,
			Date:      r.EntryDate,
			Price:     r.Price.InexactFloat64(),
			CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

func (s *Store) ActivePairs(ctx context.Context, from, to time.Time) ([]prediction.Pair, error) {
	var pairs []prediction.Pair
	err := s.db.WithContext(ctx).Model(&models.PriceEntry{}).
		Distinct("crop_id", "region_id").
		Where("is_verified = ?", true).
		Where("entry_date >= ? AND entry_date <= ?", models.Day(from), models.Day(to)).
		Order("crop_id").Order("region_id").
		Scan(&pairs).Error
	return pairs, err
}

// SavePrediction upserts on (crop_id, region_id, prediction_date).
func (s *Store) SavePrediction(ctx context.Context, p *models.Prediction) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "crop_id"}, {Name: "region_id"}, {Name: "prediction_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"current_price", "predicted_price", "confidence_score", "trend", "recommendation",
			"horizon_days", "sample_size", "clamped", "model_version", "updated_at",
		}),
	}).Create(p).Error
}

type PredictionFilter struct {
	CropID   uint
	RegionID uint
	// LatestOnly keeps the newest prediction per (crop, region).
	LatestOnly bool
}

func (s *Store) ListPredictions(ctx context.Context, f PredictionFilter, p Page) ([]models.Prediction, PageMeta, error) {
	q := s.db.Model(&models.Prediction{})
	if f.CropID != 0 {
		q = q.Where("crop_id = ?", f.CropID)
	}
	if f.RegionID != 0 {
		q = q.Where("region_id = ?", f.RegionID)
	}
	if f.LatestOnly {
		q = q.Where(`prediction_date = (SELECT MAX(p2.prediction_date) FROM predictions p2
			WHERE p2.crop_id = predictions.crop_id AND p2.region_id = predictions.region_id)`)
	}
	q = q.Order("prediction_date DESC").Order("created_at DESC").Order("id DESC")

	var rows []models.Prediction
	meta, err := paginate(ctx, q, p, &rows, "Crop", "Region")
	if err != nil {
		return nil, PageMeta{}, apperr.Internal("failed to list predictions", err)
	}
	return rows, meta, nil
}
