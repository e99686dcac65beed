package store

import (
	"context"
	"time"

	"agri-price-api/apperr"
	"agri-price-api/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PriceFilter struct {
	CropID            uint
	RegionID          uint
	MarketID          uint
	Source            models.PriceSource
	From              *time.Time
	To                *time.Time
	IncludeUnverified bool
}

func (s *Store) ListPrices(ctx context.Context, f PriceFilter, p Page) ([]models.PriceEntry, PageMeta, error) {
	q := s.db.Model(&models.PriceEntry{})
	if !f.IncludeUnverified {
		q = q.Where("is_verified = ?", true)
	}
	if f.CropID != 0 {
		q = q.Where("crop_id = ?", f.CropID)
	}
	if f.RegionID != 0 {
		q = q.Where("region_id = ?", f.RegionID)
	}
	if f.MarketID != 0 {
		q = q.Where("market_id = ?", f.MarketID)
	}
	if f.Source != "" {
		q = q.Where("source = ?", f.Source)
	}
	if f.From != nil {
		q = q.Where("entry_date >= ?", models.Day(*f.From))
	}
	if f.To != nil {
		q = q.Where("entry_date <= ?", models.Day(*f.To))
	}
	q = q.Order("entry_date DESC").Order("id DESC")

	var entries []models.PriceEntry
	meta, err := paginate(ctx, q, p, &entries, "Crop", "Region", "Market")
	if err != nil {
		return nil, PageMeta{}, apperr.Internal("failed to list prices", err)
	}
	return entries, meta, nil
}

func (s *Store) ListPendingPrices(ctx context.Context, p Page) ([]models.PriceEntry, PageMeta, error) {
	q := s.db.Model(&models.PriceEntry{}).
		Where("is_verified = ?", false).
		Order("created_at ASC").Order("id ASC")

	var entries []models.PriceEntry
	meta, err := paginate(ctx, q, p, &entries, "Crop", "Region", "Market")
	if err != nil {
		return nil, PageMeta{}, apperr.Internal("failed to list pending prices", err)
	}
	return entries, meta, nil
}

func (s *Store) GetPrice(ctx context.Context, id uint) (*models.PriceEntry, error) {
	var entry models.PriceEntry
	err := s.db.WithContext(ctx).Preload("Crop").Preload("Region").Preload("Market").First(&entry, id).Error
	if err != nil {
		return nil, notFound(err, "price entry %d not found", id)
	}
	return &entry, nil
}

// UpsertExternal writes external-feed entries keyed by their natural key.
// A repeated key overwrites price and unit.
func UpsertExternal(tx *gorm.DB, entries []models.PriceEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "crop_id"}, {Name: "region_id"}, {Name: "market_id"}, {Name: "entry_date"}, {Name: "source"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"price", "unit", "is_verified", "updated_at"}),
	}).CreateInBatches(&entries, 200).Error
}
