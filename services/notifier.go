package services

import (
	"context"

	"agri-price-api/models"

	"go.uber.org/zap"
)

// SubmissionNotifier announces unverified price entries on the submissions
// channel so admin dashboards can refresh their review queue.
type SubmissionNotifier struct {
	cache  *CacheService
	logger *zap.Logger
}

func NewSubmissionNotifier(cache *CacheService, logger *zap.Logger) *SubmissionNotifier {
	return &SubmissionNotifier{cache: cache, logger: logger}
}

type submissionEvent struct {
	Event     string             `json:"event"`
	EntryID   uint               `json:"entry_id"`
	CropID    uint               `json:"crop_id"`
	RegionID  uint               `json:"region_id"`
	MarketID  *uint              `json:"market_id,omitempty"`
	Price     string             `json:"price"`
	EntryDate string             `json:"entry_date"`
	Source    models.PriceSource `json:"source"`
}

func (n *SubmissionNotifier) PriceSubmitted(ctx context.Context, e *models.PriceEntry) {
	ev := submissionEvent{
		Event:     "submitted",
		EntryID:   e.ID,
		CropID:    e.CropID,
		RegionID:  e.RegionID,
		MarketID:  e.MarketID,
		Price:     e.Price.StringFixed(2),
		EntryDate: e.EntryDate.Format("2006-01-02"),
		Source:    e.Source,
	}
	if err := n.cache.Publish(ctx, ChannelSubmissions, ev); err != nil {
		n.logger.Debug("submission event not published", zap.Uint("entry_id", e.ID), zap.Error(err))
	}
}
