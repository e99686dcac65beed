// Package pricing implements the farmer submission and admin verification
// workflow for price entries.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agri-price-api/apperr"
	"agri-price-api/models"
	"agri-price-api/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Actor is the authenticated caller of a workflow operation.
type Actor struct {
	UserID uint
	Role   string
}

func (a Actor) IsAdmin() bool { return a.Role == models.RoleAdmin }

type SubmitInput struct {
	CropID    uint            `json:"crop_id" binding:"required"`
	RegionID  uint            `json:"region_id" binding:"required"`
	MarketID  *uint           `json:"market_id"`
	Price     decimal.Decimal `json:"price"`
	Unit      string          `json:"unit"`
	EntryDate string          `json:"entry_date"`
	Notes     string          `json:"notes"`
}

// Notifier is told about new submissions waiting for review.
type Notifier interface {
	PriceSubmitted(ctx context.Context, entry *models.PriceEntry)
}

type Service struct {
	db       *gorm.DB
	store    *store.Store
	logger   *zap.Logger
	notifier Notifier
	now      func() time.Time
}

func NewService(st *store.Store, logger *zap.Logger, notifier Notifier) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: st.DB(), store: st, logger: logger, notifier: notifier, now: time.Now}
}

// Submit records a price observation. Farmer entries wait for review; admin
// entries are verified on creation.
func (s *Service) Submit(ctx context.Context, actor Actor, in SubmitInput) (*models.PriceEntry, error) {
	if !in.Price.IsPositive() {
		return nil, apperr.Validation("price must be greater than zero")
	}
	today := models.Day(s.now())
	entryDate := today
	if strings.TrimSpace(in.EntryDate) != "" {
		d, err := time.Parse("2006-01-02", strings.TrimSpace(in.EntryDate))
		if err != nil {
			return nil, apperr.Validation("entry_date must be YYYY-MM-DD")
		}
		entryDate = models.Day(d)
	}
	if entryDate.After(today) {
		return nil, apperr.Validation("entry_date cannot be in the future")
	}

	source := models.SourceFarmer
	if actor.IsAdmin() {
		source = models.SourceAdmin
	}
	entry := models.PriceEntry{
		CropID:      in.CropID,
		RegionID:    in.RegionID,
		MarketID:    in.MarketID,
		EntryDate:   entryDate,
		Source:      source,
		Price:       in.Price.Round(2),
		Unit:        strings.ToLower(strings.TrimSpace(in.Unit)),
		IsVerified:  source.Trusted(),
		SubmittedBy: &actor.UserID,
		Notes:       strings.TrimSpace(in.Notes),
	}
	if entry.IsVerified {
		now := s.now().UTC()
		entry.VerifiedBy = &actor.UserID
		entry.VerifiedAt = &now
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.checkRefs(tx, &entry); err != nil {
			return err
		}
		if entry.MarketID == nil {
			// NULL market ids never collide in the unique index.
			var n int64
			if err := tx.Model(&models.PriceEntry{}).
				Where("crop_id = ? AND region_id = ? AND market_id IS NULL AND entry_date = ? AND source = ?",
					entry.CropID, entry.RegionID, entry.EntryDate, entry.Source).
				Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return errDuplicate
			}
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		if errors.Is(err, errDuplicate) || store.IsDuplicate(err) {
			return nil, apperr.Conflict("a %s price for this crop, region and market on %s already exists",
				source, entryDate.Format("2006-01-02"))
		}
		if apperr.KindOf(err) != apperr.KindInternal {
			return nil, err
		}
		return nil, apperr.Internal("failed to save price entry", err)
	}

	s.logger.Info("price submitted",
		zap.Uint("id", entry.ID),
		zap.String("source", string(entry.Source)),
		zap.Bool("verified", entry.IsVerified))
	if !entry.IsVerified && s.notifier != nil {
		s.notifier.PriceSubmitted(ctx, &entry)
	}
	return &entry, nil
}

var errDuplicate = errors.New("duplicate price entry")

func (s *Service) checkRefs(tx *gorm.DB, e *models.PriceEntry) error {
	var crop models.Crop
	if err := tx.Where("id = ? AND active = ?", e.CropID, true).First(&crop).Error; err != nil {
		return refErr(err, "crop %d does not exist or is inactive", e.CropID)
	}
	if e.Unit == "" {
		e.Unit = crop.Unit
	}
	var region models.Region
	if err := tx.Where("id = ? AND active = ?", e.RegionID, true).First(&region).Error; err != nil {
		return refErr(err, "region %d does not exist or is inactive", e.RegionID)
	}
	if e.MarketID != nil {
		var market models.Market
		if err := tx.Where("id = ? AND active = ?", *e.MarketID, true).First(&market).Error; err != nil {
			return refErr(err, "market %d does not exist or is inactive", *e.MarketID)
		}
		if market.RegionID != e.RegionID {
			return apperr.Validation("market %d is not in region %d", market.ID, e.RegionID)
		}
	}
	return nil
}

func refErr(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Validation(format, args...)
	}
	return err
}

// Verify marks an entry verified. Verifying an already verified entry is a
// no-op that returns it unchanged.
func (s *Service) Verify(ctx context.Context, id, adminID uint) (*models.PriceEntry, error) {
	now := s.now().UTC()
	res := s.db.WithContext(ctx).Model(&models.PriceEntry{}).
		Where("id = ? AND is_verified = ?", id, false).
		Updates(map[string]any{"is_verified": true, "verified_by": adminID, "verified_at": now})
	if res.Error != nil {
		return nil, apperr.Internal("failed to verify price entry", res.Error)
	}
	entry, err := s.store.GetPrice(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected > 0 {
		s.logger.Info("price verified", zap.Uint("id", id), zap.Uint("admin_id", adminID))
	}
	return entry, nil
}

// Reject deletes an unverified entry. Unknown and already verified entries
// are both NotFound.
func (s *Service) Reject(ctx context.Context, id, adminID uint) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND is_verified = ?", id, false).
		Delete(&models.PriceEntry{})
	if res.Error != nil {
		return apperr.Internal("failed to reject price entry", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("pending price entry %d not found", id)
	}
	s.logger.Info("price rejected", zap.Uint("id", id), zap.Uint("admin_id", adminID))
	return nil
}

func (s *Service) ListPending(ctx context.Context, p store.Page) ([]models.PriceEntry, store.PageMeta, error) {
	return s.store.ListPendingPrices(ctx, p)
}

// List returns verified entries. Admins may ask for unverified ones too.
func (s *Service) List(ctx context.Context, actor Actor, f store.PriceFilter, p store.Page) ([]models.PriceEntry, store.PageMeta, error) {
	if f.IncludeUnverified && !actor.IsAdmin() {
		f.IncludeUnverified = false
	}
	entries, meta, err := s.store.ListPrices(ctx, f, p)
	if err != nil {
		return nil, store.PageMeta{}, fmt.Errorf("list prices: %w", err)
	}
	return entries, meta, nil
}
