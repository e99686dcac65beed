package store

import (
	"context"
	"errors"
	"strings"

	"agri-price-api/apperr"
	"agri-price-api/models"

	"gorm.io/gorm"
)

type CropInput struct {
	Name     *string `json:"name"`
	Category *string `json:"category"`
	Unit     *string `json:"unit"`
	Active   *bool   `json:"active"`
}

type RegionInput struct {
	Name     *string `json:"name"`
	Grouping *string `json:"grouping"`
	Active   *bool   `json:"active"`
}

func (s *Store) ListCrops(ctx context.Context, includeInactive bool) ([]models.Crop, error) {
	q := s.db.WithContext(ctx).Order("name ASC")
	if !includeInactive {
		q = q.Where("active = ?", true)
	}
	var crops []models.Crop
	if err := q.Find(&crops).Error; err != nil {
		return nil, apperr.Internal("failed to list crops", err)
	}
	return crops, nil
}

func (s *Store) GetCrop(ctx context.Context, id uint) (*models.Crop, error) {
	var crop models.Crop
	if err := s.db.WithContext(ctx).First(&crop, id).Error; err != nil {
		return nil, notFound(err, "crop %d not found", id)
	}
	return &crop, nil
}

func (s *Store) CreateCrop(ctx context.Context, in CropInput) (*models.Crop, error) {
	crop := models.Crop{Unit: "kg", Active: true}
	if err := applyCrop(&crop, in); err != nil {
		return nil, err
	}
	if crop.Name == "" {
		return nil, apperr.Validation("crop name is required")
	}
	if err := s.db.WithContext(ctx).Create(&crop).Error; err != nil {
		if IsDuplicate(err) {
			return nil, apperr.Conflict("crop %q already exists", crop.Name)
		}
		return nil, apperr.Internal("failed to create crop", err)
	}
	return &crop, nil
}

func (s *Store) UpdateCrop(ctx context.Context, id uint, in CropInput) (*models.Crop, error) {
	crop, err := s.GetCrop(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := applyCrop(crop, in); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(crop).Error; err != nil {
		if IsDuplicate(err) {
			return nil, apperr.Conflict("crop %q already exists", crop.Name)
		}
		return nil, apperr.Internal("failed to update crop", err)
	}
	return crop, nil
}

// DeactivateCrop soft-deletes a crop. Its price history stays.
func (s *Store) DeactivateCrop(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.Crop{}).Where("id = ?", id).Update("active", false)
	if res.Error != nil {
		return apperr.Internal("failed to deactivate crop", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("crop %d not found", id)
	}
	return nil
}

func applyCrop(c *models.Crop, in CropInput) error {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return apperr.Validation("crop name cannot be empty")
		}
		c.Name = name
	}
	if in.Category != nil {
		c.Category = strings.TrimSpace(*in.Category)
	}
	if in.Unit != nil {
		unit := strings.ToLower(strings.TrimSpace(*in.Unit))
		if unit == "" {
			return apperr.Validation("crop unit cannot be empty")
		}
		c.Unit = unit
	}
	if in.Active != nil {
		c.Active = *in.Active
	}
	return nil
}

func (s *Store) ListRegions(ctx context.Context, includeInactive bool) ([]models.Region, error) {
	q := s.db.WithContext(ctx).Order("name ASC")
	if !includeInactive {
		q = q.Where("active = ?", true)
	}
	var regions []models.Region
	if err := q.Find(&regions).Error; err != nil {
		return nil, apperr.Internal("failed to list regions", err)
	}
	return regions, nil
}

func (s *Store) GetRegion(ctx context.Context, id uint) (*models.Region, error) {
	var region models.Region
	if err := s.db.WithContext(ctx).First(&region, id).Error; err != nil {
		return nil, notFound(err, "region %d not found", id)
	}
	return &region, nil
}

func (s *Store) CreateRegion(ctx context.Context, in RegionInput) (*models.Region, error) {
	region := models.Region{Active: true}
	if err := applyRegion(&region, in); err != nil {
		return nil, err
	}
	if region.Name == "" {
		return nil, apperr.Validation("region name is required")
	}
	if err := s.db.WithContext(ctx).Create(&region).Error; err != nil {
		if IsDuplicate(err) {
			return nil, apperr.Conflict("region %q already exists", region.Name)
		}
		return nil, apperr.Internal("failed to create region", err)
	}
	return &region, nil
}

func (s *Store) UpdateRegion(ctx context.Context, id uint, in RegionInput) (*models.Region, error) {
	region, err := s.GetRegion(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := applyRegion(region, in); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(region).Error; err != nil {
		if IsDuplicate(err) {
			return nil, apperr.Conflict("region %q already exists", region.Name)
		}
		return nil, apperr.Internal("failed to update region", err)
	}
	return region, nil
}

func (s *Store) DeactivateRegion(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.Region{}).Where("id = ?", id).Update("active", false)
	if res.Error != nil {
		return apperr.Internal("failed to deactivate region", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("region %d not found", id)
	}
	return nil
}

func applyRegion(r *models.Region, in RegionInput) error {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return apperr.Validation("region name cannot be empty")
		}
		r.Name = name
	}
	if in.Grouping != nil {
		r.Grouping = strings.TrimSpace(*in.Grouping)
	}
	if in.Active != nil {
		r.Active = *in.Active
	}
	return nil
}

// ListMarkets returns active markets, optionally limited to one region.
func (s *Store) ListMarkets(ctx context.Context, regionID uint) ([]models.Market, error) {
	q := s.db.WithContext(ctx).Preload("Region").Where("active = ?", true).Order("name ASC")
	if regionID != 0 {
		q = q.Where("region_id = ?", regionID)
	}
	var markets []models.Market
	if err := q.Find(&markets).Error; err != nil {
		return nil, apperr.Internal("failed to list markets", err)
	}
	return markets, nil
}

func (s *Store) CreateMarket(ctx context.Context, name string, regionID uint) (*models.Market, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("market name is required")
	}
	if _, err := s.GetRegion(ctx, regionID); err != nil {
		return nil, err
	}
	market := models.Market{Name: name, RegionID: regionID, Active: true}
	if err := s.db.WithContext(ctx).Create(&market).Error; err != nil {
		if IsDuplicate(err) {
			return nil, apperr.Conflict("market %q already exists in region %d", name, regionID)
		}
		return nil, apperr.Internal("failed to create market", err)
	}
	return &market, nil
}

// FindOrCreateMarket resolves a market by case-insensitive name within a
// region, creating it when the feed reports one we have not seen.
func FindOrCreateMarket(tx *gorm.DB, name string, regionID uint) (*models.Market, error) {
	name = strings.TrimSpace(name)
	var market models.Market
	err := tx.Where("LOWER(name) = LOWER(?) AND region_id = ?", name, regionID).First(&market).Error
	if err == nil {
		return &market, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	market = models.Market{Name: name, RegionID: regionID, Active: true}
	if err := tx.Create(&market).Error; err != nil {
		return nil, err
	}
	return &market, nil
}
