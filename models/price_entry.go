package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PriceSource string

const (
	SourceExternalFeed PriceSource = "external-feed"
	SourceFarmer       PriceSource = "farmer"
	SourceAdmin        PriceSource = "admin"
)

// Trusted reports whether entries from this source skip verification.
func (s PriceSource) Trusted() bool {
	return s == SourceExternalFeed || s == SourceAdmin
}

// PriceEntry is one observed price. The natural key includes the source, so
// for external-feed rows it is the (crop, region, market, entry_date) upsert
// key of the sync pipeline.
type PriceEntry struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	CropID      uint            `gorm:"column:crop_id;not null;uniqueIndex:idx_price_entries_natural_key;index:idx_price_entries_series" json:"crop_id"`
	RegionID    uint            `gorm:"column:region_id;not null;uniqueIndex:idx_price_entries_natural_key;index:idx_price_entries_series" json:"region_id"`
	MarketID    *uint           `gorm:"column:market_id;uniqueIndex:idx_price_entries_natural_key" json:"market_id"`
	EntryDate   time.Time       `gorm:"column:entry_date;type:date;not null;uniqueIndex:idx_price_entries_natural_key;index:idx_price_entries_series" json:"entry_date"`
	Source      PriceSource     `gorm:"column:source;type:varchar(20);not null;uniqueIndex:idx_price_entries_natural_key" json:"source"`
	Price       decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null" json:"price"`
	Unit        string          `gorm:"column:unit;type:varchar(20);not null;default:'kg'" json:"unit"`
	IsVerified  bool            `gorm:"column:is_verified;not null;default:false;index" json:"is_verified"`
	SubmittedBy *uint           `gorm:"column:submitted_by" json:"submitted_by,omitempty"`
	VerifiedBy  *uint           `gorm:"column:verified_by" json:"verified_by,omitempty"`
	VerifiedAt  *time.Time      `gorm:"column:verified_at" json:"verified_at,omitempty"`
	Notes       string          `gorm:"column:notes" json:"notes,omitempty"`
	CreatedAt   time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"column:updated_at" json:"updated_at"`

	Crop   *Crop   `gorm:"foreignKey:CropID" json:"crop,omitempty"`
	Region *Region `gorm:"foreignKey:RegionID" json:"region,omitempty"`
	Market *Market `gorm:"foreignKey:MarketID" json:"market,omitempty"`
}

func (PriceEntry) TableName() string { return "price_entries" }

// Day truncates t to midnight UTC, the granularity of entry and prediction dates.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
