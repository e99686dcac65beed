package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

// Prediction is the latest forecast for a (crop, region) pair on a given day.
// Rows are upserted on (crop_id, region_id, prediction_date).
type Prediction struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	CropID          uint            `gorm:"column:crop_id;not null;uniqueIndex:idx_predictions_pair_day" json:"crop_id"`
	RegionID        uint            `gorm:"column:region_id;not null;uniqueIndex:idx_predictions_pair_day" json:"region_id"`
	PredictionDate  time.Time       `gorm:"column:prediction_date;type:date;not null;uniqueIndex:idx_predictions_pair_day" json:"prediction_date"`
	CurrentPrice    decimal.Decimal `gorm:"column:current_price;type:numeric(12,2);not null" json:"current_price"`
	PredictedPrice  decimal.Decimal `gorm:"column:predicted_price;type:numeric(12,2);not null" json:"predicted_price"`
	ConfidenceScore float64         `gorm:"column:confidence_score;not null" json:"confidence_score"`
	Trend           Trend           `gorm:"column:trend;type:varchar(16);not null" json:"trend"`
	Recommendation  string          `gorm:"column:recommendation" json:"recommendation"`
	HorizonDays     int             `gorm:"column:horizon_days;not null;default:7" json:"horizon_days"`
	SampleSize      int             `gorm:"column:sample_size;not null" json:"sample_size"`
	Clamped         bool            `gorm:"column:clamped;not null;default:false" json:"clamped"`
	ModelVersion    string          `gorm:"column:model_version;type:varchar(32)" json:"model_version"`
	CreatedAt       time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at" json:"updated_at"`

	Crop   *Crop   `gorm:"foreignKey:CropID" json:"crop,omitempty"`
	Region *Region `gorm:"foreignKey:RegionID" json:"region,omitempty"`
}

func (Prediction) TableName() string { return "predictions" }
