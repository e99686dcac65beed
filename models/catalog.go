package models

import "time"

type Crop struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"column:name;type:varchar(100);uniqueIndex;not null" json:"name"`
	Category  string    `gorm:"column:category;type:varchar(50)" json:"category"`
	Unit      string    `gorm:"column:unit;type:varchar(20);not null;default:'kg'" json:"unit"`
	Active    bool      `gorm:"column:active;not null;default:true" json:"active"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Crop) TableName() string { return "crops" }

type Region struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"column:name;type:varchar(100);uniqueIndex;not null" json:"name"`
	Grouping  string    `gorm:"column:grouping_name;type:varchar(100)" json:"grouping"`
	Active    bool      `gorm:"column:active;not null;default:true" json:"active"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Region) TableName() string { return "regions" }

type Market struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"column:name;type:varchar(100);not null;uniqueIndex:idx_markets_name_region" json:"name"`
	RegionID  uint      `gorm:"column:region_id;not null;uniqueIndex:idx_markets_name_region" json:"region_id"`
	Active    bool      `gorm:"column:active;not null;default:true" json:"active"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`

	Region *Region `gorm:"foreignKey:RegionID" json:"region,omitempty"`
}

func (Market) TableName() string { return "markets" }
