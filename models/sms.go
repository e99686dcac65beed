package models

import "time"

type SMSTemplate struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"column:name;type:varchar(64);uniqueIndex;not null" json:"name"`
	Body      string    `gorm:"column:body;type:text;not null" json:"body"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (SMSTemplate) TableName() string { return "sms_templates" }

type SMSSubscription struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    *uint     `gorm:"column:user_id;index" json:"user_id,omitempty"`
	Phone     string    `gorm:"column:phone;type:varchar(20);not null;uniqueIndex:idx_sms_subscriptions_key" json:"phone"`
	CropID    uint      `gorm:"column:crop_id;not null;uniqueIndex:idx_sms_subscriptions_key" json:"crop_id"`
	RegionID  uint      `gorm:"column:region_id;not null;uniqueIndex:idx_sms_subscriptions_key" json:"region_id"`
	Active    bool      `gorm:"column:active;not null;default:true" json:"active"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (SMSSubscription) TableName() string { return "sms_subscriptions" }

const (
	SMSStatusSent   = "sent"
	SMSStatusFailed = "failed"
)

type SMSLog struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Recipient   string    `gorm:"column:recipient;type:varchar(20);not null;index" json:"recipient"`
	Message     string    `gorm:"column:message;type:text;not null" json:"message"`
	Status      string    `gorm:"column:status;type:varchar(16);not null" json:"status"`
	ProviderRef string    `gorm:"column:provider_ref;type:varchar(64)" json:"provider_ref,omitempty"`
	Error       string    `gorm:"column:error;type:text" json:"error,omitempty"`
	SentBy      *uint     `gorm:"column:sent_by" json:"sent_by,omitempty"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
}

func (SMSLog) TableName() string { return "sms_logs" }

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Crop{},
		&Region{},
		&Market{},
		&PriceEntry{},
		&Prediction{},
		&SyncLog{},
		&AdminRequest{},
		&SMSTemplate{},
		&SMSSubscription{},
		&SMSLog{},
	}
}
