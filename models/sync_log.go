package models

import "time"

type SyncStatus string

const (
	SyncRunning SyncStatus = "running"
	SyncSuccess SyncStatus = "success"
	SyncFailed  SyncStatus = "failed"
)

type SyncTrigger string

const (
	TriggerManual    SyncTrigger = "manual"
	TriggerScheduled SyncTrigger = "scheduled"
	TriggerUpload    SyncTrigger = "upload"
)

// SyncLog is one ingestion run. RunningGuard is true while the run is in
// progress and NULL afterwards; its unique index admits at most one running
// row across all API instances.
type SyncLog struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	RunID         string      `gorm:"column:run_id;type:varchar(36);uniqueIndex;not null" json:"run_id"`
	Trigger       SyncTrigger `gorm:"column:trigger_type;type:varchar(16);not null" json:"trigger"`
	Status        SyncStatus  `gorm:"column:status;type:varchar(16);not null;index" json:"status"`
	StartedAt     time.Time   `gorm:"column:started_at;not null" json:"started_at"`
	CompletedAt   *time.Time  `gorm:"column:completed_at" json:"completed_at"`
	RecordsTotal  int         `gorm:"column:records_total;not null;default:0" json:"records_total"`
	RecordsSynced int         `gorm:"column:records_synced;not null;default:0" json:"records_synced"`
	RecordsFailed int         `gorm:"column:records_failed;not null;default:0" json:"records_failed"`
	ErrorDetail   string      `gorm:"column:error_detail;type:text" json:"error_detail,omitempty"`
	TriggeredBy   *uint       `gorm:"column:triggered_by" json:"triggered_by,omitempty"`
	RunningGuard  *bool       `gorm:"column:running_guard;uniqueIndex" json:"-"`
}

func (SyncLog) TableName() string { return "sync_logs" }
