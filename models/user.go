package models

import "time"

const (
	RoleFarmer = "farmer"
	RoleAdmin  = "admin"
)

type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"column:email;type:varchar(255);uniqueIndex;not null" json:"email"`
	Password  string    `gorm:"column:password;not null" json:"-"`
	FullName  string    `gorm:"column:full_name;type:varchar(150)" json:"full_name"`
	Phone     string    `gorm:"column:phone;type:varchar(20)" json:"phone,omitempty"`
	Role      string    `gorm:"column:role;type:varchar(16);not null;default:'farmer'" json:"role"`
	RegionID  *uint     `gorm:"column:region_id" json:"region_id,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (User) TableName() string { return "users" }

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

type AdminRequestStatus string

const (
	AdminRequestPending  AdminRequestStatus = "pending"
	AdminRequestApproved AdminRequestStatus = "approved"
	AdminRequestRejected AdminRequestStatus = "rejected"
)

type AdminRequest struct {
	ID         uint               `gorm:"primaryKey" json:"id"`
	UserID     uint               `gorm:"column:user_id;not null;index" json:"user_id"`
	FullName   string             `gorm:"column:full_name;type:varchar(150);not null" json:"full_name"`
	Email      string             `gorm:"column:email;type:varchar(255);not null" json:"email"`
	Phone      string             `gorm:"column:phone;type:varchar(20)" json:"phone,omitempty"`
	Reason     string             `gorm:"column:reason;type:text" json:"reason"`
	Status     AdminRequestStatus `gorm:"column:status;type:varchar(16);not null;default:'pending';index" json:"status"`
	ReviewedBy *uint              `gorm:"column:reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time         `gorm:"column:reviewed_at" json:"reviewed_at,omitempty"`
	ReviewNote string             `gorm:"column:review_note;type:text" json:"review_note,omitempty"`
	CreatedAt  time.Time          `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time          `gorm:"column:updated_at" json:"updated_at"`
}

func (AdminRequest) TableName() string { return "admin_requests" }
