package gormstore

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Resource represents the resources table.
type Resource struct {
	ResourceID   string         `gorm:"primaryKey;size:64"`
	Name         string         `gorm:"size:255;not null"`
	Capacity     int            `gorm:"not null"`
	ResourceType string         `gorm:"column:resource_type;size:16;not null"`
	AccessLevel  string         `gorm:"size:16;not null"`
	Metadata     datatypes.JSON `gorm:"not null"`
	CreatedAt    time.Time      `gorm:"not null;index:idx_resources_created,priority:1"`
	UpdatedAt    time.Time      `gorm:"not null"`
}

func (Resource) TableName() string { return "resources" }

// Holder represents the holders table.
type Holder struct {
	HolderID            string    `gorm:"primaryKey;size:64"`
	Role                string    `gorm:"size:16;not null"`
	TelegramChatID      *int64    `gorm:""`
	ActivationTokenHash string    `gorm:"size:255;not null"`
	CreatedAt           time.Time `gorm:"not null"`
	UpdatedAt           time.Time `gorm:"not null"`
}

func (Holder) TableName() string { return "holders" }

// Reservation mirrors the reservations table. Dates are stored as
// YYYY-MM-DD so lexical order is calendar order.
type Reservation struct {
	ReservationID   string    `gorm:"primaryKey;size:64"`
	ResourceID      string    `gorm:"size:64;not null;index:idx_reservations_resource_date,priority:1"`
	HolderID        string    `gorm:"size:64;not null;index:idx_reservations_holder_date,priority:1"`
	ReservationDate string    `gorm:"type:varchar(10);not null;index:idx_reservations_resource_date,priority:2;index:idx_reservations_holder_date,priority:2"`
	StartSecond     int       `gorm:"not null"`
	EndSecond       int       `gorm:"not null"`
	Activated       bool      `gorm:"not null"`
	NotifiedStart   bool      `gorm:"not null"`
	NotifiedEnd     bool      `gorm:"not null"`
	Version         int64     `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null"`
}

func (Reservation) TableName() string { return "reservations" }

// ScopeLock holds one row per admission scope key. Dialects without
// advisory locks serialize admissions with SELECT ... FOR UPDATE on it.
type ScopeLock struct {
	ScopeKey string `gorm:"primaryKey;size:191"`
}

func (ScopeLock) TableName() string { return "scope_locks" }

// AutoMigrate creates or updates every table used by Store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Resource{}, &Holder{}, &Reservation{}, &ScopeLock{})
}
