package model

import (
	"time"

	"github.com/google/uuid"
)

// HistoryPlanDetail is a write-once daily copy of a plan detail.
type HistoryPlanDetail struct {
	ID           uuid.UUID `gorm:"type:char(36);primaryKey"`
	PlanDetailID uuid.UUID `gorm:"type:char(36);not null;index"`
	PlanID       uuid.UUID `gorm:"type:char(36);not null"`
	SupplierCode string    `gorm:"type:varchar(20);not null"`
	DeliveryTime time.Time `gorm:"not null"`
	LeadTime     time.Duration
	WeekDay      int       `gorm:"not null"`
	ArchivedDate time.Time `gorm:"type:date;not null;index"`
	CreatedAt    time.Time
}

// HistoryReceiving is the snapshot of a receiving record taken when it was created.
type HistoryReceiving struct {
	ID                 uuid.UUID `gorm:"type:char(36);primaryKey"`
	ReceivingRecordID  uuid.UUID `gorm:"type:char(36);not null;index"`
	SupplierCode       string    `gorm:"type:varchar(20);not null"`
	AsnNumber          *string   `gorm:"type:varchar(50)"`
	DoNumber           *string   `gorm:"type:varchar(50)"`
	Invoice            *string   `gorm:"type:varchar(50)"`
	IsCompleted        bool      `gorm:"not null"`
	ActualDeliveryTime time.Time `gorm:"not null"`
	TagName            string    `gorm:"type:varchar(50);not null"`
	PlanID             *uuid.UUID `gorm:"type:char(36)"`
	CreatedAt          time.Time
}
