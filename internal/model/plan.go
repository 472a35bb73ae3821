package model

import (
	"time"

	"github.com/google/uuid"
)

// Plan is a production/receiving plan. Exactly one plan is current at a time.
type Plan struct {
	ID            uuid.UUID `gorm:"type:char(36);primaryKey"`
	Name          string    `gorm:"type:varchar(100);not null"`
	EffectiveDate time.Time `gorm:"not null"`
	IsCurrent     bool      `gorm:"not null;default:false;index"`
	CreatedAt     time.Time

	Details []PlanDetail `gorm:"foreignKey:PlanID"`
}

// PlanDetail is one expected delivery slot of a plan.
type PlanDetail struct {
	ID           uuid.UUID `gorm:"type:char(36);primaryKey"`
	PlanID       uuid.UUID `gorm:"type:char(36);not null;index"`
	SupplierCode string    `gorm:"type:varchar(20);not null"`
	DeliveryTime time.Time `gorm:"not null"`
	LeadTime     time.Duration
	WeekDay      int `gorm:"not null"`
}

// PlanDetailDelay records a plan detail being moved from one date to another.
type PlanDetailDelay struct {
	ID           uuid.UUID `gorm:"type:char(36);primaryKey"`
	PlanDetailID uuid.UUID `gorm:"type:char(36);not null;index"`
	OldDate      time.Time `gorm:"not null"`
	NewDate      time.Time `gorm:"not null"`
	RequestedBy  string    `gorm:"type:varchar(100)"`
	CreatedAt    time.Time

	PlanDetail *PlanDetail `gorm:"foreignKey:PlanDetailID;constraint:OnDelete:CASCADE"`
}
