package model

import (
	"time"

	"github.com/google/uuid"
)

// ReceivingRecord is the ledger aggregate for one physically received shipment.
// It is created on the first receive edge of an advice and its identity columns
// never change afterwards; only the completion/storage state and the detail lines move.
type ReceivingRecord struct {
	ID                 uuid.UUID      `gorm:"type:char(36);primaryKey"`
	SupplierCode       string         `gorm:"type:varchar(20);not null;index:idx_receiving_identity"`
	AsnNumber          *string        `gorm:"type:varchar(50);index:idx_receiving_identity"`
	DoNumber           *string        `gorm:"type:varchar(50);index:idx_receiving_identity"`
	Invoice            *string        `gorm:"type:varchar(50);index:idx_receiving_identity"`
	IsCompleted        bool           `gorm:"not null;default:false;index"`
	ActualDeliveryTime time.Time      `gorm:"not null"`
	ActualLeadTime     *time.Duration // elapsed since ActualDeliveryTime while incomplete
	TagName            string         `gorm:"type:varchar(50);not null"`
	PlanID             *uuid.UUID     `gorm:"type:char(36);index"`
	StorageTime        *time.Time
	IsStored           bool `gorm:"not null;default:false;index"`
	CreatedAt          time.Time
	UpdatedAt          time.Time

	Supplier *Supplier         `gorm:"foreignKey:SupplierCode;references:SupplierCode"`
	Details  []ReceivingDetail `gorm:"foreignKey:ReceivingRecordID;constraint:OnDelete:CASCADE"`
}

// Triple returns the stored identity keys with NULLs mapped to "".
func (r *ReceivingRecord) Triple() IdentityTriple {
	return IdentityTriple{
		AsnNumber: StringValue(r.AsnNumber),
		DoNumber:  StringValue(r.DoNumber),
		Invoice:   StringValue(r.Invoice),
	}
}

// SupplierName falls back to the code when the supplier row was not preloaded.
func (r *ReceivingRecord) SupplierName() string {
	if r.Supplier != nil && r.Supplier.SupplierName != "" {
		return r.Supplier.SupplierName
	}
	return r.SupplierCode
}

// ReceivingDetail is one part number line of a receiving record.
type ReceivingDetail struct {
	ID                uuid.UUID `gorm:"type:char(36);primaryKey"`
	ReceivingRecordID uuid.UUID `gorm:"type:char(36);not null;uniqueIndex:idx_detail_record_part"`
	PartNo            string    `gorm:"type:varchar(50);not null;uniqueIndex:idx_detail_record_part"`
	Quantity          int       `gorm:"not null"`
	QuantityRemain    int       `gorm:"not null"`
	QuantityScan      int       `gorm:"not null"`
	StockInStatus     bool      `gorm:"not null;default:false"`
	StockInLocation   *string   `gorm:"type:varchar(50)"`
}

// StockedIn reports whether the line has been put away into a location.
func (d *ReceivingDetail) StockedIn() bool {
	return d.StockInStatus && StringValue(d.StockInLocation) != ""
}
