package model

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IDs are generated in the application so the same schema works on postgres
// and mysql (char(36) columns, no server-side uuid default).

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (p *Plan) BeforeCreate(*gorm.DB) error              { ensureID(&p.ID); return nil }
func (d *PlanDetail) BeforeCreate(*gorm.DB) error        { ensureID(&d.ID); return nil }
func (d *PlanDetailDelay) BeforeCreate(*gorm.DB) error   { ensureID(&d.ID); return nil }
func (r *ReceivingRecord) BeforeCreate(*gorm.DB) error   { ensureID(&r.ID); return nil }
func (d *ReceivingDetail) BeforeCreate(*gorm.DB) error   { ensureID(&d.ID); return nil }
func (h *HistoryPlanDetail) BeforeCreate(*gorm.DB) error { ensureID(&h.ID); return nil }
func (h *HistoryReceiving) BeforeCreate(*gorm.DB) error  { ensureID(&h.ID); return nil }
