package dto

import "time"

// ─── Request DTOs ────────────────────────────────────────────────────────────

type DelayPlanDetailRequest struct {
	NewDate time.Time `json:"new_date" validate:"required"`
	Reason  *string   `json:"reason"   validate:"omitempty,max=200"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type PlanDetailDelayResponse struct {
	ID           string    `json:"id"`
	PlanDetailID string    `json:"plan_detail_id"`
	OldDate      time.Time `json:"old_date"`
	NewDate      time.Time `json:"new_date"`
	RequestedBy  string    `json:"requested_by"`
	CreatedAt    time.Time `json:"created_at"`
}
