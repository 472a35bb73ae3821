package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/LougLynx/RIG-SYSTEM/internal/model"
)

// ─── Response DTOs ───────────────────────────────────────────────────────────

type ReceivingDetailResponse struct {
	PartNo          string  `json:"part_no"`
	Quantity        int     `json:"quantity"`
	QuantityRemain  int     `json:"quantity_remain"`
	QuantityScan    int     `json:"quantity_scan"`
	StockInStatus   bool    `json:"stock_in_status"`
	StockInLocation *string `json:"stock_in_location,omitempty"`
}

// ReceivingResponse is the projected view of a receiving record pushed to the
// dashboards and returned by the ops API.
type ReceivingResponse struct {
	ID                 string                    `json:"id"`
	SupplierCode       string                    `json:"supplier_code"`
	SupplierName       string                    `json:"supplier_name"`
	AsnNumber          *string                   `json:"asn_number,omitempty"`
	DoNumber           *string                   `json:"do_number,omitempty"`
	Invoice            *string                   `json:"invoice,omitempty"`
	TagName            string                    `json:"tag_name"`
	PlanID             *string                   `json:"plan_id,omitempty"`
	IsCompleted        bool                      `json:"is_completed"`
	IsStored           bool                      `json:"is_stored"`
	ActualDeliveryTime time.Time                 `json:"actual_delivery_time"`
	ActualLeadTimeSecs *int64                    `json:"actual_lead_time_seconds,omitempty"`
	StorageTime        *time.Time                `json:"storage_time,omitempty"`
	TotalQuantity      int                       `json:"total_quantity"`
	TotalScanned       int                       `json:"total_scanned"`
	ScanPercentage     decimal.Decimal           `json:"scan_percentage"`
	Details            []ReceivingDetailResponse `json:"details"`
}

var hundred = decimal.NewFromInt(100)

// NewReceivingResponse projects a record. Details must be loaded for the scan
// totals to be meaningful.
func NewReceivingResponse(r *model.ReceivingRecord) ReceivingResponse {
	resp := ReceivingResponse{
		ID:                 r.ID.String(),
		SupplierCode:       r.SupplierCode,
		SupplierName:       r.SupplierName(),
		AsnNumber:          r.AsnNumber,
		DoNumber:           r.DoNumber,
		Invoice:            r.Invoice,
		TagName:            r.TagName,
		IsCompleted:        r.IsCompleted,
		IsStored:           r.IsStored,
		ActualDeliveryTime: r.ActualDeliveryTime,
		StorageTime:        r.StorageTime,
		ScanPercentage:     decimal.Zero,
		Details:            make([]ReceivingDetailResponse, 0, len(r.Details)),
	}
	if r.PlanID != nil {
		id := r.PlanID.String()
		resp.PlanID = &id
	}
	if r.ActualLeadTime != nil {
		secs := int64(r.ActualLeadTime.Seconds())
		resp.ActualLeadTimeSecs = &secs
	}

	for _, d := range r.Details {
		resp.TotalQuantity += d.Quantity
		resp.TotalScanned += d.QuantityScan
		resp.Details = append(resp.Details, ReceivingDetailResponse{
			PartNo:          d.PartNo,
			Quantity:        d.Quantity,
			QuantityRemain:  d.QuantityRemain,
			QuantityScan:    d.QuantityScan,
			StockInStatus:   d.StockInStatus,
			StockInLocation: d.StockInLocation,
		})
	}
	if resp.TotalQuantity > 0 {
		resp.ScanPercentage = decimal.NewFromInt(int64(resp.TotalScanned)).
			Mul(hundred).
			Div(decimal.NewFromInt(int64(resp.TotalQuantity))).
			Round(2)
	}
	return resp
}

type ReceivingListResponse struct {
	Data  []ReceivingResponse `json:"data"`
	Total int                 `json:"total"`
}
