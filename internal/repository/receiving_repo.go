package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/LougLynx/RIG-SYSTEM/internal/model"
)

// DetailPatch carries the field-level changes for one persisted detail line.
// Nil fields are left untouched.
type DetailPatch struct {
	Quantity        *int
	QuantityRemain  *int
	QuantityScan    *int
	StockInStatus   *bool
	StockInLocation *string
}

// IsEmpty reports whether the patch would not change anything.
func (p DetailPatch) IsEmpty() bool {
	return p.Quantity == nil && p.QuantityRemain == nil && p.QuantityScan == nil &&
		p.StockInStatus == nil && p.StockInLocation == nil
}

func (p DetailPatch) columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if p.Quantity != nil {
		cols["quantity"] = *p.Quantity
	}
	if p.QuantityRemain != nil {
		cols["quantity_remain"] = *p.QuantityRemain
	}
	if p.QuantityScan != nil {
		cols["quantity_scan"] = *p.QuantityScan
	}
	if p.StockInStatus != nil {
		cols["stock_in_status"] = *p.StockInStatus
	}
	if p.StockInLocation != nil {
		cols["stock_in_location"] = model.OptionalString(*p.StockInLocation)
	}
	return cols
}

// ReceivingRepository is the ledger of receiving records and their detail lines.
// Every method surfaces failures to the caller; nothing retries internally.
type ReceivingRepository interface {
	// FindByIdentity returns gorm.ErrRecordNotFound when no record carries the key.
	FindByIdentity(ctx context.Context, supplierCode string, key model.IdentityTriple) (*model.ReceivingRecord, error)
	FindByID(ctx context.Context, id uuid.UUID) (*model.ReceivingRecord, error)
	Create(ctx context.Context, r *model.ReceivingRecord) error
	UpsertSupplier(ctx context.Context, s *model.Supplier) error

	CreateDetail(ctx context.Context, d *model.ReceivingDetail) error
	DeleteDetailsByRecord(ctx context.Context, recordID uuid.UUID) error
	ListDetails(ctx context.Context, recordID uuid.UUID) ([]model.ReceivingDetail, error)
	PatchDetail(ctx context.Context, detailID uuid.UUID, patch DetailPatch) error

	UpdateCompletion(ctx context.Context, id uuid.UUID, completed bool) error
	UpdateLeadTime(ctx context.Context, id uuid.UUID, lead time.Duration) error
	UpdateStorageTime(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdateStored(ctx context.Context, id uuid.UUID, stored bool) error

	// ListIncomplete returns open records with their detail lines.
	ListIncomplete(ctx context.Context) ([]model.ReceivingRecord, error)
	// ListUnstored returns completed records whose lines are not all stocked in.
	ListUnstored(ctx context.Context) ([]model.ReceivingRecord, error)
	ListDeliveredBetween(ctx context.Context, from, to time.Time) ([]model.ReceivingRecord, error)

	ArchiveToHistory(ctx context.Context, r *model.ReceivingRecord) error
}

type receivingRepo struct{ db *gorm.DB }

func NewReceivingRepository(db *gorm.DB) ReceivingRepository { return &receivingRepo{db: db} }

// keyColumn adds "col = ?" or "col IS NULL"; absent keys are stored as NULL.
func keyColumn(q *gorm.DB, col, value string) *gorm.DB {
	if value == "" {
		return q.Where(col + " IS NULL")
	}
	return q.Where(col+" = ?", value)
}

func (r *receivingRepo) FindByIdentity(ctx context.Context, supplierCode string, key model.IdentityTriple) (*model.ReceivingRecord, error) {
	q := r.db.WithContext(ctx).Preload("Supplier").Where("supplier_code = ?", supplierCode)
	q = keyColumn(q, "asn_number", key.AsnNumber)
	q = keyColumn(q, "do_number", key.DoNumber)
	q = keyColumn(q, "invoice", key.Invoice)

	var rec model.ReceivingRecord
	if err := q.Order("created_at").First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *receivingRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.ReceivingRecord, error) {
	var rec model.ReceivingRecord
	err := r.db.WithContext(ctx).
		Preload("Supplier").
		Preload("Details", func(db *gorm.DB) *gorm.DB { return db.Order("part_no") }).
		First(&rec, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *receivingRepo) Create(ctx context.Context, rec *model.ReceivingRecord) error {
	// details are inserted one by one by the caller
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(rec).Error
}

// UpsertSupplier keeps the supplier master in step with the names the feed reports.
func (r *receivingRepo) UpsertSupplier(ctx context.Context, s *model.Supplier) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "supplier_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"supplier_name"}),
	}).Create(s).Error
}

func (r *receivingRepo) CreateDetail(ctx context.Context, d *model.ReceivingDetail) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *receivingRepo) DeleteDetailsByRecord(ctx context.Context, recordID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("receiving_record_id = ?", recordID).
		Delete(&model.ReceivingDetail{}).Error
}

func (r *receivingRepo) ListDetails(ctx context.Context, recordID uuid.UUID) ([]model.ReceivingDetail, error) {
	var details []model.ReceivingDetail
	err := r.db.WithContext(ctx).
		Where("receiving_record_id = ?", recordID).
		Order("part_no").
		Find(&details).Error
	return details, err
}

func (r *receivingRepo) PatchDetail(ctx context.Context, detailID uuid.UUID, patch DetailPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&model.ReceivingDetail{}).
		Where("id = ?", detailID).
		Updates(patch.columns()).Error
}

func (r *receivingRepo) UpdateCompletion(ctx context.Context, id uuid.UUID, completed bool) error {
	return r.db.WithContext(ctx).
		Model(&model.ReceivingRecord{}).
		Where("id = ?", id).
		Update("is_completed", completed).Error
}

func (r *receivingRepo) UpdateLeadTime(ctx context.Context, id uuid.UUID, lead time.Duration) error {
	return r.db.WithContext(ctx).
		Model(&model.ReceivingRecord{}).
		Where("id = ?", id).
		Update("actual_lead_time", lead).Error
}

func (r *receivingRepo) UpdateStorageTime(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.ReceivingRecord{}).
		Where("id = ?", id).
		Update("storage_time", at).Error
}

func (r *receivingRepo) UpdateStored(ctx context.Context, id uuid.UUID, stored bool) error {
	return r.db.WithContext(ctx).
		Model(&model.ReceivingRecord{}).
		Where("id = ?", id).
		Update("is_stored", stored).Error
}

func (r *receivingRepo) ListIncomplete(ctx context.Context) ([]model.ReceivingRecord, error) {
	var recs []model.ReceivingRecord
	err := r.db.WithContext(ctx).
		Preload("Supplier").
		Preload("Details", func(db *gorm.DB) *gorm.DB { return db.Order("part_no") }).
		Where("is_completed = ?", false).
		Order("actual_delivery_time").
		Find(&recs).Error
	return recs, err
}

func (r *receivingRepo) ListUnstored(ctx context.Context) ([]model.ReceivingRecord, error) {
	var recs []model.ReceivingRecord
	err := r.db.WithContext(ctx).
		Preload("Supplier").
		Where("is_completed = ? AND is_stored = ?", true, false).
		Order("actual_delivery_time").
		Find(&recs).Error
	return recs, err
}

func (r *receivingRepo) ListDeliveredBetween(ctx context.Context, from, to time.Time) ([]model.ReceivingRecord, error) {
	var recs []model.ReceivingRecord
	err := r.db.WithContext(ctx).
		Preload("Supplier").
		Preload("Details", func(db *gorm.DB) *gorm.DB { return db.Order("part_no") }).
		Where("actual_delivery_time >= ? AND actual_delivery_time < ?", from, to).
		Order("actual_delivery_time").
		Find(&recs).Error
	return recs, err
}

func (r *receivingRepo) ArchiveToHistory(ctx context.Context, rec *model.ReceivingRecord) error {
	h := model.HistoryReceiving{
		ReceivingRecordID:  rec.ID,
		SupplierCode:       rec.SupplierCode,
		AsnNumber:          rec.AsnNumber,
		DoNumber:           rec.DoNumber,
		Invoice:            rec.Invoice,
		IsCompleted:        rec.IsCompleted,
		ActualDeliveryTime: rec.ActualDeliveryTime,
		TagName:            rec.TagName,
		PlanID:             rec.PlanID,
	}
	return r.db.WithContext(ctx).Create(&h).Error
}
