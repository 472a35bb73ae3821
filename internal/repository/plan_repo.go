package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/LougLynx/RIG-SYSTEM/internal/model"
)

// PlanRepository reads plan data for record creation and writes the daily
// plan history and reschedule requests.
type PlanRepository interface {
	ListTagRules(ctx context.Context) ([]model.TagRule, error)
	FindCurrentPlan(ctx context.Context) (*model.Plan, error)
	// ArchivePlanDetails copies the current plan's details into history for day.
	// A day that was already archived is left alone and reports 0 rows.
	ArchivePlanDetails(ctx context.Context, day time.Time) (int64, error)

	FindPlanDetail(ctx context.Context, id uuid.UUID) (*model.PlanDetail, error)
	// Reschedule records the delay and moves the plan detail in one transaction.
	Reschedule(ctx context.Context, delay *model.PlanDetailDelay) error
}

type planRepo struct{ db *gorm.DB }

func NewPlanRepository(db *gorm.DB) PlanRepository { return &planRepo{db: db} }

func (r *planRepo) ListTagRules(ctx context.Context) ([]model.TagRule, error) {
	var rules []model.TagRule
	err := r.db.WithContext(ctx).Find(&rules).Error
	return rules, err
}

func (r *planRepo) FindCurrentPlan(ctx context.Context) (*model.Plan, error) {
	var p model.Plan
	err := r.db.WithContext(ctx).
		Where("is_current = ?", true).
		Order("effective_date DESC").
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *planRepo) ArchivePlanDetails(ctx context.Context, day time.Time) (int64, error) {
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	var archived int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&model.HistoryPlanDetail{}).
			Where("archived_date = ?", day).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}

		var details []model.PlanDetail
		if err := tx.Joins("JOIN plans ON plans.id = plan_details.plan_id AND plans.is_current = ?", true).
			Order("plan_details.delivery_time").
			Find(&details).Error; err != nil {
			return err
		}
		if len(details) == 0 {
			return nil
		}

		history := make([]model.HistoryPlanDetail, 0, len(details))
		for _, d := range details {
			history = append(history, model.HistoryPlanDetail{
				PlanDetailID: d.ID,
				PlanID:       d.PlanID,
				SupplierCode: d.SupplierCode,
				DeliveryTime: d.DeliveryTime,
				LeadTime:     d.LeadTime,
				WeekDay:      d.WeekDay,
				ArchivedDate: day,
			})
		}
		res := tx.CreateInBatches(history, 200)
		archived = res.RowsAffected
		return res.Error
	})
	return archived, err
}

func (r *planRepo) FindPlanDetail(ctx context.Context, id uuid.UUID) (*model.PlanDetail, error) {
	var d model.PlanDetail
	if err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *planRepo) Reschedule(ctx context.Context, delay *model.PlanDetailDelay) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("PlanDetail").Create(delay).Error; err != nil {
			return err
		}
		return tx.Model(&model.PlanDetail{}).
			Where("id = ?", delay.PlanDetailID).
			Update("delivery_time", delay.NewDate).Error
	})
}
